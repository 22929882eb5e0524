// Package main provides the entry point for syncroom-server.
//
// The server hosts the presence directory and the control arbiters of
// every room on this node, and exposes:
//
//   - A websocket gateway for connectors (register, control, updates)
//   - An HTTP API for administration and read access
//   - Prometheus metrics on /metrics
//   - Optional gossip membership and a NATS event bridge for clusters
//
// Usage:
//
//	syncroom-server [flags]
//	syncroom-server -config /etc/syncroom/server.yaml
//
// Every configuration key can be overridden by an environment variable,
// e.g. SYNCROOM_STORAGE_DRIVER=memory.
package main
