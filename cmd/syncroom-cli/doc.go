// Package main provides the entry point for syncroom-cli.
//
// The CLI talks to the HTTP API of a syncroom-server node for:
//
//   - Connector inspection and administration (list, status, unregister)
//   - Cluster membership and process groups
//   - Room resource state
//
// Usage:
//
//	syncroom-cli [global flags] command [flags] [args]
//	syncroom-cli -s 10.0.0.5:5080 connector list --status online
//	syncroom-cli -o json resource state room-42 media
package main
