// Package tests holds multi-node integration tests. They start real
// gossip listeners and an embedded NATS server, so they are skipped with
// -short.
package tests
