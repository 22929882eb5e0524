package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
)

var nodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,62}$`)

// ResolveNodeID returns the configured node id, or generates one when it is
// empty. A single-node deployment uses the host name so restarts keep the
// same identity.
func ResolveNodeID(cluster ClusterSection) (string, error) {
	if cluster.NodeID != "" {
		if !nodeIDPattern.MatchString(cluster.NodeID) {
			return "", fmt.Errorf("cluster.node_id %q is not a valid node name", cluster.NodeID)
		}
		return cluster.NodeID, nil
	}
	if !cluster.Enabled {
		if host, err := os.Hostname(); err == nil && nodeIDPattern.MatchString(host) {
			return host, nil
		}
	}
	return generateNodeID()
}

// generateNodeID generates a unique node identifier.
//
// Format: srnode-<16 hex chars> (e.g., "srnode-a1b2c3d4e5f67890")
func generateNodeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "srnode-" + hex.EncodeToString(buf), nil
}
