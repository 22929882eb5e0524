// Package httpserver provides the HTTP server of syncroom-server.
//
// One listener serves:
//
//   - Connector endpoints: /connectors, /connectors/{id}, /connectors/{id}/location,
//     and the POST status, heartbeat and unregister actions
//   - Cluster endpoints: /cluster/members, /cluster/groups/{group}
//   - Room endpoints: /rooms, /rooms/{room}/{kind}
//   - Health endpoints: /health, /ready, /metrics
//   - The websocket gateway, mounted at the configured path (default /ws)
//
// Middleware: Recover, RequestID, Metrics, per-IP RateLimit, Audit, CORS on
// reads and a NetworkACL on the mutating endpoints.
package httpserver
