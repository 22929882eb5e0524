// Package command defines the syncroom-cli commands on urfave/cli/v2.
//
//   - root.go: the App, global flags and shared helpers
//   - connector.go: connector list, get, status, location, heartbeat, unregister
//   - cluster.go: cluster members and group membership
//   - resource.go: room resource listing and arbiter state
//   - version.go: build information
//
// Every action resolves a client from the global flags, calls the admin
// API and renders the result with the formatter picked by --output.
package command
