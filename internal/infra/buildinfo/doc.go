// Package buildinfo exposes version information for syncroom binaries.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/syncroom-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Commit and build time fall back to the VCS stamp embedded by the Go
// toolchain.
package buildinfo
