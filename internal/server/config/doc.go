// Package config defines the syncroom-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation (validator tags plus cross-section rules)
//   - sanitize.go: credential masking for logs
//   - node.go: node identity resolution
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and SYNCROOM_* environment variables.
package config
