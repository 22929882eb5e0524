// Package tlsroots loads TLS material for syncroom-server.
//
//   - roots.go: trust roots (system pool plus extra CA files) for outbound
//     connections such as the NATS event bus
//   - keypair.go: the HTTP listener's certificate, swapped in place when
//     the files change on disk
package tlsroots
