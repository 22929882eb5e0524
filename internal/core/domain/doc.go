// Package domain defines the core domain models for SyncRoom.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - Connector: durable connector identity with soft-delete status
//   - ResourceID / ResourceKind: addressing of collaborative resources
//   - Actor: an identity allowed to hold a control lease
//   - Errors: coded domain errors shared by every layer
package domain
