// Package presence implements the presence directory: the per-node bridge
// between durable connector identities and the ephemeral processes that
// currently serve them.
//
// Durable identity lives in a Store. Which process and node handle a
// connector is held only in memory as a Binding, owned by a single
// Directory goroutine. Bindings disappear when the process dies, when its
// node leaves the cluster, or on explicit unregister, and the identity is
// moved to offline rather than deleted.
package presence

import (
	"context"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// Store is the persistent store contract for connector identities.
//
// Implementations return domain.ErrConnectorNotFound for unknown ids,
// domain.ErrConnectorConflict on duplicate creates, and wrap backend
// failures in domain.ErrStorageError.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Connector, error)
	Create(ctx context.Context, c *domain.Connector) error
	Update(ctx context.Context, c *domain.Connector) error
	List(ctx context.Context, filter domain.ConnectorFilter) ([]*domain.Connector, error)
}
