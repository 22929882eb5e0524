// Package memory provides an in-memory connector store.
//
// It is used in tests and with storage.driver=memory for single-node
// development. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/pkg/cmap"
)

// ConnectorStore keeps connectors in a sharded map.
type ConnectorStore struct {
	connectors *cmap.Map[*domain.Connector]

	// failWith makes every call return this error (tests only).
	failWith atomic.Pointer[error]
}

// NewConnectorStore creates an empty store.
func NewConnectorStore() *ConnectorStore {
	return &ConnectorStore{connectors: cmap.New[*domain.Connector]()}
}

// FailWith makes every subsequent call fail with err; nil restores normal
// behavior. It simulates a degraded persistent store.
func (s *ConnectorStore) FailWith(err error) {
	if err == nil {
		s.failWith.Store(nil)
		return
	}
	s.failWith.Store(&err)
}

func (s *ConnectorStore) failure() error {
	if p := s.failWith.Load(); p != nil {
		return domain.ErrStorageError.WithCause(*p)
	}
	return nil
}

// Get returns a clone of the stored connector.
func (s *ConnectorStore) Get(_ context.Context, id string) (*domain.Connector, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	c, ok := s.connectors.Get(id)
	if !ok {
		return nil, domain.ErrConnectorNotFound.WithDetails(id)
	}
	return c.Clone(), nil
}

// Create inserts a new connector.
func (s *ConnectorStore) Create(_ context.Context, c *domain.Connector) error {
	if err := s.failure(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if _, existed := s.connectors.GetOrCreate(c.ID, c.Clone); existed {
		return domain.ErrConnectorConflict.WithDetails(c.ID)
	}
	return nil
}

// Update overwrites an existing connector.
func (s *ConnectorStore) Update(_ context.Context, c *domain.Connector) error {
	if err := s.failure(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if !s.connectors.Has(c.ID) {
		return domain.ErrConnectorNotFound.WithDetails(c.ID)
	}
	s.connectors.Set(c.ID, c.Clone())
	return nil
}

// Delete removes a connector.
func (s *ConnectorStore) Delete(_ context.Context, id string) error {
	if err := s.failure(); err != nil {
		return err
	}
	if _, ok := s.connectors.Pop(id); !ok {
		return domain.ErrConnectorNotFound.WithDetails(id)
	}
	return nil
}

// List returns connectors matching filter, ordered by id.
func (s *ConnectorStore) List(_ context.Context, filter domain.ConnectorFilter) ([]*domain.Connector, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	var out []*domain.Connector
	s.connectors.Range(func(_ string, c *domain.Connector) bool {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op.
func (s *ConnectorStore) Close() error { return nil }
