package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// connectorPrefix namespaces connector records in the KV engine.
const connectorPrefix = "connector/"

// ConnectorStore persists connector identities as JSON records in a KVEngine.
type ConnectorStore struct {
	kv KVEngine
}

// NewConnectorStore creates a store over kv.
func NewConnectorStore(kv KVEngine) *ConnectorStore {
	return &ConnectorStore{kv: kv}
}

func connectorKey(id string) []byte {
	return []byte(connectorPrefix + id)
}

// Get returns the connector with id or domain.ErrConnectorNotFound.
func (s *ConnectorStore) Get(ctx context.Context, id string) (*domain.Connector, error) {
	raw, err := s.kv.Get(ctx, connectorKey(id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrConnectorNotFound.WithDetails(id)
		}
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return decodeConnector(raw)
}

// Create inserts a new connector. Returns domain.ErrConnectorConflict
// if the id is already taken.
func (s *ConnectorStore) Create(ctx context.Context, c *domain.Connector) error {
	if err := c.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if err := s.kv.SetIfAbsent(ctx, connectorKey(c.ID), raw); err != nil {
		if errors.Is(err, ErrKeyExists) {
			return domain.ErrConnectorConflict.WithDetails(c.ID)
		}
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// Update overwrites an existing connector.
func (s *ConnectorStore) Update(ctx context.Context, c *domain.Connector) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := s.kv.Get(ctx, connectorKey(c.ID)); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return domain.ErrConnectorNotFound.WithDetails(c.ID)
		}
		return domain.ErrStorageError.WithCause(err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	if err := s.kv.Set(ctx, connectorKey(c.ID), raw); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// Delete physically removes a connector. Only used for explicit user
// deletion; disconnects go through a status change instead.
func (s *ConnectorStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, connectorKey(id)); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// List returns connectors matching filter, ordered by id.
func (s *ConnectorStore) List(ctx context.Context, filter domain.ConnectorFilter) ([]*domain.Connector, error) {
	var (
		out     []*domain.Connector
		scanErr error
	)
	err := s.kv.Scan(ctx, []byte(connectorPrefix), func(_, value []byte) bool {
		c, err := decodeConnector(value)
		if err != nil {
			scanErr = err
			return false
		}
		if filter.Matches(c) {
			out = append(out, c)
		}
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	if scanErr != nil {
		return nil, scanErr
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func decodeConnector(raw []byte) (*domain.Connector, error) {
	var c domain.Connector
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, domain.ErrStorageError.WithCause(fmt.Errorf("decode connector: %w", err))
	}
	return &c, nil
}
