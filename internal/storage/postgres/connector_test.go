package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter domain.ConnectorFilter
		where  string
		args   int
	}{
		{"all", domain.ConnectorFilter{}, "", 0},
		{"owner", domain.ConnectorFilter{OwnerID: "u1"}, " WHERE owner_id = $1", 1},
		{"status", domain.ConnectorFilter{Status: domain.StatusOnline}, " WHERE status = $1", 1},
		{"both", domain.ConnectorFilter{OwnerID: "u1", Status: domain.StatusIdle}, " WHERE owner_id = $1 AND status = $2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			assert.Equal(t, "SELECT "+selectColumns+" FROM connectors"+tt.where+" ORDER BY id", query)
			assert.Len(t, args, tt.args)
		})
	}
}

// TestConnectorStore_Integration runs against a real database when
// SYNCROOM_TEST_POSTGRES_DSN is set.
func TestConnectorStore_Integration(t *testing.T) {
	dsn := os.Getenv("SYNCROOM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SYNCROOM_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewConnectorStore(ctx, dsn, DefaultPoolConfig())
	require.NoError(t, err)
	defer store.Close()

	id, err := domain.GenerateConnectorID()
	require.NoError(t, err)

	c, err := domain.NewConnector(id, domain.ConnectorAttrs{Name: "pg", OwnerID: "u-pg", Features: []string{"imu"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Delete(context.Background(), id) })

	require.NoError(t, store.Create(ctx, c))
	assert.True(t, domain.IsDomainError(store.Create(ctx, c), domain.ErrConnectorConflict.Code))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"imu"}, got.Features)

	got.SetStatus(domain.StatusOffline)
	require.NoError(t, store.Update(ctx, got))

	list, err := store.List(ctx, domain.ConnectorFilter{OwnerID: "u-pg", Status: domain.StatusOffline})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}
