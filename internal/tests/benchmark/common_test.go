package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
	"github.com/yndnr/syncroom-go/internal/core/presence"
	"github.com/yndnr/syncroom-go/internal/eventbus"
	"github.com/yndnr/syncroom-go/internal/storage/memory"
)

// ConnectorCounts are the directory sizes benchmarks run against.
var ConnectorCounts = []int{1000, 10000}

type fixture struct {
	bus     *eventbus.Local
	dir     *presence.Directory
	manager *arbiter.Manager
}

func newFixture(b *testing.B) *fixture {
	b.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.NewLocal(eventbus.LocalConfig{Node: "bench", Logger: logger})
	dir, err := presence.NewDirectory(presence.Config{
		Node:   "bench",
		Store:  memory.NewConnectorStore(),
		Bus:    bus,
		Logger: logger,
	})
	if err != nil {
		b.Fatalf("NewDirectory failed: %v", err)
	}
	manager := arbiter.NewManager(arbiter.ManagerConfig{Bus: bus, Logger: logger})
	b.Cleanup(func() {
		manager.Stop()
		dir.Stop()
		_ = bus.Close()
	})
	return &fixture{bus: bus, dir: dir, manager: manager}
}

// prefill registers count connectors spread over 100 owners and returns
// their ids.
func (f *fixture) prefill(b *testing.B, count int) []string {
	b.Helper()
	ctx := context.Background()
	ids := make([]string, count)
	for i := range ids {
		c, err := f.dir.Register(ctx, "", domain.ConnectorAttrs{
			Name:    fmt.Sprintf("bench-%d", i),
			Type:    domain.ConnectorWeb,
			OwnerID: fmt.Sprintf("owner-%d", i%100),
		}, presence.NewLocalHandle("bench"))
		if err != nil {
			b.Fatalf("Register failed: %v", err)
		}
		ids[i] = c.ID
	}
	return ids
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
}

func runWithConnectorCounts(b *testing.B, benchFn func(b *testing.B, count int)) {
	for _, count := range ConnectorCounts {
		b.Run(fmt.Sprintf("connectors_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
