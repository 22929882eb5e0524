package storage

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func newTestEngine(t *testing.T) *BadgerEngine {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cfg := DefaultKVConfig(tmpDir)
	cfg.Badger.GCInterval = 0 // Disable auto GC for tests
	cfg.Badger.SyncWrites = false

	engine, err := NewBadgerEngine(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngine_BasicOperations(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("k"), []byte("v")); err != nil {
			t.Fatal(err)
		}
		got, err := engine.Get(ctx, []byte("k"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v" {
			t.Errorf("expected v, got %s", got)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		_, err := engine.Get(ctx, []byte("non-existent"))
		if err != ErrKeyNotFound {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		if err := engine.SetIfAbsent(ctx, []byte("once"), []byte("1")); err != nil {
			t.Fatal(err)
		}
		if err := engine.SetIfAbsent(ctx, []byte("once"), []byte("2")); err != ErrKeyExists {
			t.Errorf("expected ErrKeyExists, got %v", err)
		}
		got, _ := engine.Get(ctx, []byte("once"))
		if string(got) != "1" {
			t.Errorf("value overwritten: %s", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("del"), []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := engine.Delete(ctx, []byte("del")); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, []byte("del")); err != ErrKeyNotFound {
			t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
		}
	})
}

func TestBadgerEngine_Scan(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for k, v := range map[string]string{
		"connector/1": "a",
		"connector/2": "b",
		"connector/3": "c",
		"meta/x":      "d",
	} {
		if err := engine.Set(ctx, []byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("Scan with prefix", func(t *testing.T) {
		var n int
		err := engine.Scan(ctx, []byte("connector/"), func(key, value []byte) bool {
			n++
			return true
		})
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("expected 3 results, got %d", n)
		}
	})

	t.Run("Scan with early stop", func(t *testing.T) {
		var n int
		_ = engine.Scan(ctx, []byte("connector/"), func(key, value []byte) bool {
			n++
			return false
		})
		if n != 1 {
			t.Errorf("expected 1 result, got %d", n)
		}
	})
}

func TestBadgerEngine_GCAndStats(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.GC(ctx); err != nil {
		t.Fatalf("GC() error = %v", err)
	}
	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.LastGCTime == 0 {
		t.Error("LastGCTime should be set after GC")
	}
	if len(engine.Collectors()) != 3 {
		t.Errorf("expected 3 collectors")
	}
}

func TestBadgerEngine_Closed(t *testing.T) {
	engine, err := NewBadgerEngine(KVConfig{InMemory: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := engine.Get(context.Background(), []byte("k")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNewBadgerEngine_RequiresDir(t *testing.T) {
	if _, err := NewBadgerEngine(KVConfig{}, nil); err == nil {
		t.Error("expected error without dir")
	}
}
