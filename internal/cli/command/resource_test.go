package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/syncroom-go/internal/cli/output"
)

func TestResourceState(t *testing.T) {
	deadline := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	server := newMockServer(t)
	server.handle("GET /rooms/{room}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("room") != "r1" {
			errorResponse(w, http.StatusNotFound, "SR-RES-4040", "resource not found")
			return
		}
		okResponse(w, map[string]any{
			"resource":   map[string]any{"kind": r.PathValue("kind"), "room_id": "r1"},
			"controller": map[string]any{"id": "c1", "name": "Alice"},
			"pending": map[string]any{
				"requester": map[string]any{"id": "c2"},
				"deadline":  deadline,
			},
			"payload": map[string]any{"position": 1500, "playing": true},
			"version": 4,
		})
	})

	out, err := runCLI(t, server.URL, "", "resource", "state", "r1", "Media")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{
		"media:r1",
		"Alice (c1)",
		"c2",
		deadline.Local().Format(output.TimeLayout),
		`"position":1500`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, server.URL, "", "-o", "json", "resource", "state", "r1", "media")
	if err != nil {
		t.Fatalf("run json: %v", err)
	}
	var snap struct {
		Version uint64 `json:"version"`
		Payload struct {
			Position int `json:"position"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if snap.Version != 4 || snap.Payload.Position != 1500 {
		t.Errorf("decoded %+v", snap)
	}

	_, err = runCLI(t, server.URL, "", "resource", "state", "r9", "media")
	if err == nil || !strings.Contains(err.Error(), "SR-RES-4040") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestResourceState_Uncontrolled(t *testing.T) {
	server := newMockServer(t)
	server.handle("GET /rooms/{room}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, map[string]any{
			"resource":   map[string]any{"kind": "whiteboard", "room_id": "r1"},
			"controller": nil,
			"payload":    map[string]any{},
			"version":    0,
		})
	})

	out, err := runCLI(t, server.URL, "", "resource", "state", "r1", "whiteboard")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "CONTROLLER") && strings.TrimSpace(strings.TrimPrefix(line, "CONTROLLER")) != "-" {
			t.Errorf("expected no controller, got %q", line)
		}
	}
}

func TestResourceState_BadKind(t *testing.T) {
	server := newMockServer(t)
	_, err := runCLI(t, server.URL, "", "resource", "state", "r1", "audio")
	if err == nil || !strings.Contains(err.Error(), "SR-RES-4001") {
		t.Errorf("expected unknown kind, got %v", err)
	}
	if server.hits.Load() != 0 {
		t.Error("no request expected")
	}
}

func TestResourceList(t *testing.T) {
	server := newMockServer(t)
	var empty atomic.Bool
	server.handle("GET /rooms", func(w http.ResponseWriter, r *http.Request) {
		if empty.Load() {
			okResponse(w, map[string]any{"resources": []any{}})
			return
		}
		okResponse(w, map[string]any{"resources": []any{
			map[string]any{"kind": "media", "room_id": "r1"},
			map[string]any{"kind": "viewer3d", "room_id": "r2"},
		}})
	})

	out, err := runCLI(t, server.URL, "", "resource", "list")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "ROOM") || !strings.Contains(out, "viewer3d") {
		t.Errorf("unexpected output:\n%s", out)
	}

	empty.Store(true)
	out, err = runCLI(t, server.URL, "", "resource", "list")
	if err != nil {
		t.Fatalf("run empty: %v", err)
	}
	if !strings.Contains(out, "No active resources.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
