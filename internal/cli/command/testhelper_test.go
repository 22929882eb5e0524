package command

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/urfave/cli/v2"
)

// mockServer is an admin API stand-in answering with envelopes.
type mockServer struct {
	*httptest.Server
	mux  *http.ServeMux
	hits atomic.Int32
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{mux: http.NewServeMux()}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)
		m.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) handle(pattern string, handler http.HandlerFunc) {
	m.mux.HandleFunc(pattern, handler)
}

// okResponse writes a success envelope around data.
func okResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":       "OK",
		"message":    "Success",
		"request_id": "req-test",
		"timestamp":  1,
		"data":       data,
	})
}

// errorResponse writes an error envelope.
func errorResponse(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":       code,
		"message":    message,
		"request_id": "req-test",
		"timestamp":  1,
	})
}

// runCLI runs the app against server with the given arguments and stdin.
func runCLI(t *testing.T, server, stdin string, args ...string) (string, error) {
	t.Helper()
	app := App()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	app.Reader = strings.NewReader(stdin)
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := []string{"syncroom-cli"}
	if server != "" {
		full = append(full, "--server", server)
	}
	err := app.Run(append(full, args...))
	return out.String(), err
}

func sampleConnector(id, status string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       "Device " + id,
		"type":       "web",
		"owner_id":   "alice",
		"status":     status,
		"features":   []string{"video", "chat"},
		"last_seen":  1760000000000,
		"created_at": 1750000000000,
		"updated_at": 1760000000000,
	}
}
