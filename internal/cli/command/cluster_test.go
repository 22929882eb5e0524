package command

import (
	"net/http"
	"strings"
	"testing"
)

func TestClusterMembers(t *testing.T) {
	server := newMockServer(t)
	server.handle("GET /cluster/members", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, map[string]any{
			"local": "n1",
			"members": []any{
				map[string]any{"name": "n1", "gossip_addr": "10.0.0.1:7946", "state": "alive", "local": true,
					"meta": map[string]any{"http_addr": "10.0.0.1:5080", "version": "v1.2.0"}},
				map[string]any{"name": "n2", "gossip_addr": "10.0.0.2:7946", "state": "suspect",
					"meta": map[string]any{"http_addr": "10.0.0.2:5080"}},
			},
		})
	})

	out, err := runCLI(t, server.URL, "", "cluster", "members")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "n1") || !strings.HasSuffix(strings.TrimSpace(lines[1]), "*") {
		t.Errorf("local node not marked: %q", lines[1])
	}
	if !strings.Contains(lines[2], "suspect") || !strings.Contains(lines[2], "10.0.0.2:5080") {
		t.Errorf("unexpected row: %q", lines[2])
	}
	if strings.Contains(out, "v1.2.0") {
		t.Error("version column shown without --wide")
	}
	if !strings.Contains(out, "Answered by: n1") {
		t.Errorf("missing footer:\n%s", out)
	}

	out, err = runCLI(t, server.URL, "", "-o", "yaml", "cluster", "members")
	if err != nil {
		t.Fatalf("run yaml: %v", err)
	}
	if !strings.Contains(out, "local: n1") || !strings.Contains(out, "http_addr:") || !strings.Contains(out, "10.0.0.1:5080") {
		t.Errorf("unexpected yaml:\n%s", out)
	}
}

func TestClusterGroup(t *testing.T) {
	server := newMockServer(t)
	server.handle("GET /cluster/groups/{group}", func(w http.ResponseWriter, r *http.Request) {
		group := r.PathValue("group")
		members := []any{}
		if group == "connector:c1" {
			members = append(members, map[string]any{"id": "h-1", "node": "n2"})
		}
		okResponse(w, map[string]any{"group": group, "members": members})
	})

	out, err := runCLI(t, server.URL, "", "cluster", "group", "connector:c1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "CONNECTOR") || !strings.Contains(out, "h-1") || !strings.Contains(out, "n2") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = runCLI(t, server.URL, "", "cluster", "group", "connector:none")
	if err != nil {
		t.Fatalf("run empty: %v", err)
	}
	if !strings.Contains(out, "Group connector:none has no members.") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := runCLI(t, server.URL, "", "cluster", "group"); err == nil {
		t.Error("expected error without a group")
	}
}
