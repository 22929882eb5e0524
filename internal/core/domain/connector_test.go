package domain

import (
	"strings"
	"testing"
)

func TestGenerateConnectorID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateConnectorID()
		if err != nil {
			t.Fatalf("GenerateConnectorID() error = %v", err)
		}
		if !strings.HasPrefix(id, ConnectorIDPrefix) {
			t.Errorf("id %q missing prefix", id)
		}
		if len(id) != 31 {
			t.Errorf("id %q length = %d, want 31", id, len(id))
		}
		if id != strings.ToLower(id) {
			t.Errorf("id %q is not lowercase", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewConnector(t *testing.T) {
	t.Run("generated id", func(t *testing.T) {
		c, err := NewConnector("", ConnectorAttrs{Name: "Studio", Type: ConnectorWeb})
		if err != nil {
			t.Fatalf("NewConnector() error = %v", err)
		}
		if !strings.HasPrefix(c.ID, ConnectorIDPrefix) {
			t.Errorf("ID = %q", c.ID)
		}
		if c.Status != StatusOnline {
			t.Errorf("Status = %q, want online", c.Status)
		}
		if c.CreatedAt == 0 || c.LastSeen == 0 {
			t.Error("timestamps should be set")
		}
	})

	t.Run("explicit id defaults type", func(t *testing.T) {
		c, err := NewConnector("abc", ConnectorAttrs{})
		if err != nil {
			t.Fatalf("NewConnector() error = %v", err)
		}
		if c.ID != "abc" {
			t.Errorf("ID = %q, want abc", c.ID)
		}
		if c.Type != ConnectorOther {
			t.Errorf("Type = %q, want other", c.Type)
		}
		if err := c.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

func TestConnector_SetStatusAndTouch(t *testing.T) {
	c, _ := NewConnector("abc", ConnectorAttrs{})

	if c.SetStatus(StatusOnline) {
		t.Error("SetStatus(online) on online connector should report no change")
	}
	if !c.SetStatus(StatusOffline) {
		t.Error("SetStatus(offline) should report change")
	}
	if c.IsOnline() {
		t.Error("IsOnline() should be false after going offline")
	}

	status := c.Status
	c.Touch()
	if c.Status != status {
		t.Error("Touch must not change status")
	}
}

func TestConnector_Clone(t *testing.T) {
	c, _ := NewConnector("abc", ConnectorAttrs{Features: []string{"ble", "imu"}})
	cp := c.Clone()
	cp.Features[0] = "changed"
	cp.Name = "other"

	if c.Features[0] != "ble" {
		t.Error("Clone should deep copy features")
	}
	if c.Name == "other" {
		t.Error("Clone should not share struct")
	}
	var nilConn *Connector
	if nilConn.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestConnector_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Connector)
		wantErr bool
	}{
		{"valid", func(c *Connector) {}, false},
		{"missing id", func(c *Connector) { c.ID = "" }, true},
		{"id with slash", func(c *Connector) { c.ID = "a/b" }, true},
		{"long name", func(c *Connector) { c.Name = strings.Repeat("n", MaxConnectorNameLength+1) }, true},
		{"bad status", func(c *Connector) { c.Status = "gone" }, true},
		{"too many features", func(c *Connector) { c.Features = make([]string, MaxFeatures+1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewConnector("abc", ConnectorAttrs{Name: "ok"})
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsDomainError(err, ErrConnectorValidation.Code) {
				t.Errorf("error code = %q", GetErrorCode(err))
			}
		})
	}
}

func TestParseConnectorStatusAndType(t *testing.T) {
	if s, err := ParseConnectorStatus("IDLE"); err != nil || s != StatusIdle {
		t.Errorf("ParseConnectorStatus(IDLE) = %q, %v", s, err)
	}
	if _, err := ParseConnectorStatus("away"); err == nil {
		t.Error("ParseConnectorStatus(away) should fail")
	}
	if ParseConnectorType("Rust") != ConnectorRust {
		t.Error("ParseConnectorType(Rust) should be rust")
	}
	if ParseConnectorType("toaster") != ConnectorOther {
		t.Error("unknown type should map to other")
	}
}

func TestConnectorFilter_Matches(t *testing.T) {
	c := &Connector{ID: "a", OwnerID: "u1", Status: StatusOnline}

	tests := []struct {
		name   string
		filter ConnectorFilter
		want   bool
	}{
		{"empty", ConnectorFilter{}, true},
		{"owner match", ConnectorFilter{OwnerID: "u1"}, true},
		{"owner mismatch", ConnectorFilter{OwnerID: "u2"}, false},
		{"status match", ConnectorFilter{Status: StatusOnline}, true},
		{"status mismatch", ConnectorFilter{Status: StatusOffline}, false},
		{"both", ConnectorFilter{OwnerID: "u1", Status: StatusOnline}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(c); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
