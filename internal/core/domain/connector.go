package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Connector constraints.
const (
	MaxConnectorIDLength   = 128
	MaxConnectorNameLength = 256
	MaxOwnerIDLength       = 128
	MaxFeatures            = 32
	MaxFeatureLength       = 64

	// ConnectorIDPrefix is the prefix for generated connector IDs.
	ConnectorIDPrefix = "srcn-"
)

// ConnectorStatus is the durable liveness status of a connector.
// Records are never deleted on disconnect; they move to StatusOffline.
type ConnectorStatus string

const (
	StatusOnline  ConnectorStatus = "online"
	StatusOffline ConnectorStatus = "offline"
	StatusIdle    ConnectorStatus = "idle"
)

// Valid reports whether s is a known status.
func (s ConnectorStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusIdle:
		return true
	}
	return false
}

// ParseConnectorStatus converts a string to a ConnectorStatus.
func ParseConnectorStatus(s string) (ConnectorStatus, error) {
	st := ConnectorStatus(strings.ToLower(s))
	if !st.Valid() {
		return "", ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// ConnectorType classifies the client behind a connector.
type ConnectorType string

const (
	ConnectorWeb       ConnectorType = "web"
	ConnectorMobile    ConnectorType = "mobile"
	ConnectorIoT       ConnectorType = "iot"
	ConnectorPython    ConnectorType = "python"
	ConnectorRust      ConnectorType = "rust"
	ConnectorSimulator ConnectorType = "simulator"
	ConnectorOther     ConnectorType = "other"
)

// ParseConnectorType maps a client-supplied type to a known ConnectorType.
// Unknown or empty values become ConnectorOther.
func ParseConnectorType(s string) ConnectorType {
	switch t := ConnectorType(strings.ToLower(s)); t {
	case ConnectorWeb, ConnectorMobile, ConnectorIoT, ConnectorPython,
		ConnectorRust, ConnectorSimulator:
		return t
	}
	return ConnectorOther
}

// Connector is the durable identity of a client session.
type Connector struct {
	// ID is the unique identifier. Generated IDs use srcn-{ulid_lowercase}.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	Type ConnectorType `json:"type"`

	// OwnerID optionally references the user that owns this connector.
	OwnerID string `json:"owner_id,omitempty"`

	Status ConnectorStatus `json:"status"`

	// Features lists the capabilities the client announced on join.
	Features []string `json:"features,omitempty"`

	// LastSeen is the last heartbeat timestamp (Unix milliseconds).
	LastSeen int64 `json:"last_seen"`

	// CreatedAt is the creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the last status transition timestamp (Unix milliseconds).
	UpdatedAt int64 `json:"updated_at"`
}

// ConnectorAttrs are the client-supplied attributes used on registration.
type ConnectorAttrs struct {
	Name     string
	Type     ConnectorType
	OwnerID  string
	Features []string
}

// NewConnector creates an online connector. An empty id gets a generated one.
func NewConnector(id string, attrs ConnectorAttrs) (*Connector, error) {
	if id == "" {
		var err error
		if id, err = GenerateConnectorID(); err != nil {
			return nil, err
		}
	}

	now := time.Now().UnixMilli()
	c := &Connector{
		ID:        id,
		CreatedAt: now,
		LastSeen:  now,
		UpdatedAt: now,
		Status:    StatusOnline,
	}
	c.ApplyAttrs(attrs)
	return c, nil
}

// ApplyAttrs overwrites descriptive fields with the non-empty attrs values.
func (c *Connector) ApplyAttrs(attrs ConnectorAttrs) {
	if attrs.Name != "" {
		c.Name = attrs.Name
	}
	if attrs.Type != "" {
		c.Type = attrs.Type
	}
	if c.Type == "" {
		c.Type = ConnectorOther
	}
	if attrs.OwnerID != "" {
		c.OwnerID = attrs.OwnerID
	}
	if attrs.Features != nil {
		c.Features = append([]string(nil), attrs.Features...)
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateConnectorID generates a new connector ID using ULID.
// Format: srcn-{ulid_lowercase}, 31 characters total.
func GenerateConnectorID() (string, error) {
	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return ConnectorIDPrefix + strings.ToLower(id.String()), nil
}

// SetStatus transitions the connector to status and stamps UpdatedAt.
// It reports whether the status actually changed.
func (c *Connector) SetStatus(status ConnectorStatus) bool {
	changed := c.Status != status
	c.Status = status
	c.UpdatedAt = time.Now().UnixMilli()
	return changed
}

// Touch updates LastSeen only.
func (c *Connector) Touch() {
	c.LastSeen = time.Now().UnixMilli()
}

// IsOnline reports whether the connector is marked online.
func (c *Connector) IsOnline() bool {
	return c.Status == StatusOnline
}

// Clone returns a deep copy.
func (c *Connector) Clone() *Connector {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Features != nil {
		cp.Features = append([]string(nil), c.Features...)
	}
	return &cp
}

// Validate validates the connector fields against constraints.
// Returns ErrConnectorValidation listing every violation.
func (c *Connector) Validate() error {
	var violations []string

	if c.ID == "" {
		violations = append(violations, "id is required")
	}
	if len(c.ID) > MaxConnectorIDLength {
		violations = append(violations, "id exceeds 128 characters")
	}
	if strings.ContainsAny(c.ID, "/ \t\n") {
		violations = append(violations, "id contains invalid characters")
	}
	if len(c.Name) > MaxConnectorNameLength {
		violations = append(violations, "name exceeds 256 characters")
	}
	if len(c.OwnerID) > MaxOwnerIDLength {
		violations = append(violations, "owner_id exceeds 128 characters")
	}
	if !c.Status.Valid() {
		violations = append(violations, fmt.Sprintf("status %q is invalid", c.Status))
	}
	if len(c.Features) > MaxFeatures {
		violations = append(violations, "too many features")
	}
	for _, f := range c.Features {
		if len(f) > MaxFeatureLength {
			violations = append(violations, fmt.Sprintf("feature %q exceeds 64 characters", f))
			break
		}
	}

	if len(violations) > 0 {
		return ErrConnectorValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// ConnectorFilter selects connectors in list queries. Zero fields match all.
type ConnectorFilter struct {
	OwnerID string
	Status  ConnectorStatus
}

// Matches reports whether c satisfies the filter.
func (f ConnectorFilter) Matches(c *Connector) bool {
	if f.OwnerID != "" && c.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}
