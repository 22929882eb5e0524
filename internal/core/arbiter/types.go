package arbiter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// Ack is the immediate answer to a lease operation. Eventual outcomes such
// as a timeout transfer arrive as events, never as an Ack.
type Ack string

const (
	AckControlGranted    Ack = "control_granted"
	AckAlreadyController Ack = "already_controller"
	AckRequestPending    Ack = "request_pending"
	AckReleased          Ack = "released"
	AckRequestDismissed  Ack = "request_dismissed"
	AckRequestCancelled  Ack = "request_cancelled"
	AckUpdated           Ack = "updated"
	AckUnchanged         Ack = "unchanged"
)

// Transition reasons carried on controller_changed events.
const (
	ReasonTake           = "take"
	ReasonRelease        = "release"
	ReasonTimeout        = "timeout"
	ReasonAutoClaim      = "auto_claim"
	ReasonControllerLeft = "controller_left"
	ReasonRequesterLeft  = "requester_left"
	ReasonKeep           = "keep"
	ReasonCancel         = "cancel"
)

// DisconnectPolicy decides what happens to a lease when its holder's
// session ends.
type DisconnectPolicy string

const (
	// PolicyRelease hands control to the pending requester, or leaves the
	// resource uncontrolled, as soon as the controller disconnects.
	PolicyRelease DisconnectPolicy = "release"
	// PolicyRetain keeps a disconnected controller until a request outlasts
	// the timeout.
	PolicyRetain DisconnectPolicy = "retain"
)

// ParseDisconnectPolicy validates a policy name. Empty means PolicyRelease.
func ParseDisconnectPolicy(s string) (DisconnectPolicy, error) {
	switch p := DisconnectPolicy(strings.ToLower(s)); p {
	case "":
		return PolicyRelease, nil
	case PolicyRelease, PolicyRetain:
		return p, nil
	}
	return "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown disconnect policy %q", s))
}

// Pending is an outstanding control request.
type Pending struct {
	Requester domain.Actor `json:"requester"`
	Deadline  time.Time    `json:"deadline"`
}

// State is a point-in-time view of one resource.
type State[P any] struct {
	Resource   domain.ResourceID `json:"resource"`
	Controller *domain.Actor     `json:"controller"`
	Pending    *Pending          `json:"pending,omitempty"`
	Payload    P                 `json:"payload"`
	Version    uint64            `json:"version"`
}

// Controlled reports whether some actor holds the lease.
func (s State[P]) Controlled() bool { return s.Controller != nil }

// Snapshot is State with the payload already encoded, used where the
// payload type is not known statically.
type Snapshot = State[json.RawMessage]

// ControlEvent is the payload of lease events.
type ControlEvent struct {
	Resource   string        `json:"resource"`
	Controller *domain.Actor `json:"controller"`
	Previous   *domain.Actor `json:"previous,omitempty"`
	Requester  *domain.Actor `json:"requester,omitempty"`
	// Deadline is the request expiry in Unix milliseconds.
	Deadline int64  `json:"deadline,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// UpdateEvent is the payload of state_updated events.
type UpdateEvent[P any] struct {
	Resource string       `json:"resource"`
	Version  uint64       `json:"version"`
	By       domain.Actor `json:"by"`
	Payload  P            `json:"payload"`
}
