package domain

import (
	"fmt"
	"strings"
)

// ResourceKind identifies the kind of collaborative resource in a room.
type ResourceKind string

const (
	KindMedia      ResourceKind = "media"
	KindWhiteboard ResourceKind = "whiteboard"
	KindViewer3D   ResourceKind = "viewer3d"
)

// ResourceKinds lists every supported kind.
var ResourceKinds = []ResourceKind{KindMedia, KindWhiteboard, KindViewer3D}

// ParseResourceKind validates a kind name.
func ParseResourceKind(s string) (ResourceKind, error) {
	k := ResourceKind(strings.ToLower(s))
	for _, known := range ResourceKinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrUnknownResourceKind.WithDetails(s)
}

// ResourceID addresses one collaborative resource: one kind per room.
type ResourceID struct {
	Kind   ResourceKind `json:"kind"`
	RoomID string       `json:"room_id"`
}

// String renders the id as "<kind>:<room>".
func (r ResourceID) String() string {
	return string(r.Kind) + ":" + r.RoomID
}

// ParseResourceID parses the "<kind>:<room>" form produced by String.
func ParseResourceID(s string) (ResourceID, error) {
	kind, room, ok := strings.Cut(s, ":")
	if !ok || room == "" {
		return ResourceID{}, ErrInvalidArgument.WithDetails(fmt.Sprintf("malformed resource id %q", s))
	}
	k, err := ParseResourceKind(kind)
	if err != nil {
		return ResourceID{}, err
	}
	return ResourceID{Kind: k, RoomID: room}, nil
}

// Actor is an identity that can hold or request a control lease.
// ID is usually a connector ID; Name is the display name shown to others.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool {
	return a.ID == ""
}
