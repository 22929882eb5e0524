package arbiter

import (
	"encoding/json"
	"time"
)

// ViewerCamera is the only 3D viewer action.
const ViewerCamera = "camera"

// Vec3 is a 3D vector.
type Vec3 [3]float64

func (v Vec3) finite() bool {
	return finite(v[0]) && finite(v[1]) && finite(v[2])
}

func (v Vec3) zero() bool {
	return v[0] == 0 && v[1] == 0 && v[2] == 0
}

// ViewerPayload is the shared camera of a 3D viewer.
type ViewerPayload struct {
	Position Vec3    `json:"position"`
	Target   Vec3    `json:"target"`
	Up       Vec3    `json:"up"`
	Zoom     float64 `json:"zoom"`
}

// ViewerDelta moves the camera. Omitted fields keep their value.
type ViewerDelta struct {
	Action   string   `json:"action"`
	Position *Vec3    `json:"position,omitempty"`
	Target   *Vec3    `json:"target,omitempty"`
	Up       *Vec3    `json:"up,omitempty"`
	Zoom     *float64 `json:"zoom,omitempty"`
}

// NewViewerPayload returns a camera looking at the origin from +Z.
func NewViewerPayload() ViewerPayload {
	return ViewerPayload{
		Position: Vec3{0, 0, 10},
		Up:       Vec3{0, 1, 0},
		Zoom:     1,
	}
}

// Apply implements Payload.
func (v ViewerPayload) Apply(delta json.RawMessage, _ time.Time) (ViewerPayload, error) {
	var d ViewerDelta
	if err := decodeDelta(delta, &d); err != nil {
		return v, err
	}
	if d.Action != ViewerCamera {
		return v, invalidDelta("unknown viewer action %q", d.Action)
	}

	next := v
	if d.Position != nil {
		if !d.Position.finite() {
			return v, invalidDelta("position is not finite")
		}
		next.Position = *d.Position
	}
	if d.Target != nil {
		if !d.Target.finite() {
			return v, invalidDelta("target is not finite")
		}
		next.Target = *d.Target
	}
	if d.Up != nil {
		if !d.Up.finite() || d.Up.zero() {
			return v, invalidDelta("up must be a finite non-zero vector")
		}
		next.Up = *d.Up
	}
	if d.Zoom != nil {
		if !finite(*d.Zoom) || *d.Zoom <= 0 {
			return v, invalidDelta("zoom must be positive")
		}
		next.Zoom = *d.Zoom
	}
	if next.Position == next.Target {
		return v, invalidDelta("camera position equals target")
	}
	return next, nil
}
