package arbiter

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Whiteboard actions.
const (
	WhiteboardStroke = "stroke"
	WhiteboardUndo   = "undo"
	WhiteboardClear  = "clear"
)

// Whiteboard limits.
const (
	MaxStrokes         = 5000
	MaxPointsPerStroke = 4096
)

// Point is a 2D coordinate on the drawing surface.
type Point [2]float64

// Stroke is one continuous line.
type Stroke struct {
	ID     string  `json:"id"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
}

// WhiteboardPayload is the ordered list of strokes on a shared surface.
type WhiteboardPayload struct {
	Strokes []Stroke `json:"strokes"`
}

// WhiteboardDelta is a drawing command.
type WhiteboardDelta struct {
	Action string  `json:"action"`
	Stroke *Stroke `json:"stroke,omitempty"`
}

// NewWhiteboardPayload returns an empty surface.
func NewWhiteboardPayload() WhiteboardPayload {
	return WhiteboardPayload{Strokes: []Stroke{}}
}

// Apply implements Payload. Strokes are never mutated in place, so states
// handed out earlier stay valid.
func (w WhiteboardPayload) Apply(delta json.RawMessage, _ time.Time) (WhiteboardPayload, error) {
	var d WhiteboardDelta
	if err := decodeDelta(delta, &d); err != nil {
		return w, err
	}

	switch d.Action {
	case WhiteboardStroke:
		if d.Stroke == nil {
			return w, invalidDelta("stroke action requires a stroke")
		}
		s := *d.Stroke
		if err := validateStroke(&s); err != nil {
			return w, err
		}
		if len(w.Strokes) >= MaxStrokes {
			return w, invalidDelta("whiteboard is full (%d strokes)", MaxStrokes)
		}
		strokes := make([]Stroke, len(w.Strokes), len(w.Strokes)+1)
		copy(strokes, w.Strokes)
		return WhiteboardPayload{Strokes: append(strokes, s)}, nil

	case WhiteboardUndo:
		if len(w.Strokes) == 0 {
			return w, nil
		}
		strokes := make([]Stroke, len(w.Strokes)-1)
		copy(strokes, w.Strokes)
		return WhiteboardPayload{Strokes: strokes}, nil

	case WhiteboardClear:
		return NewWhiteboardPayload(), nil
	}
	return w, invalidDelta("unknown whiteboard action %q", d.Action)
}

func validateStroke(s *Stroke) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Color == "" {
		s.Color = "#000000"
	}
	if s.Width <= 0 || math.IsNaN(s.Width) || math.IsInf(s.Width, 0) {
		return invalidDelta("stroke width must be positive")
	}
	if len(s.Points) == 0 {
		return invalidDelta("stroke has no points")
	}
	if len(s.Points) > MaxPointsPerStroke {
		return invalidDelta("stroke exceeds %d points", MaxPointsPerStroke)
	}
	for _, p := range s.Points {
		if !finite(p[0]) || !finite(p[1]) {
			return invalidDelta("stroke point is not finite")
		}
	}
	s.Points = append([]Point(nil), s.Points...)
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
