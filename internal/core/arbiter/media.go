package arbiter

import (
	"encoding/json"
	"math"
	"time"
)

// Media actions.
const (
	MediaPlay  = "play"
	MediaPause = "pause"
	MediaSeek  = "seek"
	MediaLoad  = "load"
	MediaRate  = "rate"
)

const maxPlaybackRate = 4.0

// MediaPayload is the state of a synchronized media player. PositionMS is
// the playhead at UpdatedAt; while playing, clients extrapolate from there.
type MediaPayload struct {
	Item       string  `json:"item,omitempty"`
	PositionMS int64   `json:"position_ms"`
	Playing    bool    `json:"playing"`
	Rate       float64 `json:"rate"`
	UpdatedAt  int64   `json:"updated_at"`
}

// MediaDelta is a media player command.
type MediaDelta struct {
	Action     string   `json:"action"`
	Item       string   `json:"item,omitempty"`
	PositionMS *int64   `json:"position_ms,omitempty"`
	Rate       *float64 `json:"rate,omitempty"`
}

// NewMediaPayload returns a stopped player with nothing loaded.
func NewMediaPayload() MediaPayload {
	return MediaPayload{Rate: 1}
}

// Position returns the playhead at now.
func (m MediaPayload) Position(now time.Time) int64 {
	if !m.Playing || m.UpdatedAt == 0 {
		return m.PositionMS
	}
	elapsed := now.UnixMilli() - m.UpdatedAt
	if elapsed < 0 {
		elapsed = 0
	}
	rate := m.Rate
	if rate <= 0 {
		rate = 1
	}
	return m.PositionMS + int64(float64(elapsed)*rate)
}

// Apply implements Payload.
func (m MediaPayload) Apply(delta json.RawMessage, now time.Time) (MediaPayload, error) {
	var d MediaDelta
	if err := decodeDelta(delta, &d); err != nil {
		return m, err
	}

	next := m
	next.PositionMS = m.Position(now)
	next.UpdatedAt = now.UnixMilli()
	if next.Rate <= 0 {
		next.Rate = 1
	}

	switch d.Action {
	case MediaPlay:
		if next.Item == "" {
			return m, invalidDelta("nothing loaded")
		}
		next.Playing = true
		if d.PositionMS != nil {
			if *d.PositionMS < 0 {
				return m, invalidDelta("position_ms must not be negative")
			}
			next.PositionMS = *d.PositionMS
		}

	case MediaPause:
		next.Playing = false
		if d.PositionMS != nil {
			if *d.PositionMS < 0 {
				return m, invalidDelta("position_ms must not be negative")
			}
			next.PositionMS = *d.PositionMS
		}

	case MediaSeek:
		if d.PositionMS == nil || *d.PositionMS < 0 {
			return m, invalidDelta("seek requires a non-negative position_ms")
		}
		next.PositionMS = *d.PositionMS

	case MediaLoad:
		if d.Item == "" {
			return m, invalidDelta("load requires an item")
		}
		next.Item = d.Item
		next.PositionMS = 0
		next.Playing = false

	case MediaRate:
		if d.Rate == nil || math.IsNaN(*d.Rate) || *d.Rate <= 0 || *d.Rate > maxPlaybackRate {
			return m, invalidDelta("rate must be in (0, %g]", maxPlaybackRate)
		}
		next.Rate = *d.Rate

	default:
		return m, invalidDelta("unknown media action %q", d.Action)
	}
	return next, nil
}
