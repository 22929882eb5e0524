package arbiter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

func TestMediaPayload_Apply(t *testing.T) {
	t0 := time.UnixMilli(1_000_000)
	m := NewMediaPayload()

	_, err := m.Apply(json.RawMessage(`{"action":"play"}`), t0)
	assert.ErrorIs(t, err, domain.ErrInvalidDelta, "nothing loaded")

	m, err = m.Apply(json.RawMessage(`{"action":"load","item":"movie.mp4"}`), t0)
	require.NoError(t, err)
	assert.Equal(t, "movie.mp4", m.Item)
	assert.False(t, m.Playing)

	m, err = m.Apply(json.RawMessage(`{"action":"play"}`), t0)
	require.NoError(t, err)
	assert.True(t, m.Playing)
	assert.Equal(t, int64(2500), m.Position(t0.Add(2500*time.Millisecond)))

	m, err = m.Apply(json.RawMessage(`{"action":"rate","rate":2}`), t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.PositionMS)
	assert.Equal(t, int64(3000), m.Position(t0.Add(2*time.Second)))

	m, err = m.Apply(json.RawMessage(`{"action":"pause"}`), t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, m.Playing)
	assert.Equal(t, int64(3000), m.Position(t0.Add(time.Hour)))

	m, err = m.Apply(json.RawMessage(`{"action":"seek","position_ms":42}`), t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(42), m.PositionMS)

	tests := []struct {
		name  string
		delta string
	}{
		{"empty", ``},
		{"unknown action", `{"action":"rewind"}`},
		{"unknown field", `{"action":"seek","position_ms":1,"speed":3}`},
		{"seek without position", `{"action":"seek"}`},
		{"negative seek", `{"action":"seek","position_ms":-1}`},
		{"load without item", `{"action":"load"}`},
		{"rate too high", `{"action":"rate","rate":10}`},
		{"zero rate", `{"action":"rate","rate":0}`},
		{"not json", `play`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Apply(json.RawMessage(tt.delta), t0)
			assert.ErrorIs(t, err, domain.ErrInvalidDelta)
			assert.Equal(t, m, got)
		})
	}
}

func TestWhiteboardPayload_Apply(t *testing.T) {
	now := time.Now()
	w := NewWhiteboardPayload()

	w1, err := w.Apply(json.RawMessage(`{"action":"stroke","stroke":{"id":"s1","color":"#f00","width":2,"points":[[0,0],[1,1]]}}`), now)
	require.NoError(t, err)
	require.Len(t, w1.Strokes, 1)
	assert.Equal(t, "s1", w1.Strokes[0].ID)

	w2, err := w1.Apply(json.RawMessage(`{"action":"stroke","stroke":{"width":1,"points":[[3,4]]}}`), now)
	require.NoError(t, err)
	require.Len(t, w2.Strokes, 2)
	assert.NotEmpty(t, w2.Strokes[1].ID)
	assert.Equal(t, "#000000", w2.Strokes[1].Color)
	assert.Len(t, w1.Strokes, 1, "earlier state must not change")

	w3, err := w2.Apply(json.RawMessage(`{"action":"undo"}`), now)
	require.NoError(t, err)
	assert.Len(t, w3.Strokes, 1)

	w4, err := w3.Apply(json.RawMessage(`{"action":"clear"}`), now)
	require.NoError(t, err)
	assert.Empty(t, w4.Strokes)

	w5, err := w4.Apply(json.RawMessage(`{"action":"undo"}`), now)
	require.NoError(t, err)
	assert.Empty(t, w5.Strokes)

	for _, bad := range []string{
		`{"action":"stroke"}`,
		`{"action":"stroke","stroke":{"width":0,"points":[[0,0]]}}`,
		`{"action":"stroke","stroke":{"width":1,"points":[]}}`,
		`{"action":"erase"}`,
	} {
		_, err := w.Apply(json.RawMessage(bad), now)
		assert.ErrorIs(t, err, domain.ErrInvalidDelta, bad)
	}
}

func TestViewerPayload_Apply(t *testing.T) {
	now := time.Now()
	v := NewViewerPayload()

	next, err := v.Apply(json.RawMessage(`{"action":"camera","position":[1,2,3],"zoom":2.5}`), now)
	require.NoError(t, err)
	assert.Equal(t, Vec3{1, 2, 3}, next.Position)
	assert.Equal(t, Vec3{0, 0, 0}, next.Target)
	assert.Equal(t, Vec3{0, 1, 0}, next.Up)
	assert.Equal(t, 2.5, next.Zoom)

	for _, bad := range []string{
		`{"action":"orbit"}`,
		`{"action":"camera","zoom":0}`,
		`{"action":"camera","up":[0,0,0]}`,
		`{"action":"camera","position":[0,0,0]}`,
	} {
		got, err := v.Apply(json.RawMessage(bad), now)
		assert.ErrorIs(t, err, domain.ErrInvalidDelta, bad)
		assert.Equal(t, v, got)
	}
}
