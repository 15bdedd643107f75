package canvas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	fill := "#ff0000"
	tests := []struct {
		name    string
		event   DrawEvent
		wantErr error
	}{
		{"line ok", line("l", 1), nil},
		{"circle ok", DrawEvent{ID: "c", Type: EventCircle, Timestamp: "5", Center: &Point{X: 1, Y: 1}, Radius: 3, FillStyle: &fill}, nil},
		{"polygon ok", DrawEvent{ID: "p", Type: EventPolygon, Timestamp: "5", Points: []Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 0}}}, nil},
		{"missing id", DrawEvent{Type: EventLine, Timestamp: "1"}, ErrMissingID},
		{"zero timestamp", DrawEvent{ID: "x", Type: EventLine, Timestamp: "0", From: &Point{}, To: &Point{}}, ErrInvalidTimestamp},
		{"text timestamp", DrawEvent{ID: "x", Type: EventLine, Timestamp: "yesterday", From: &Point{}, To: &Point{}}, ErrInvalidTimestamp},
		{"unknown type", DrawEvent{ID: "x", Type: "text", Timestamp: "1"}, ErrUnknownType},
		{"line without to", DrawEvent{ID: "x", Type: EventLine, Timestamp: "1", From: &Point{}}, ErrMissingGeometry},
		{"circle without center", DrawEvent{ID: "x", Type: EventCircle, Timestamp: "1", Radius: 2}, ErrMissingGeometry},
		{"polygon with one point", DrawEvent{ID: "x", Type: EventPolygon, Timestamp: "1", Points: []Point{{}}}, ErrMissingGeometry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNormalize_DropsForeignGeometry(t *testing.T) {
	e := line("l", 1)
	e.Center = &Point{X: 5, Y: 5}
	e.Points = []Point{{X: 1, Y: 1}}

	n := e.Normalize()

	assert.Nil(t, n.Center)
	assert.Nil(t, n.Points)
	assert.Equal(t, e.From, n.From)
}

func TestDrawEvent_JSONShape(t *testing.T) {
	raw := `{"id":"c1","type":"circle","strokeColor":"#111","strokeWidth":1.5,"timestamp":"1700000000000","center":{"x":3,"y":4},"radius":7,"fillStyle":"blue"}`

	var e DrawEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	require.NoError(t, e.Validate())

	assert.Equal(t, EventCircle, e.Type)
	assert.Equal(t, 7.0, e.Radius)
	require.NotNil(t, e.FillStyle)
	assert.Equal(t, "blue", *e.FillStyle)

	ms, err := e.Millis()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ms)
}
