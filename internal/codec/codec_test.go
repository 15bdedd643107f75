package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"canvas-backend/internal/canvas"
)

func strPtr(s string) *string { return &s }

func sampleEvents() []canvas.DrawEvent {
	return []canvas.DrawEvent{
		{
			ID: "6f1c2a44-0000-4000-8000-000000000001", Type: canvas.EventLine,
			StrokeColor: "#222222", StrokeWidth: 2.5, Timestamp: "1700000000001",
			From: &canvas.Point{X: 0, Y: 0}, To: &canvas.Point{X: -12.75, Y: 99.5},
		},
		{
			ID: "6f1c2a44-0000-4000-8000-000000000002", Type: canvas.EventCircle,
			StrokeColor: "#ff0000", StrokeWidth: 1, Timestamp: "1700000000002",
			Center: &canvas.Point{X: 50, Y: 60}, Radius: 14.25, FillStyle: strPtr("rgba(0,0,255,0.5)"),
		},
		{
			ID: "6f1c2a44-0000-4000-8000-000000000003", Type: canvas.EventCircle,
			StrokeColor: "#00ff00", StrokeWidth: 3, Timestamp: "1700000000003",
			Center: &canvas.Point{X: 1, Y: 1}, Radius: 4,
		},
		{
			ID: "6f1c2a44-0000-4000-8000-000000000004", Type: canvas.EventPolygon,
			StrokeColor: "#0000ff", StrokeWidth: 0.5, Timestamp: "1700000000004",
			Points:    []canvas.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 8.66}},
			FillStyle: strPtr(""),
		},
	}
}

func TestRoundTrip_AllVariants(t *testing.T) {
	events := sampleEvents()

	data, err := Encode(events, 1700000001234)
	require.NoError(t, err)

	decoded, ts, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000001234), ts)
	assert.Equal(t, events, decoded)
}

func TestRoundTrip_FillStylePresence(t *testing.T) {
	data, err := Encode(sampleEvents(), 1)
	require.NoError(t, err)

	decoded, _, err := Decode(data)
	require.NoError(t, err)

	require.NotNil(t, decoded[1].FillStyle)
	assert.Nil(t, decoded[2].FillStyle, "unset fill style must stay unset")
	require.NotNil(t, decoded[3].FillStyle, "empty fill style is still set")
	assert.Equal(t, "", *decoded[3].FillStyle)
}

func TestRoundTrip_NegativeZeroIsBitExact(t *testing.T) {
	negZero := math.Copysign(0, -1)
	events := []canvas.DrawEvent{{
		ID: "6f1c2a44-0000-4000-8000-000000000005", Type: canvas.EventCircle,
		StrokeColor: "#000000", StrokeWidth: negZero, Timestamp: "1",
		Center: &canvas.Point{X: negZero, Y: 0}, Radius: negZero,
	}}

	data, err := Encode(events, 1)
	require.NoError(t, err)
	decoded, _, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)

	got := decoded[0]
	assert.True(t, math.Signbit(got.StrokeWidth))
	assert.True(t, math.Signbit(got.Radius))
	assert.True(t, math.Signbit(got.Center.X))
	assert.False(t, math.Signbit(got.Center.Y))
}

func TestRoundTrip_EmptyCanvas(t *testing.T) {
	data, err := Encode(nil, 42)
	require.NoError(t, err)

	decoded, ts, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, int64(42), ts)
	assert.Empty(t, decoded)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	events := sampleEvents()[:1]

	// an event written by a newer encoder with an extra field
	ev := appendEvent(nil, &events[0])
	ev = protowire.AppendTag(ev, 40, protowire.BytesType)
	ev = protowire.AppendString(ev, "layer-2")

	var data []byte
	data = protowire.AppendTag(data, snapVersion, protowire.VarintType)
	data = protowire.AppendVarint(data, 2)
	data = protowire.AppendTag(data, 77, protowire.VarintType)
	data = protowire.AppendVarint(data, 9)
	data = protowire.AppendTag(data, snapTimestamp, protowire.VarintType)
	data = protowire.AppendVarint(data, 55)
	data = protowire.AppendTag(data, snapEvent, protowire.BytesType)
	data = protowire.AppendBytes(data, ev)

	decoded, ts, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, int64(55), ts)
	assert.Equal(t, events, decoded)
}

func TestDecode_CorruptInput(t *testing.T) {
	valid, err := Encode(sampleEvents(), 99)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)-3]},
		{"garbage", []byte{0xff, 0xff, 0xff}},
		{"json", []byte(`{"events":[]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
		})
	}
}

func TestEncode_RejectsEventWithoutID(t *testing.T) {
	_, err := Encode([]canvas.DrawEvent{{Type: canvas.EventLine, Timestamp: "1"}}, 1)
	assert.ErrorIs(t, err, canvas.ErrMissingID)
}
