// Package codec is the binary snapshot format. Snapshots are written in the
// protobuf wire format so that fields can be added later without breaking
// readers: unknown fields are skipped, never rejected.
//
//	Snapshot { 1 version uint32; 2 timestamp int64; 3 repeated Event }
//	Event    { 1 id; 2 type; 3 stroke_color; 4 stroke_width double;
//	           5 timestamp; 6 from Point; 7 to Point; 8 center Point;
//	           9 radius double; 10 repeated points Point; 11 fill_style }
//	Point    { 1 x double; 2 y double }
package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"canvas-backend/internal/canvas"
)

// Version is written into every snapshot. Decode accepts any version >= 1.
const Version = 1

var ErrCorruptSnapshot = errors.New("corrupt snapshot")

const (
	snapVersion   protowire.Number = 1
	snapTimestamp protowire.Number = 2
	snapEvent     protowire.Number = 3

	evID          protowire.Number = 1
	evType        protowire.Number = 2
	evStrokeColor protowire.Number = 3
	evStrokeWidth protowire.Number = 4
	evTimestamp   protowire.Number = 5
	evFrom        protowire.Number = 6
	evTo          protowire.Number = 7
	evCenter      protowire.Number = 8
	evRadius      protowire.Number = 9
	evPoints      protowire.Number = 10
	evFillStyle   protowire.Number = 11

	ptX protowire.Number = 1
	ptY protowire.Number = 2
)

// Encode serializes an ordered event list and the snapshot timestamp.
func Encode(events []canvas.DrawEvent, timestampMillis int64) ([]byte, error) {
	b := make([]byte, 0, 64+len(events)*96)
	b = protowire.AppendTag(b, snapVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	b = protowire.AppendTag(b, snapTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(timestampMillis))

	for i := range events {
		if events[i].ID == "" {
			return nil, fmt.Errorf("encode event %d: %w", i, canvas.ErrMissingID)
		}
		b = protowire.AppendTag(b, snapEvent, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEvent(nil, &events[i]))
	}
	return b, nil
}

// Decode parses a snapshot. Any malformed input is ErrCorruptSnapshot.
func Decode(data []byte) ([]canvas.DrawEvent, int64, error) {
	var (
		version    uint64
		timestamp  int64
		events     = make([]canvas.DrawEvent, 0)
		hasVersion bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, 0, corrupt("tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == snapVersion && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, 0, corrupt("version", protowire.ParseError(m))
			}
			version, hasVersion = v, true
			n = m
		case num == snapTimestamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, 0, corrupt("timestamp", protowire.ParseError(m))
			}
			timestamp = int64(v)
			n = m
		case num == snapEvent && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, 0, corrupt("event", protowire.ParseError(m))
			}
			e, err := decodeEvent(raw)
			if err != nil {
				return nil, 0, err
			}
			events = append(events, e)
			n = m
		case num == snapVersion || num == snapTimestamp || num == snapEvent:
			return nil, 0, corrupt("snapshot", fmt.Errorf("field %d has wire type %d", num, typ))
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, 0, corrupt("unknown field", protowire.ParseError(n))
			}
		}
		data = data[n:]
	}

	if !hasVersion || version < 1 {
		return nil, 0, corrupt("snapshot", errors.New("missing version"))
	}
	return events, timestamp, nil
}

func appendEvent(b []byte, e *canvas.DrawEvent) []byte {
	b = appendString(b, evID, e.ID)
	b = appendString(b, evType, string(e.Type))
	b = appendString(b, evStrokeColor, e.StrokeColor)
	b = appendDouble(b, evStrokeWidth, e.StrokeWidth)
	b = appendString(b, evTimestamp, e.Timestamp)
	if e.From != nil {
		b = appendPoint(b, evFrom, *e.From)
	}
	if e.To != nil {
		b = appendPoint(b, evTo, *e.To)
	}
	if e.Center != nil {
		b = appendPoint(b, evCenter, *e.Center)
	}
	b = appendDouble(b, evRadius, e.Radius)
	for _, p := range e.Points {
		b = appendPoint(b, evPoints, p)
	}
	if e.FillStyle != nil {
		// written even when empty: presence is what marks the field as set
		b = protowire.AppendTag(b, evFillStyle, protowire.BytesType)
		b = protowire.AppendString(b, *e.FillStyle)
	}
	return b
}

func decodeEvent(data []byte) (canvas.DrawEvent, error) {
	var e canvas.DrawEvent
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, corrupt("event tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case evID, evType, evStrokeColor, evTimestamp, evFillStyle:
			if typ != protowire.BytesType {
				return e, wireTypeErr(num, typ)
			}
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return e, corrupt("event string", protowire.ParseError(m))
			}
			switch num {
			case evID:
				e.ID = s
			case evType:
				e.Type = canvas.EventType(s)
			case evStrokeColor:
				e.StrokeColor = s
			case evTimestamp:
				e.Timestamp = s
			case evFillStyle:
				fill := s
				e.FillStyle = &fill
			}
			n = m
		case evStrokeWidth, evRadius:
			if typ != protowire.Fixed64Type {
				return e, wireTypeErr(num, typ)
			}
			v, m := protowire.ConsumeFixed64(data)
			if m < 0 {
				return e, corrupt("event double", protowire.ParseError(m))
			}
			if num == evStrokeWidth {
				e.StrokeWidth = math.Float64frombits(v)
			} else {
				e.Radius = math.Float64frombits(v)
			}
			n = m
		case evFrom, evTo, evCenter, evPoints:
			if typ != protowire.BytesType {
				return e, wireTypeErr(num, typ)
			}
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, corrupt("event point", protowire.ParseError(m))
			}
			p, err := decodePoint(raw)
			if err != nil {
				return e, err
			}
			switch num {
			case evFrom:
				e.From = &p
			case evTo:
				e.To = &p
			case evCenter:
				e.Center = &p
			case evPoints:
				e.Points = append(e.Points, p)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, corrupt("event unknown field", protowire.ParseError(n))
			}
		}
		data = data[n:]
	}

	if e.ID == "" {
		return e, corrupt("event", canvas.ErrMissingID)
	}
	return e, nil
}

func decodePoint(data []byte) (canvas.Point, error) {
	var p canvas.Point
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, corrupt("point tag", protowire.ParseError(n))
		}
		data = data[n:]

		if (num == ptX || num == ptY) && typ == protowire.Fixed64Type {
			v, m := protowire.ConsumeFixed64(data)
			if m < 0 {
				return p, corrupt("point", protowire.ParseError(m))
			}
			if num == ptX {
				p.X = math.Float64frombits(v)
			} else {
				p.Y = math.Float64frombits(v)
			}
			data = data[m:]
			continue
		}
		if num == ptX || num == ptY {
			return p, wireTypeErr(num, typ)
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return p, corrupt("point unknown field", protowire.ParseError(n))
		}
		data = data[n:]
	}
	return p, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendDouble omits only +0, the decoder's default; -0 keeps its sign bit.
func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if math.Float64bits(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPoint(b []byte, num protowire.Number, p canvas.Point) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, ptX, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, math.Float64bits(p.X))
	inner = protowire.AppendTag(inner, ptY, protowire.Fixed64Type)
	inner = protowire.AppendFixed64(inner, math.Float64bits(p.Y))

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, what, err)
}

func wireTypeErr(num protowire.Number, typ protowire.Type) error {
	return corrupt("event", fmt.Errorf("field %d has wire type %d", num, typ))
}
