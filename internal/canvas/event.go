// Package canvas holds the draw-event model shared by every part of the
// sync engine, plus the deterministic merge used by compaction and by
// join-time reconciliation.
package canvas

import (
	"errors"
	"fmt"
	"strconv"
)

// EventType is the discriminant of the DrawEvent sum type.
type EventType string

const (
	EventLine    EventType = "line"
	EventCircle  EventType = "circle"
	EventPolygon EventType = "polygon"
)

var (
	ErrMissingID        = errors.New("draw event id is required")
	ErrUnknownType      = errors.New("unknown draw event type")
	ErrInvalidTimestamp = errors.New("draw event timestamp must be a positive integer")
	ErrMissingGeometry  = errors.New("draw event geometry is incomplete")
)

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawEvent is an immutable shape-creation event. Which geometry fields are
// meaningful depends on Type:
//
//	line:    From, To
//	circle:  Center, Radius, FillStyle
//	polygon: Points, FillStyle
type DrawEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	StrokeColor string    `json:"strokeColor"`
	StrokeWidth float64   `json:"strokeWidth"`
	Timestamp   string    `json:"timestamp"`

	From *Point `json:"from,omitempty"`
	To   *Point `json:"to,omitempty"`

	Center *Point  `json:"center,omitempty"`
	Radius float64 `json:"radius,omitempty"`

	Points []Point `json:"points,omitempty"`

	FillStyle *string `json:"fillStyle,omitempty"`
}

// Millis parses the string timestamp.
func (e DrawEvent) Millis() (int64, error) {
	ms, err := strconv.ParseInt(e.Timestamp, 10, 64)
	if err != nil || ms <= 0 {
		return 0, ErrInvalidTimestamp
	}
	return ms, nil
}

// Validate checks the base fields and the geometry required by the variant.
func (e DrawEvent) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if _, err := e.Millis(); err != nil {
		return err
	}

	switch e.Type {
	case EventLine:
		if e.From == nil || e.To == nil {
			return fmt.Errorf("%w: line needs from and to", ErrMissingGeometry)
		}
	case EventCircle:
		if e.Center == nil || e.Radius < 0 {
			return fmt.Errorf("%w: circle needs center and a non-negative radius", ErrMissingGeometry)
		}
	case EventPolygon:
		if len(e.Points) < 2 {
			return fmt.Errorf("%w: polygon needs at least two points", ErrMissingGeometry)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// Normalize drops geometry that does not belong to the variant so that what
// is stored and broadcast is exactly the tagged shape.
func (e DrawEvent) Normalize() DrawEvent {
	out := DrawEvent{
		ID:          e.ID,
		Type:        e.Type,
		StrokeColor: e.StrokeColor,
		StrokeWidth: e.StrokeWidth,
		Timestamp:   e.Timestamp,
	}
	switch e.Type {
	case EventLine:
		out.From, out.To = e.From, e.To
	case EventCircle:
		out.Center, out.Radius, out.FillStyle = e.Center, e.Radius, e.FillStyle
	case EventPolygon:
		out.Points, out.FillStyle = e.Points, e.FillStyle
	}
	return out
}
