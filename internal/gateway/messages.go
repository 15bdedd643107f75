package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/model"
)

// Inbound message types
const (
	MsgDraw           = "draw"
	MsgCursorMove     = "cursor-move"
	MsgLeave          = "leave"
	MsgRemoveMember   = "remove-member"
	MsgUpdateRoomInfo = "update-room-info"
	MsgPromoteMember  = "promote-member"
)

// Outbound event types
const (
	EventRoomInfo         = "room-info"
	EventSelfInfo         = "self-info"
	EventActiveUsers      = "active-users"
	EventCanvasState      = "canvas-state"
	EventReady            = "ready"
	EventPeerJoined       = "peer-joined"
	EventPeerLeft         = "peer-left"
	EventPeerDisconnected = "peer-disconnected"
	EventPeerMoved        = "peer-moved"
	EventPeerDrew         = "peer-drew"
	EventDrawRejected     = "draw-rejected"
	EventNotification     = "room-notification"
	EventRoomError        = "room-error"
	EventRoomInfoUpdated  = "room-info-updated"
	EventMemberPromoted   = "member-promoted"
	EventRemoved          = "removed"
)

// Error codes carried by room-error
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL"
)

// Message is the {type, payload} frame used in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RoomInfoPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	OwnerID     string  `json:"ownerId"`
}

type SelfInfoPayload struct {
	UserID   string           `json:"userId"`
	Name     string           `json:"name"`
	Picture  *string          `json:"picture,omitempty"`
	Role     model.MemberRole `json:"role"`
	JoinedAt int64            `json:"joinedAt"`
}

type CanvasStatePayload struct {
	Events []canvas.DrawEvent `json:"events"`
}

type UserPayload struct {
	UserID string `json:"userId"`
}

type CursorPayload struct {
	UserID    string  `json:"userId,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp string  `json:"timestamp,omitempty"`
}

type PeerDrewPayload struct {
	UserID string           `json:"userId"`
	Event  canvas.DrawEvent `json:"event"`
}

type DrawRejectedPayload struct {
	ID string `json:"id"`
}

type NotificationPayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type UpdateRoomInfoPayload struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type PromotePayload struct {
	UserID string           `json:"userId"`
	Role   model.MemberRole `json:"role"`
}

// encode builds an outbound frame. Payloads are plain structs, so a
// marshal failure only drops the payload.
func encode(event string, payload any) []byte {
	msg := Message{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("component", "gateway").Str("event", event).Msg("payload marshal failed")
		} else {
			msg.Payload = data
		}
	}
	out, _ := json.Marshal(msg)
	return out
}

// frame wraps an already-encoded payload.
func frame(event string, payload json.RawMessage) []byte {
	out, _ := json.Marshal(Message{Type: event, Payload: payload})
	return out
}
