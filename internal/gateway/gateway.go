// Package gateway runs the canvas socket protocol for one connection:
// handshake checks, presence join, join-time reconciliation, and the
// handlers for inbound draw and room-management messages.
package gateway

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/model"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/session"
)

// Conn is the part of a websocket connection the protocol uses.
// *websocket.Conn from gofiber/contrib satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// Handshake carries what the HTTP upgrade request provided.
type Handshake struct {
	RoomID      string
	AccessToken string
}

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Memberships is the room/membership store.
type Memberships interface {
	GetRoom(ctx context.Context, roomID string) (*model.Room, error)
	GetMembership(ctx context.Context, roomID, userID string) (*model.RoomMember, error)
	RemoveMember(ctx context.Context, roomID, userID string, alsoDo func() error) error
	UpdateRole(ctx context.Context, roomID, userID string, role model.MemberRole, alsoDo func() error) error
	UpdateRoomInfo(ctx context.Context, roomID string, name, description *string) (*model.Room, error)
}

// Presence is the per-room registry of active connections.
type Presence interface {
	AddActive(ctx context.Context, roomID string, entry presence.Entry) error
	RemoveActive(ctx context.Context, roomID, userID string) error
	RemoveConnection(ctx context.Context, roomID, userID, connID string) (bool, error)
	ListActive(ctx context.Context, roomID string) ([]presence.Entry, error)
	UpdateRole(ctx context.Context, roomID, userID string, role model.MemberRole) (bool, error)
	Touch(ctx context.Context, roomID string) error
}

// EventLog is the pending-event store.
type EventLog interface {
	Append(ctx context.Context, roomID string, event canvas.DrawEvent) error
	AllPending(ctx context.Context, roomID string) ([]canvas.DrawEvent, error)
}

// Snapshots returns the latest compacted canvas.
type Snapshots interface {
	GetLatest(ctx context.Context, roomID string) ([]canvas.DrawEvent, bool, error)
}

// Compactor is run after every accepted draw.
type Compactor interface {
	MaybeCompact(ctx context.Context, roomID string) (bool, error)
}

// Broadcaster publishes envelopes to every process serving the room.
type Broadcaster interface {
	Publish(ctx context.Context, env hub.Envelope) error
}

// Registry tracks this process's connections per room.
type Registry interface {
	Join(roomID string, sub hub.Subscriber)
	Leave(roomID, connID string)
}

// Deps are the collaborators of the gateway.
type Deps struct {
	Tokens    TokenVerifier
	Members   Memberships
	Presence  Presence
	Events    EventLog
	Snapshots Snapshots
	Compactor Compactor
	Broadcast Broadcaster
	Registry  Registry
}

// Options tune per-connection resources.
type Options struct {
	OutboundBuffer    int
	WriteTimeout      time.Duration
	CompactionTimeout time.Duration
	// PresenceRefresh is how often a live connection extends the room's
	// presence TTL. Zero disables it.
	PresenceRefresh time.Duration
}

// Gateway serves canvas connections.
type Gateway struct {
	deps Deps
	opts Options
	now  func() time.Time

	// background compactions
	wg sync.WaitGroup
}

// New creates a gateway
func New(deps Deps, opts Options) *Gateway {
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = 256
	}
	if opts.CompactionTimeout <= 0 {
		opts.CompactionTimeout = 30 * time.Second
	}
	return &Gateway{deps: deps, opts: opts, now: time.Now}
}

// Wait blocks until background compactions started by draws have finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// client is one connection as seen by the hub.
type client struct {
	s      *session.Session
	logger zerolog.Logger
}

func (c *client) ConnID() string { return c.s.ID }
func (c *client) UserID() string { return c.s.UserID() }

// Deliver runs on the hub's dispatch goroutine and must not block.
func (c *client) Deliver(env hub.Envelope) {
	switch env.Event {
	case EventMemberPromoted:
		var p PromotePayload
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.UserID == c.s.UserID() {
			c.s.SetRole(p.Role)
		}
	case EventRemoved:
		c.s.Send(frame(env.Event, env.Payload))
		if err := c.s.Transition(session.StateRemoved); err != nil {
			c.logger.Debug().Err(err).Msg("removed outside active state")
		}
		c.s.Close()
		return
	}
	c.s.Deliver(frame(env.Event, env.Payload))
}

// Serve runs the protocol until the connection ends. It never returns an
// error; every failure is reported to the client and logged.
func (g *Gateway) Serve(ctx context.Context, conn Conn, hs Handshake) {
	s := session.New(hs.RoomID, g.opts.OutboundBuffer)
	c := &client{
		s:      s,
		logger: log.With().Str("component", "gateway").Str("room", hs.RoomID).Str("conn", s.ID).Logger(),
	}

	writerDone := make(chan struct{})
	go g.writeLoop(conn, c, writerDone)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("connection handler panicked")
		}
		g.cleanup(c)
		s.Close()
		<-writerDone
		s.Finish()
		c.logger.Info().Str("user", s.UserID()).Dur("duration", s.Duration()).Msg("connection closed")
	}()

	if !g.open(ctx, c, hs) {
		return
	}
	c.logger = c.logger.With().Str("user", s.UserID()).Logger()
	c.logger.Info().Msg("joined")

	go g.keepPresence(c)
	g.readLoop(ctx, conn, c)
}

// keepPresence extends the room's presence TTL until the session closes, so
// entries of idle connections outlive a room nobody joins for a while.
func (g *Gateway) keepPresence(c *client) {
	if g.opts.PresenceRefresh <= 0 {
		return
	}
	ticker := time.NewTicker(g.opts.PresenceRefresh)
	defer ticker.Stop()

	ctx := c.s.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.deps.Presence.Touch(ctx, c.s.RoomID); err != nil && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("presence refresh failed")
			}
		}
	}
}

func (g *Gateway) writeLoop(conn Conn, c *client, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	write := func(msg []byte) bool {
		if ds, ok := conn.(deadlineSetter); ok && g.opts.WriteTimeout > 0 {
			ds.SetWriteDeadline(time.Now().Add(g.opts.WriteTimeout))
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug().Err(err).Msg("write failed")
			c.s.Close()
			return false
		}
		return true
	}

	for {
		select {
		case msg := <-c.s.Outbound():
			if !write(msg) {
				return
			}
		case <-c.s.Done():
			if c.s.Overflowed() {
				c.logger.Warn().Msg("outbound queue full, dropping slow connection")
				return
			}
			// flush what was queued before the close (room-error, removed, ...)
			for {
				select {
				case msg := <-c.s.Outbound():
					if !write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn Conn, c *client) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil || c.s.IsClosed() {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			g.sendError(c, CodeBadRequest, "malformed message")
			continue
		}

		switch msg.Type {
		case MsgDraw:
			g.handleDraw(ctx, c, msg.Payload)
		case MsgCursorMove:
			g.handleCursorMove(ctx, c, msg.Payload)
		case MsgLeave:
			g.handleLeave(ctx, c)
		case MsgRemoveMember:
			g.handleRemoveMember(ctx, c, msg.Payload)
		case MsgUpdateRoomInfo:
			g.handleUpdateRoomInfo(ctx, c, msg.Payload)
		case MsgPromoteMember:
			g.handlePromoteMember(ctx, c, msg.Payload)
		default:
			g.sendError(c, CodeBadRequest, "unknown message type")
		}

		if c.s.GetState().Terminal() {
			return
		}
	}
}

// cleanup handles a connection that ends without leave or removal.
func (g *Gateway) cleanup(c *client) {
	s := c.s
	state := s.GetState()

	if state == session.StateJoining || state == session.StateActive {
		if err := s.Transition(session.StateDisconnected); err != nil {
			c.logger.Debug().Err(err).Msg("state changed concurrently")
		}
	}
	g.deps.Registry.Leave(s.RoomID, s.ID)

	if state != session.StateJoining && state != session.StateActive {
		return
	}

	// the request context may already be gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	removed, err := g.deps.Presence.RemoveConnection(ctx, s.RoomID, s.UserID(), s.ID)
	if err != nil {
		c.logger.Error().Err(err).Msg("presence removal failed")
		return
	}
	if !removed {
		// another connection of the same user owns the entry now
		return
	}

	g.publish(ctx, c, EventPeerDisconnected, UserPayload{UserID: s.UserID()}, s.ID, "")
	g.notify(ctx, c, s.Name()+" disconnected")
}

func (g *Gateway) send(c *client, event string, payload any) {
	c.s.Send(encode(event, payload))
}

func (g *Gateway) sendError(c *client, code, message string) {
	g.send(c, EventRoomError, ErrorPayload{Message: message, Code: code})
}

// publish broadcasts to the room. Failures are logged only: the sender's
// own action already succeeded.
func (g *Gateway) publish(ctx context.Context, c *client, event string, payload any, exceptConn, onlyUser string) {
	env, err := hub.NewEnvelope(c.s.RoomID, event, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("envelope marshal failed")
		return
	}
	env.ExceptConn = exceptConn
	env.OnlyUser = onlyUser

	if err := g.deps.Broadcast.Publish(ctx, env); err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("broadcast failed")
	}
}

func (g *Gateway) notify(ctx context.Context, c *client, message string) {
	g.publish(ctx, c, EventNotification, NotificationPayload{Message: message}, "", "")
}
