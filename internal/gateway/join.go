package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/service"
	"canvas-backend/internal/session"
)

// open walks the session from Connecting to Active. On failure the client
// has been sent a room-error and false is returned.
func (g *Gateway) open(ctx context.Context, c *client, hs Handshake) bool {
	s := c.s

	// Connecting
	id, err := uuid.Parse(hs.RoomID)
	if err != nil || id.Version() != 4 {
		g.sendError(c, CodeBadRequest, "invalid room id")
		return false
	}
	if !g.transition(c, session.StateAuthenticating) {
		return false
	}

	// Authenticating
	userID, err := g.deps.Tokens.Verify(hs.AccessToken)
	if err != nil {
		c.logger.Debug().Err(err).Msg("token rejected")
		g.sendError(c, CodeUnauthorized, "authentication required")
		return false
	}
	if !g.transition(c, session.StateVerifyingMembership) {
		return false
	}

	// VerifyingMembership
	room, err := g.deps.Members.GetRoom(ctx, s.RoomID)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			g.sendError(c, CodeNotFound, "room not found")
		} else {
			c.logger.Error().Err(err).Msg("room lookup failed")
			g.sendError(c, CodeInternal, "could not load room")
		}
		return false
	}

	member, err := g.deps.Members.GetMembership(ctx, s.RoomID, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotMember) {
			g.sendError(c, CodeForbidden, "not a member of this room")
		} else {
			c.logger.Error().Err(err).Str("user", userID).Msg("membership lookup failed")
			g.sendError(c, CodeInternal, "could not verify membership")
		}
		return false
	}
	s.SetIdentity(userID, member.User.Name, member.User.Picture, member.Role)
	if !g.transition(c, session.StateJoining) {
		return false
	}

	// Joining
	peers, err := g.deps.Presence.ListActive(ctx, s.RoomID)
	if err != nil {
		c.logger.Error().Err(err).Msg("presence list failed")
		g.sendError(c, CodeInternal, "could not load room presence")
		return false
	}

	// Registered before joinedAt is taken: anything broadcast from here on
	// reaches this connection live and is held until ready.
	g.deps.Registry.Join(s.RoomID, c)

	joinedAt := g.now().UnixMilli()
	s.SetJoinedAt(joinedAt)

	entry := presenceEntry(s)
	if err := g.deps.Presence.AddActive(ctx, s.RoomID, entry); err != nil {
		c.logger.Error().Err(err).Msg("presence add failed")
		g.sendError(c, CodeInternal, "could not join room")
		return false
	}

	others := make([]presence.Entry, 0, len(peers))
	for _, p := range peers {
		if p.ConnID != s.ID {
			others = append(others, p)
		}
	}

	g.send(c, EventRoomInfo, RoomInfoPayload{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		OwnerID:     room.OwnerID,
	})
	g.send(c, EventSelfInfo, SelfInfoPayload{
		UserID:   userID,
		Name:     entry.Name,
		Picture:  entry.Picture,
		Role:     entry.Role,
		JoinedAt: joinedAt,
	})
	g.send(c, EventActiveUsers, others)
	g.publish(ctx, c, EventPeerJoined, entry, s.ID, "")

	if !g.transition(c, session.StateActive) {
		return false
	}

	// Active: reconcile once
	events, err := Reconcile(ctx, g.deps.Snapshots, g.deps.Events, s.RoomID, joinedAt)
	if err != nil {
		c.logger.Error().Err(err).Msg("reconciliation failed")
		g.sendError(c, CodeInternal, "could not load canvas")
		return false
	}
	g.send(c, EventCanvasState, CanvasStatePayload{Events: events})

	return s.Activate(encode(EventReady, nil))
}

// Reconcile merges the latest snapshot with the pending events that predate
// cutoffMillis. Later events reach a joining connection through the live
// broadcast path.
func Reconcile(ctx context.Context, snapshots Snapshots, events EventLog, roomID string, cutoffMillis int64) ([]canvas.DrawEvent, error) {
	snap, _, err := snapshots.GetLatest(ctx, roomID)
	if err != nil {
		return nil, err
	}

	pending, err := events.AllPending(ctx, roomID)
	if err != nil {
		return nil, err
	}

	return canvas.Merge(snap, canvas.Before(pending, cutoffMillis)), nil
}

func (g *Gateway) transition(c *client, to session.State) bool {
	if err := c.s.Transition(to); err != nil {
		c.logger.Warn().Err(err).Msg("state transition refused")
		return false
	}
	return true
}

// presenceEntry is the session's identity as other members see it.
func presenceEntry(s *session.Session) presence.Entry {
	return presence.Entry{
		UserID:   s.UserID(),
		Role:     s.Role(),
		Name:     s.Name(),
		Picture:  s.Picture(),
		JoinedAt: s.JoinedAt(),
		ConnID:   s.ID,
	}
}
