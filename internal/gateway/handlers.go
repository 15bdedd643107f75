package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/canvas"
	"canvas-backend/internal/model"
	"canvas-backend/internal/service"
	"canvas-backend/internal/session"
)

func (g *Gateway) handleDraw(ctx context.Context, c *client, payload json.RawMessage) {
	s := c.s

	var event canvas.DrawEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		g.sendError(c, CodeBadRequest, "malformed draw event")
		return
	}
	if err := event.Validate(); err != nil {
		g.sendError(c, CodeBadRequest, "invalid draw event")
		return
	}
	event = event.Normalize()

	if err := g.deps.Events.Append(ctx, s.RoomID, event); err != nil {
		c.logger.Error().Err(err).Str("event", event.ID).Msg("append failed")
		g.send(c, EventDrawRejected, DrawRejectedPayload{ID: event.ID})
		return
	}

	g.publish(ctx, c, EventPeerDrew, PeerDrewPayload{UserID: s.UserID(), Event: event}, s.ID, "")
	g.compactInBackground(c)
}

// compactInBackground keeps the reader free while a compaction runs. The
// lease makes concurrent triggers for the same room harmless.
func (g *Gateway) compactInBackground(c *client) {
	roomID := c.s.RoomID
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.opts.CompactionTimeout)
		defer cancel()

		if _, err := g.deps.Compactor.MaybeCompact(ctx, roomID); err != nil {
			c.logger.Error().Err(err).Msg("compaction failed")
		}
	}()
}

func (g *Gateway) handleCursorMove(ctx context.Context, c *client, payload json.RawMessage) {
	var cursor CursorPayload
	if err := json.Unmarshal(payload, &cursor); err != nil {
		return
	}
	cursor.UserID = c.s.UserID()
	g.publish(ctx, c, EventPeerMoved, cursor, c.s.ID, "")
}

func (g *Gateway) handleLeave(ctx context.Context, c *client) {
	s := c.s
	if !auth.CanLeave(s.Role()) {
		g.sendError(c, CodeForbidden, "the owner cannot leave the room")
		return
	}

	userID := s.UserID()
	err := g.deps.Members.RemoveMember(ctx, s.RoomID, userID, func() error {
		return g.deps.Presence.RemoveActive(ctx, s.RoomID, userID)
	})
	if err != nil && !errors.Is(err, service.ErrNotMember) {
		c.logger.Error().Err(err).Msg("leave failed")
		g.sendError(c, CodeInternal, "could not leave the room")
		return
	}

	if !g.transition(c, session.StateLeaving) {
		return
	}
	g.deps.Registry.Leave(s.RoomID, s.ID)

	// other tabs of the same user are no longer members either
	g.publish(ctx, c, EventRemoved, UserPayload{UserID: userID}, s.ID, userID)
	g.publish(ctx, c, EventPeerLeft, UserPayload{UserID: userID}, s.ID, "")
	g.notify(ctx, c, s.Name()+" left the room")

	c.logger.Info().Msg("left the room")
	s.Close()
}

func (g *Gateway) handleRemoveMember(ctx context.Context, c *client, payload json.RawMessage) {
	s := c.s

	var req UserPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.UserID == "" {
		g.sendError(c, CodeBadRequest, "userId is required")
		return
	}
	if req.UserID == s.UserID() {
		g.sendError(c, CodeBadRequest, "use leave to exit the room")
		return
	}

	target, ok := g.lookupTarget(ctx, c, req.UserID)
	if !ok {
		return
	}
	if !auth.CanRemoveMember(s.Role(), target.Role) {
		g.sendError(c, CodeForbidden, "not allowed to remove this member")
		return
	}

	err := g.deps.Members.RemoveMember(ctx, s.RoomID, target.UserID, func() error {
		return g.deps.Presence.RemoveActive(ctx, s.RoomID, target.UserID)
	})
	if err != nil {
		g.storeError(c, err, "could not remove member")
		return
	}

	g.publish(ctx, c, EventRemoved, UserPayload{UserID: target.UserID}, "", target.UserID)
	g.publish(ctx, c, EventPeerLeft, UserPayload{UserID: target.UserID}, "", "")
	g.notify(ctx, c, fmt.Sprintf("%s was removed by %s", target.User.Name, s.Name()))

	c.logger.Info().Str("target", target.UserID).Msg("member removed")
}

func (g *Gateway) handleUpdateRoomInfo(ctx context.Context, c *client, payload json.RawMessage) {
	s := c.s

	var req UpdateRoomInfoPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		g.sendError(c, CodeBadRequest, "malformed room info")
		return
	}
	if !auth.CanUpdateRoomInfo(s.Role()) {
		g.sendError(c, CodeForbidden, "not allowed to update room info")
		return
	}

	room, err := g.deps.Members.UpdateRoomInfo(ctx, s.RoomID, req.Name, req.Description)
	if err != nil {
		g.storeError(c, err, "could not update room info")
		return
	}

	g.publish(ctx, c, EventRoomInfoUpdated, RoomInfoPayload{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		OwnerID:     room.OwnerID,
	}, "", "")
	g.notify(ctx, c, s.Name()+" updated the room info")
}

func (g *Gateway) handlePromoteMember(ctx context.Context, c *client, payload json.RawMessage) {
	s := c.s

	var req PromotePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.UserID == "" {
		g.sendError(c, CodeBadRequest, "userId and role are required")
		return
	}
	role := model.MemberRole(strings.ToUpper(string(req.Role)))
	if !role.Valid() {
		g.sendError(c, CodeBadRequest, "unknown role")
		return
	}

	target, ok := g.lookupTarget(ctx, c, req.UserID)
	if !ok {
		return
	}
	if !auth.CanChangeRole(s.Role(), target.Role, role) {
		g.sendError(c, CodeForbidden, "not allowed to change this role")
		return
	}

	err := g.deps.Members.UpdateRole(ctx, s.RoomID, target.UserID, role, func() error {
		_, err := g.deps.Presence.UpdateRole(ctx, s.RoomID, target.UserID, role)
		return err
	})
	if err != nil {
		g.storeError(c, err, "could not change role")
		return
	}

	g.publish(ctx, c, EventMemberPromoted, PromotePayload{UserID: target.UserID, Role: role}, "", "")
	g.notify(ctx, c, fmt.Sprintf("%s promoted %s to %s", s.Name(), target.User.Name, role))
}

// lookupTarget loads the membership a privileged action applies to.
func (g *Gateway) lookupTarget(ctx context.Context, c *client, userID string) (*model.RoomMember, bool) {
	target, err := g.deps.Members.GetMembership(ctx, c.s.RoomID, userID)
	if err != nil {
		g.storeError(c, err, "could not load member")
		return nil, false
	}
	return target, true
}

// storeError maps a membership-store error onto a room-error code.
func (g *Gateway) storeError(c *client, err error, message string) {
	switch {
	case errors.Is(err, service.ErrNotMember):
		g.sendError(c, CodeNotFound, "member not found")
	case errors.Is(err, service.ErrRoomNotFound):
		g.sendError(c, CodeNotFound, "room not found")
	case errors.Is(err, service.ErrInvalidInput):
		g.sendError(c, CodeBadRequest, message)
	default:
		c.logger.Error().Err(err).Msg(message)
		g.sendError(c, CodeInternal, message)
	}
}
