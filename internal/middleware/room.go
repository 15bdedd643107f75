package middleware

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/model"
	"canvas-backend/internal/service"
)

// MembershipStore 방/멤버십 조회
type MembershipStore interface {
	GetRoom(ctx context.Context, roomID string) (*model.Room, error)
	GetMembership(ctx context.Context, roomID, userID string) (*model.RoomMember, error)
}

// RoomMiddleware 방 권한 미들웨어
type RoomMiddleware struct {
	members MembershipStore
}

// NewRoomMiddleware RoomMiddleware 생성
func NewRoomMiddleware(members MembershipStore) *RoomMiddleware {
	return &RoomMiddleware{members: members}
}

// getRoomIDFromContext URL에서 방 ID 추출 (UUID v4 만 허용)
func getRoomIDFromContext(c *fiber.Ctx) (string, error) {
	idStr := c.Params("roomId")
	if idStr == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "room ID is required")
	}
	id, err := uuid.Parse(idStr)
	if err != nil || id.Version() != 4 {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid room ID")
	}
	return idStr, nil
}

// RequireMembership 방 멤버 필수
// auth.AuthMiddleware 뒤에 등록해야 한다.
func (m *RoomMiddleware) RequireMembership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		roomID, err := getRoomIDFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid room ID",
			})
		}

		if _, err := m.members.GetRoom(c.UserContext(), roomID); err != nil {
			if errors.Is(err, service.ErrRoomNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "room not found",
				})
			}
			log.Error().Err(err).Str("component", "middleware").Str("room", roomID).Msg("room lookup failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load room",
			})
		}

		member, err := m.members.GetMembership(c.UserContext(), roomID, userID)
		if err != nil {
			if errors.Is(err, service.ErrNotMember) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error": "not a room member",
				})
			}
			log.Error().Err(err).Str("component", "middleware").Str("room", roomID).Str("user", userID).Msg("membership lookup failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to verify membership",
			})
		}

		// 방 ID와 멤버십을 컨텍스트에 저장
		c.Locals("roomID", roomID)
		c.Locals("member", member)
		return c.Next()
	}
}

// RoomID RequireMembership 이 저장한 방 ID 조회
func RoomID(c *fiber.Ctx) string {
	roomID, _ := c.Locals("roomID").(string)
	return roomID
}

// Member RequireMembership 이 저장한 멤버십 조회
func Member(c *fiber.Ctx) *model.RoomMember {
	member, _ := c.Locals("member").(*model.RoomMember)
	return member
}
