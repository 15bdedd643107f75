package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"canvas-backend/internal/gateway"
)

// CanvasWSHandler 캔버스 WebSocket 핸들러
// 핸드셰이크 검증(방 ID, 토큰, 멤버십)은 업그레이드 후 gateway 가 room-error 로 응답한다.
type CanvasWSHandler struct {
	gateway    *gateway.Gateway
	cookieName string
	ctx        context.Context
}

// NewCanvasWSHandler CanvasWSHandler 생성
// ctx 가 취소되면 새 연결의 백그라운드 작업도 정리된다.
func NewCanvasWSHandler(ctx context.Context, gw *gateway.Gateway, cookieName string) *CanvasWSHandler {
	return &CanvasWSHandler{gateway: gw, cookieName: cookieName, ctx: ctx}
}

// Upgrade WebSocket 업그레이드 체크 + 핸드셰이크 정보 저장
func (h *CanvasWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// fiber.Ctx 는 업그레이드 후 재사용되므로 값을 복사해 둔다
	c.Locals("roomId", utils.CopyString(c.Query("roomId")))
	c.Locals("accessToken", utils.CopyString(c.Cookies(h.cookieName)))

	return c.Next()
}

// HandleWebSocket WebSocket 연결 처리
func (h *CanvasWSHandler) HandleWebSocket(conn *websocket.Conn) {
	roomID, _ := conn.Locals("roomId").(string)
	token, _ := conn.Locals("accessToken").(string)

	h.gateway.Serve(h.ctx, conn, gateway.Handshake{
		RoomID:      roomID,
		AccessToken: token,
	})
}
