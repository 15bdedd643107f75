package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/gateway"
	"canvas-backend/internal/middleware"
	"canvas-backend/internal/model"
)

// SnapshotHistory 영구 저장된 스냅샷 목록 조회
type SnapshotHistory interface {
	History(ctx context.Context, roomID string, limit int) ([]model.CanvasSnapshot, error)
}

// CanvasHandler 캔버스 REST 핸들러 (소켓 없이 현재 상태 조회)
type CanvasHandler struct {
	snapshots gateway.Snapshots
	events    gateway.EventLog
	history   SnapshotHistory
	now       func() time.Time
}

// NewCanvasHandler CanvasHandler 생성
func NewCanvasHandler(snapshots gateway.Snapshots, events gateway.EventLog, history SnapshotHistory) *CanvasHandler {
	return &CanvasHandler{snapshots: snapshots, events: events, history: history, now: time.Now}
}

// CanvasResponse 캔버스 조회 응답
type CanvasResponse struct {
	RoomID string             `json:"roomId"`
	At     int64              `json:"at"`
	Events []canvas.DrawEvent `json:"events"`
}

// SnapshotInfo 스냅샷 이력 항목
type SnapshotInfo struct {
	SnapshotKey string `json:"snapshotKey"`
	Timestamp   int64  `json:"timestamp"`
	EventCount  int    `json:"eventCount"`
}

// GetCanvas 요청 시점 기준으로 재구성한 캔버스 반환
// GET /api/rooms/:roomId/canvas
func (h *CanvasHandler) GetCanvas(c *fiber.Ctx) error {
	roomID := middleware.RoomID(c)
	at := h.now().UnixMilli()

	events, err := gateway.Reconcile(c.UserContext(), h.snapshots, h.events, roomID, at)
	if err != nil {
		log.Error().Err(err).Str("component", "handler").Str("room", roomID).Msg("canvas reconciliation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load canvas",
		})
	}

	return c.JSON(CanvasResponse{RoomID: roomID, At: at, Events: events})
}

// GetHistory 영구 저장된 스냅샷 이력 (최신순)
// GET /api/rooms/:roomId/canvas/history?limit=20
func (h *CanvasHandler) GetHistory(c *fiber.Ctx) error {
	roomID := middleware.RoomID(c)

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := h.history.History(c.UserContext(), roomID, limit)
	if err != nil {
		log.Error().Err(err).Str("component", "handler").Str("room", roomID).Msg("snapshot history failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load snapshot history",
		})
	}

	out := make([]SnapshotInfo, len(rows))
	for i, r := range rows {
		out[i] = SnapshotInfo{SnapshotKey: r.SnapshotKey, Timestamp: r.Timestamp, EventCount: r.EventCount}
	}
	return c.JSON(out)
}
