package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"canvas-backend/internal/database"
)

// RedisChecker Redis 연결 확인
type RedisChecker interface {
	Health(ctx context.Context) error
}

// QueueChecker 작업 큐(NATS) 연결 확인
type QueueChecker interface {
	Health() error
}

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db    *gorm.DB
	redis RedisChecker
	queue QueueChecker
}

// NewHealthHandler HealthHandler 생성
// queue 는 NATS 를 쓰지 않을 때 nil
func NewHealthHandler(db *gorm.DB, redis RedisChecker, queue QueueChecker) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, queue: queue}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

func timed(check func() error, failure string) ComponentCheck {
	start := time.Now()
	if err := check(); err != nil {
		return ComponentCheck{Status: "unhealthy", Error: failure}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

// Check 전체 상태 확인 (DB + Redis + NATS)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	// 1. Database 체크
	response.Checks["database"] = timed(func() error { return database.Ping(ctx, h.db) }, "database ping failed")

	// 2. Redis 체크
	response.Checks["redis"] = timed(func() error { return h.redis.Health(ctx) }, "redis ping failed")

	// 3. NATS 체크 (없으면 작업은 프로세스 안에서 실행된다)
	if h.queue != nil {
		check := timed(h.queue.Health, "nats unreachable")
		if check.Status != "healthy" {
			// 스냅샷은 Redis 에 남아 있으므로 치명적이지 않다
			check.Status = "degraded"
		}
		response.Checks["nats"] = check
	} else {
		response.Checks["nats"] = ComponentCheck{Status: "not_configured"}
	}

	for _, check := range response.Checks {
		if check.Status == "unhealthy" {
			response.Status = "unhealthy"
		}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB + Redis 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := database.Ping(ctx, h.db); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	if err := h.redis.Health(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
