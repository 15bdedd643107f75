package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/config"
	"canvas-backend/internal/gateway"
	"canvas-backend/internal/handler"
	"canvas-backend/internal/middleware"
)

// Deps 서버가 라우트에 연결하는 구성 요소
type Deps struct {
	JWT       *auth.JWTManager
	Gateway   *gateway.Gateway
	Members   middleware.MembershipStore
	Snapshots gateway.Snapshots
	Events    gateway.EventLog
	History   handler.SnapshotHistory
	Health    *handler.HealthHandler
}

// Server Fiber 서버 래퍼
type Server struct {
	app             *fiber.App
	cfg             *config.Config
	jwtManager      *auth.JWTManager
	roomMiddleware  *middleware.RoomMiddleware
	canvasHandler   *handler.CanvasHandler
	canvasWSHandler *handler.CanvasWSHandler
	healthHandler   *handler.HealthHandler
}

// New 새 서버 인스턴스 생성
// ctx 는 소켓 연결이 쓰는 기본 컨텍스트 (종료 시 취소)
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Canvas Sync Gateway",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	return &Server{
		app:             app,
		cfg:             cfg,
		jwtManager:      deps.JWT,
		roomMiddleware:  middleware.NewRoomMiddleware(deps.Members),
		canvasHandler:   handler.NewCanvasHandler(deps.Snapshots, deps.Events, deps.History),
		canvasWSHandler: handler.NewCanvasWSHandler(ctx, deps.Gateway, cfg.Auth.CookieName),
		healthHandler:   deps.Health,
	}
}

// App 테스트용 fiber 앱 접근
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "UTC",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Canvas 라우트 그룹 (인증 + 방 멤버 필요)
	roomGroup := s.app.Group("/api/rooms/:roomId",
		auth.AuthMiddleware(s.jwtManager, s.cfg.Auth.CookieName),
		s.roomMiddleware.RequireMembership(),
	)
	roomGroup.Get("/canvas", s.canvasHandler.GetCanvas)
	roomGroup.Get("/canvas/history", s.canvasHandler.GetHistory)

	// Rate Limiter 설정 (핸드셰이크 폭주 방지)
	wsLimiter := limiter.New(limiter.Config{
		Max:        s.cfg.Limiter.Max,
		Expiration: s.cfg.Limiter.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// WebSocket 캔버스 엔드포인트 (?roomId=, access_token 쿠키)
	s.app.Get("/ws/canvas", wsLimiter, s.canvasWSHandler.Upgrade, websocket.New(s.canvasWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
// SIGINT/SIGTERM 을 받으면 리스너를 닫고 반환한다.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Str("component", "server").Msg("shutting down server")
		if err := s.Shutdown(); err != nil {
			log.Error().Err(err).Str("component", "server").Msg("server shutdown error")
		}
	}()

	log.Info().Str("component", "server").Str("addr", s.cfg.Server.Port).Msg("canvas gateway starting")
	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
