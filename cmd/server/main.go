package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/cache"
	"canvas-backend/internal/compaction"
	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/gateway"
	"canvas-backend/internal/handler"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/jobs"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/server"
	"canvas-backend/internal/service"
	"canvas-backend/internal/snapshot"
)

func main() {
	// 설정 로드
	cfg := config.Load()
	config.SetupLogger(cfg.Log)

	// Redis 연결 (pending 로그, 락, 스냅샷 캐시, presence, 브로드캐스트)
	rc, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rc.Close()

	// 데이터베이스 연결
	db, err := database.ConnectDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer database.Close(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := snapshot.NewStore(rc, db, cfg.Canvas.SnapshotCacheTTL, cfg.Canvas.SnapshotBlobTTL)
	pending := cache.NewPendingLog(rc, cfg.Canvas.PendingTTL)

	// 영구 저장 작업 큐: NATS 가 없으면 프로세스 안에서 바로 저장
	var (
		queue       jobs.Queue
		queueHealth handler.QueueChecker
	)
	if cfg.NATS.URL != "" {
		nq, err := jobs.NewNATSQueue(cfg.NATS, "canvas-gateway")
		if err != nil {
			log.Fatal().Err(err).Msg("nats connection failed")
		}
		defer nq.Close()
		queue, queueHealth = nq, nq
	} else {
		log.Warn().Msg("NATS_URL not set, snapshots are persisted in-process")
		queue = jobs.NewInlineQueue(jobs.NewWorker(snapshots).Handle)
	}

	// 브로드캐스트: 로컬 hub + Redis pub/sub
	localHub := hub.New()
	fanout := hub.NewRedisFanout(rc.Client(), hub.DefaultChannel, localHub)
	if err := fanout.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("broadcast subscription failed")
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	members := service.NewMemberService(db)

	gw := gateway.New(gateway.Deps{
		Tokens:    jwtManager,
		Members:   members,
		Presence:  presence.NewManager(rc, cfg.Canvas.PendingTTL),
		Events:    pending,
		Snapshots: snapshots,
		Compactor: compaction.NewCoordinator(pending, cache.NewLease(rc, cfg.Canvas.LockTTL), snapshots, queue, cfg.Canvas.MaxPendingEvents),
		Broadcast: fanout,
		Registry:  localHub,
	}, gateway.Options{
		OutboundBuffer:    cfg.Canvas.OutboundBuffer,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		CompactionTimeout: cfg.Canvas.LockTTL,
		PresenceRefresh:   cfg.Canvas.PresenceRefresh,
	})

	// 서버 생성 및 설정
	srv := server.New(ctx, cfg, server.Deps{
		JWT:       jwtManager,
		Gateway:   gw,
		Members:   members,
		Snapshots: snapshots,
		Events:    pending,
		History:   snapshots,
		Health:    handler.NewHealthHandler(db, rc, queueHealth),
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작 (종료 신호를 받으면 반환)
	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	// 진행 중인 컴팩션이 끝난 뒤 연결을 닫는다
	cancel()
	gw.Wait()
	log.Info().Msg("server exited")
}
