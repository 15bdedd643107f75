package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/jobs"
	"canvas-backend/internal/snapshot"
)

// compactor 는 NATS 에 쌓인 컴팩션 작업을 받아 스냅샷을 Postgres 에 영구 저장한다.
func main() {
	// .env 파일 로드 (없어도 에러 무시)
	_ = godotenv.Load()
	config.SetupLogger(config.LoadLog())

	natsCfg := config.LoadNATS()
	if natsCfg.URL == "" {
		log.Fatal().Msg("NATS_URL is required for the compactor")
	}
	canvasCfg := config.LoadCanvas()

	rc, err := cache.NewRedisClient(config.LoadRedis())
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rc.Close()

	db, err := database.ConnectDB(config.LoadDatabase())
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer database.Close(db)

	queue, err := jobs.NewNATSQueue(natsCfg, "canvas-compactor")
	if err != nil {
		log.Fatal().Err(err).Msg("nats connection failed")
	}
	defer queue.Close()

	store := snapshot.NewStore(rc, db, canvasCfg.SnapshotCacheTTL, canvasCfg.SnapshotBlobTTL)
	worker := jobs.NewWorker(store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("stream", natsCfg.Stream).Str("durable", natsCfg.Durable).Msg("compactor started")
	if err := queue.Consume(ctx, worker.Handle); err != nil {
		log.Error().Err(err).Msg("compactor stopped with error")
		return
	}
	log.Info().Msg("compactor exited")
}
