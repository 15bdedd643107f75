// snapshotctl inspects and restores durable canvas snapshots.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/snapshot"
)

func main() {
	// .env 파일 로드 (없어도 에러 무시)
	_ = godotenv.Load()
	config.SetupLogger(config.LoadLog())

	if err := NewRootCommand(openStore).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore connects to Postgres, and to Redis only for commands that write
// the fast tier.
func openStore(withCache bool) (Store, func(), error) {
	db, err := database.ConnectDB(config.LoadDatabase())
	if err != nil {
		return nil, nil, err
	}

	var rc *cache.RedisClient
	if withCache {
		rc, err = cache.NewRedisClient(config.LoadRedis())
		if err != nil {
			database.Close(db)
			return nil, nil, err
		}
	}

	canvasCfg := config.LoadCanvas()
	store := snapshot.NewStore(rc, db, canvasCfg.SnapshotCacheTTL, canvasCfg.SnapshotBlobTTL)
	closeFn := func() {
		if rc != nil {
			rc.Close()
		}
		database.Close(db)
	}
	return store, closeFn, nil
}
