package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"canvas-backend/internal/model"
)

func TestMigrate_CreatesCanvasTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "canvas.db")), &gorm.Config{Logger: NewLogger(logger.Silent)})
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, Migrate(db))

	m := db.Migrator()
	assert.True(t, m.HasTable(&model.User{}))
	assert.True(t, m.HasTable(&model.Room{}))
	assert.True(t, m.HasTable(&model.RoomMember{}))
	assert.True(t, m.HasTable(&model.CanvasSnapshot{}))
	assert.True(t, m.HasIndex(&model.CanvasSnapshot{}, "idx_snapshot_room_ts"))

	assert.NoError(t, Ping(context.Background(), db))
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
