package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/canvas"
	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/model"
	"canvas-backend/internal/snapshot"
)

type fixture struct {
	store *snapshot.Store
	db    *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ctl.db")), &gorm.Config{
		Logger: database.NewLogger(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })

	store := snapshot.NewStore(rc, db, time.Hour, time.Hour)
	ctx := context.Background()
	for i, ts := range []int64{1700000000000, 1700000060000} {
		events := []canvas.DrawEvent{{
			ID:          "p1",
			Type:        canvas.EventPolygon,
			StrokeColor: "#ff0000",
			StrokeWidth: 2,
			Timestamp:   "1699999999000",
			Points:      []canvas.Point{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 5}},
		}}
		if i == 1 {
			events = append(events, canvas.DrawEvent{
				ID: "l1", Type: canvas.EventLine, StrokeColor: "#000000", StrokeWidth: 1,
				Timestamp: "1700000030000", From: &canvas.Point{X: 1, Y: 1}, To: &canvas.Point{X: 2, Y: 2},
			})
		}
		key, err := store.Put(ctx, "room-1", events, ts)
		require.NoError(t, err)
		require.NoError(t, store.Persist(ctx, "room-1", key))
	}

	return &fixture{store: store, db: db}
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand(func(bool) (Store, func(), error) {
		return f.store, func() {}, nil
	})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHistory_JSON(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "history", "room-1", "-o", "json")
	require.NoError(t, err)

	var rows []SnapshotSummary
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1700000060000), rows[0].Timestamp)
	assert.Equal(t, 2, rows[0].EventCount)
	assert.Equal(t, cache.SnapshotVersionKey("room-1", 1700000000000), rows[1].SnapshotKey)
}

func TestHistory_YAMLKeepsIntegers(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "history", "room-1", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "timestamp: 1700000060000")
	assert.Contains(t, out, "snapshotKey: ")

	var rows []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
	assert.Len(t, rows, 1)
}

func TestShow_AtAndVerify(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "show", "room-1", "--at", "1700000030000", "--verify", "-o", "json")
	require.NoError(t, err)

	var view SnapshotView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, int64(1700000000000), view.Timestamp)
	require.NotNil(t, view.Verified)
	assert.True(t, *view.Verified)
	require.Len(t, view.Events, 1)
	assert.Len(t, view.Events[0].Points, 3)
}

func TestShow_VerifyDetectsMismatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&model.CanvasSnapshot{}).
		Where("snapshot_key = ?", cache.SnapshotVersionKey("room-1", 1700000060000)).
		Update("events", "[]").Error)

	out, err := f.run(t, "show", "room-1", "--verify", "-o", "json")
	assert.ErrorIs(t, err, ErrVerifyFailed)
	assert.Contains(t, out, `"verified": false`)
}

func TestShow_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "show", "room-1", "--at", "1")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	_, err = f.run(t, "show", "room-1", "-o", "xml")
	assert.ErrorContains(t, err, "invalid output")

	_, err = f.run(t, "show")
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "restore", "room-1", "--at", "1700000000000", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"timestamp": 1700000000000`)

	events, found, err := f.store.GetLatest(context.Background(), "room-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, events, 1)
}
