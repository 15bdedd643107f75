package snapshot

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/canvas"
	"canvas-backend/internal/codec"
	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/model"
)

type fixture struct {
	store *Store
	rc    *cache.RedisClient
	mr    *miniredis.Miniredis
	db    *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "snapshots.db")), &gorm.Config{
		Logger: database.NewLogger(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })

	return &fixture{
		store: NewStore(rc, db, time.Hour, time.Minute),
		rc:    rc,
		mr:    mr,
		db:    db,
	}
}

func circle(id, ts string, fill *string) canvas.DrawEvent {
	return canvas.DrawEvent{
		ID:          id,
		Type:        canvas.EventCircle,
		StrokeColor: "#123456",
		StrokeWidth: 3,
		Timestamp:   ts,
		Center:      &canvas.Point{X: 10, Y: 20},
		Radius:      4.5,
		FillStyle:   fill,
	}
}

func TestGetLatest_EmptyRoomIsNotAnError(t *testing.T) {
	f := newFixture(t)

	events, found, err := f.store.GetLatest(context.Background(), "room")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestPutThenGetLatest_FromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fill := "#ff0000"
	events := []canvas.DrawEvent{circle("a", "100", &fill), circle("b", "200", nil)}

	key, err := f.store.Put(ctx, "room", events, 1000)
	require.NoError(t, err)
	assert.Equal(t, cache.SnapshotVersionKey("room", 1000), key)

	got, found, err := f.store.GetLatest(ctx, "room")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, events, got)
}

func TestPersist_WritesDurableRowOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events := []canvas.DrawEvent{circle("a", "100", nil)}

	key, err := f.store.Put(ctx, "room", events, 1000)
	require.NoError(t, err)

	require.NoError(t, f.store.Persist(ctx, "room", key))
	require.NoError(t, f.store.Persist(ctx, "room", key))

	var rows []model.CanvasSnapshot
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "room", row.RoomID)
	assert.Equal(t, int64(1000), row.Timestamp)
	assert.Equal(t, key, row.SnapshotKey)
	assert.Equal(t, 1, row.EventCount)

	var raw []canvas.DrawEvent
	require.NoError(t, json.Unmarshal([]byte(row.Events), &raw))
	assert.Equal(t, events, raw)

	decoded, ts, err := codec.Decode(row.Data)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)
	assert.Equal(t, events, decoded)
}

func TestPersist_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.Persist(ctx, "room", cache.SnapshotVersionKey("other-room", 1))
	assert.ErrorIs(t, err, ErrKeyMismatch)

	err = f.store.Persist(ctx, "room", cache.SnapshotVersionKey("room", 1))
	assert.ErrorIs(t, err, ErrBlobExpired)

	key := cache.SnapshotVersionKey("room", 2)
	require.NoError(t, f.mr.Set(key, "not a snapshot"))
	err = f.store.Persist(ctx, "room", key)
	assert.ErrorIs(t, err, codec.ErrCorruptSnapshot)
}

func TestGetLatest_FallsBackToDurableAndWarmsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events := []canvas.DrawEvent{circle("a", "100", nil)}

	key, err := f.store.Put(ctx, "room", events, 1000)
	require.NoError(t, err)
	require.NoError(t, f.store.Persist(ctx, "room", key))

	// cache eviction
	f.mr.FlushAll()

	got, found, err := f.store.GetLatest(ctx, "room")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, events, got)

	assert.True(t, f.mr.Exists(cache.SnapshotKey("room")))
	assert.Equal(t, time.Hour, f.mr.TTL(cache.SnapshotKey("room")))
}

func TestGetLatest_NewestDurableRowWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, ts := range []int64{1000, 3000, 2000} {
		events := []canvas.DrawEvent{circle(string(rune('a'+i)), "100", nil)}
		key, err := f.store.Put(ctx, "room", events, ts)
		require.NoError(t, err)
		require.NoError(t, f.store.Persist(ctx, "room", key))
	}
	f.mr.FlushAll()

	got, found, err := f.store.GetLatest(ctx, "room")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestGetLatest_CacheErrorDoesNotServeDurableRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := circle("a", "100", nil)
	b := circle("b", "200", nil)

	key, err := f.store.Put(ctx, "room", []canvas.DrawEvent{a}, 1000)
	require.NoError(t, err)
	require.NoError(t, f.store.Persist(ctx, "room", key))

	// newer snapshot, not yet durable
	_, err = f.store.Put(ctx, "room", []canvas.DrawEvent{a, b}, 2000)
	require.NoError(t, err)

	f.mr.SetError("READONLY transient")
	_, found, err := f.store.GetLatest(ctx, "room")
	require.Error(t, err)
	assert.False(t, found)

	f.mr.SetError("")
	got, found, err := f.store.GetLatest(ctx, "room")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, 2)
}

func TestPut_LatestExpiresOnlyOncePersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := f.store.Put(ctx, "room", []canvas.DrawEvent{circle("a", "100", nil)}, 1000)
	require.NoError(t, err)
	assert.Zero(t, f.mr.TTL(cache.SnapshotKey("room")))

	require.NoError(t, f.store.Persist(ctx, "room", key))
	assert.Equal(t, time.Hour, f.mr.TTL(cache.SnapshotKey("room")))
}

func TestPersist_ExpiredBlobFallsBackToLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.Put(ctx, "room", []canvas.DrawEvent{circle("a", "100", nil)}, 1000)
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "room", []canvas.DrawEvent{circle("a", "100", nil), circle("b", "200", nil)}, 2000)
	require.NoError(t, err)

	// both versioned blobs outlived their TTL
	f.mr.FastForward(2 * time.Minute)
	require.False(t, f.mr.Exists(first))

	require.NoError(t, f.store.Persist(ctx, "room", first))

	var rows []model.CanvasSnapshot
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2000), rows[0].Timestamp)
	assert.Equal(t, cache.SnapshotVersionKey("room", 2000), rows[0].SnapshotKey)
	assert.Equal(t, 2, rows[0].EventCount)
	assert.Equal(t, time.Hour, f.mr.TTL(cache.SnapshotKey("room")))

	// the newer job lands on the same row
	require.NoError(t, f.store.Persist(ctx, "room", cache.SnapshotVersionKey("room", 2000)))
	var count int64
	require.NoError(t, f.db.Model(&model.CanvasSnapshot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPersist_ExpiredBlobOlderThanLatestIsLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// latest was rewound below the expired key
	_, err := f.store.Put(ctx, "room", []canvas.DrawEvent{circle("a", "100", nil)}, 500)
	require.NoError(t, err)

	err = f.store.Persist(ctx, "room", cache.SnapshotVersionKey("room", 1000))
	assert.ErrorIs(t, err, ErrBlobExpired)
}

func TestGetLatest_CorruptCacheIsAnError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set(cache.SnapshotKey("room"), "garbage"))

	_, _, err := f.store.GetLatest(context.Background(), "room")
	assert.ErrorIs(t, err, codec.ErrCorruptSnapshot)
}

func TestHistoryAndAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ts := range []int64{1000, 2000, 3000} {
		key, err := f.store.Put(ctx, "room", []canvas.DrawEvent{circle("x", "1", nil)}, ts)
		require.NoError(t, err)
		require.NoError(t, f.store.Persist(ctx, "room", key))
	}

	rows, err := f.store.History(ctx, "room", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3000), rows[0].Timestamp)
	assert.Equal(t, int64(2000), rows[1].Timestamp)

	row, err := f.store.At(ctx, "room", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), row.Timestamp)

	row, err = f.store.At(ctx, "room", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), row.Timestamp)

	_, err = f.store.At(ctx, "room", 500)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestore_RewindsLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.Put(ctx, "room", []canvas.DrawEvent{circle("a", "1", nil)}, 100)
	require.NoError(t, err)
	require.NoError(t, f.store.Persist(ctx, "room", first))

	second, err := f.store.Put(ctx, "room", []canvas.DrawEvent{circle("a", "1", nil), circle("b", "2", nil)}, 200)
	require.NoError(t, err)
	require.NoError(t, f.store.Persist(ctx, "room", second))

	row, err := f.store.Restore(ctx, "room", 150)
	require.NoError(t, err)
	assert.Equal(t, int64(100), row.Timestamp)

	events, found, err := f.store.GetLatest(ctx, "room")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].ID)

	_, err = f.store.Restore(ctx, "room", 50)
	assert.ErrorIs(t, err, ErrNotFound)
}
