// Package snapshot is the two-tier store for compacted canvas state: Redis
// holds the latest encoded snapshot for low-latency joins, Postgres keeps one
// row per compaction for crash recovery and history.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/canvas"
	"canvas-backend/internal/codec"
	"canvas-backend/internal/model"
)

var (
	// ErrNotFound is returned by durable lookups that match no row.
	ErrNotFound = errors.New("snapshot not found")
	// ErrBlobExpired means the versioned blob left the fast tier before it was persisted.
	ErrBlobExpired = errors.New("snapshot blob expired before persistence")
	// ErrKeyMismatch means a snapshot key does not belong to the given room.
	ErrKeyMismatch = errors.New("snapshot key does not belong to room")
)

// "timestamp" is a keyword in Postgres, so the column is always quoted.
var (
	byTimestampDesc = clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}
	byIDDesc        = clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}
)

// Store reads and writes room snapshots across both tiers.
type Store struct {
	cache    *cache.RedisClient
	db       *gorm.DB
	cacheTTL time.Duration
	blobTTL  time.Duration
}

// NewStore creates a snapshot store. cacheTTL bounds the latest-snapshot
// entry once it is durable, blobTTL the versioned blob waiting for the
// durability worker.
func NewStore(rc *cache.RedisClient, db *gorm.DB, cacheTTL, blobTTL time.Duration) *Store {
	return &Store{cache: rc, db: db, cacheTTL: cacheTTL, blobTTL: blobTTL}
}

// GetLatest returns the room's latest snapshot events. found is false when
// the room has no history yet; that is not an error.
//
// Only a cache miss falls back to the durable tier. The durable tier lags
// the cache until the worker persists, so any other cache error is returned.
func (s *Store) GetLatest(ctx context.Context, roomID string) ([]canvas.DrawEvent, bool, error) {
	blob, err := s.cache.LatestSnapshot(ctx, roomID)
	switch {
	case err == nil:
		events, _, err := codec.Decode(blob)
		if err != nil {
			return nil, false, fmt.Errorf("decode cached snapshot: %w", err)
		}
		return events, true, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		return nil, false, fmt.Errorf("read cached snapshot: %w", err)
	}

	var row model.CanvasSnapshot
	err = s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order(byTimestampDesc).
		Order(byIDDesc).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []canvas.DrawEvent{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load durable snapshot: %w", err)
	}

	events, _, err := codec.Decode(row.Data)
	if err != nil {
		return nil, false, fmt.Errorf("decode durable snapshot %d: %w", row.ID, err)
	}

	if err := s.cache.WarmSnapshot(ctx, roomID, row.Data, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("component", "snapshot").Str("room", roomID).Msg("cache warm-up failed")
	}
	return events, true, nil
}

// Put encodes events once and writes them to the fast tier as both the
// room's latest snapshot and a versioned blob. The returned key identifies
// the blob for Persist.
func (s *Store) Put(ctx context.Context, roomID string, events []canvas.DrawEvent, timestampMillis int64) (string, error) {
	blob, err := codec.Encode(events, timestampMillis)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key, err := s.cache.PutSnapshot(ctx, roomID, timestampMillis, blob, s.blobTTL)
	if err != nil {
		return "", fmt.Errorf("write snapshot to cache: %w", err)
	}
	return key, nil
}

// Persist copies the versioned blob into the durable tier together with a
// JSON copy of its events. Persisting the same key twice is a no-op.
//
// When the versioned blob has expired, the room's latest snapshot is
// persisted instead as long as it is the same or a newer compaction: a newer
// snapshot already contains every event of the expired one.
func (s *Store) Persist(ctx context.Context, roomID, snapshotKey string) error {
	prefix := cache.SnapshotKey(roomID) + ":"
	if !strings.HasPrefix(snapshotKey, prefix) {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, snapshotKey)
	}
	keyTS, err := strconv.ParseInt(strings.TrimPrefix(snapshotKey, prefix), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, snapshotKey)
	}

	blob, err := s.cache.SnapshotBlob(ctx, snapshotKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return s.persistLatest(ctx, roomID, snapshotKey, keyTS)
	}
	if err != nil {
		return fmt.Errorf("read snapshot blob: %w", err)
	}

	events, ts, err := codec.Decode(blob)
	if err != nil {
		return fmt.Errorf("decode snapshot blob %s: %w", snapshotKey, err)
	}
	return s.insert(ctx, roomID, snapshotKey, blob, events, ts)
}

func (s *Store) persistLatest(ctx context.Context, roomID, snapshotKey string, keyTS int64) error {
	blob, err := s.cache.LatestSnapshot(ctx, roomID)
	if errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("%w: %s", ErrBlobExpired, snapshotKey)
	}
	if err != nil {
		return fmt.Errorf("read latest snapshot: %w", err)
	}

	events, ts, err := codec.Decode(blob)
	if err != nil {
		return fmt.Errorf("decode latest snapshot: %w", err)
	}
	if ts < keyTS {
		// rewound by a restore; the expired compaction is gone for good
		return fmt.Errorf("%w: %s", ErrBlobExpired, snapshotKey)
	}

	latestKey := cache.SnapshotVersionKey(roomID, ts)
	log.Warn().Str("component", "snapshot").Str("key", snapshotKey).Str("persisted_as", latestKey).
		Msg("versioned blob expired, persisting latest snapshot")
	return s.insert(ctx, roomID, latestKey, blob, events, ts)
}

func (s *Store) insert(ctx context.Context, roomID, snapshotKey string, blob []byte, events []canvas.DrawEvent, ts int64) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return err
	}

	row := model.CanvasSnapshot{
		RoomID:      roomID,
		Timestamp:   ts,
		SnapshotKey: snapshotKey,
		Data:        blob,
		Events:      string(raw),
		EventCount:  len(events),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "snapshot_key"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return fmt.Errorf("insert snapshot row: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		log.Debug().Str("component", "snapshot").Str("key", snapshotKey).Msg("already persisted")
	}

	// durable now, so the cached copy may expire
	if _, err := s.cache.SettleSnapshot(ctx, roomID, blob, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("component", "snapshot").Str("room", roomID).Msg("latest snapshot TTL not set")
	}
	return nil
}

// History lists durable snapshots for a room, newest first.
func (s *Store) History(ctx context.Context, roomID string, limit int) ([]model.CanvasSnapshot, error) {
	var rows []model.CanvasSnapshot
	q := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order(byTimestampDesc).
		Order(byIDDesc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// At returns the newest durable snapshot taken at or before timestampMillis.
// A zero timestamp means the newest overall.
func (s *Store) At(ctx context.Context, roomID string, timestampMillis int64) (*model.CanvasSnapshot, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if timestampMillis > 0 {
		q = q.Where(clause.Lte{Column: clause.Column{Name: "timestamp"}, Value: timestampMillis})
	}

	var row model.CanvasSnapshot
	err := q.Order(byTimestampDesc).Order(byIDDesc).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Restore makes a durable snapshot the room's latest again. Pending events
// are left alone and merge on top of it at the next compaction.
func (s *Store) Restore(ctx context.Context, roomID string, timestampMillis int64) (*model.CanvasSnapshot, error) {
	row, err := s.At(ctx, roomID, timestampMillis)
	if err != nil {
		return nil, err
	}
	if _, _, err := codec.Decode(row.Data); err != nil {
		return nil, fmt.Errorf("decode durable snapshot %d: %w", row.ID, err)
	}
	if err := s.cache.RestoreSnapshot(ctx, roomID, row.Data, s.cacheTTL); err != nil {
		return nil, fmt.Errorf("write snapshot to cache: %w", err)
	}

	log.Info().Str("component", "snapshot").Str("room", roomID).Int64("timestamp", row.Timestamp).Msg("snapshot restored")
	return row, nil
}
