package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/config"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func line(id, ts string) canvas.DrawEvent {
	return canvas.DrawEvent{
		ID:          id,
		Type:        canvas.EventLine,
		StrokeColor: "#000000",
		StrokeWidth: 2,
		Timestamp:   ts,
		From:        &canvas.Point{X: 1, Y: 1},
		To:          &canvas.Point{X: 5, Y: 5},
	}
}

func TestPendingLog_AppendCountAll(t *testing.T) {
	rc, mr := newTestClient(t)
	log := NewPendingLog(rc, time.Hour)
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "room-1", line("b", "200")))
	require.NoError(t, log.Append(ctx, "room-1", line("a", "100")))
	require.NoError(t, log.Append(ctx, "room-1", line("c", "100")))
	require.NoError(t, log.Append(ctx, "room-2", line("z", "1")))

	n, err := log.Count(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	events, err := log.AllPending(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "c", events[1].ID)
	assert.Equal(t, "b", events[2].ID)

	assert.Equal(t, time.Hour, mr.TTL(PendingKey("room-1")))
}

func TestPendingLog_AppendIsIdempotentByID(t *testing.T) {
	rc, _ := newTestClient(t)
	log := NewPendingLog(rc, time.Hour)
	ctx := context.Background()

	first := line("same", "100")
	second := line("same", "100")
	second.StrokeColor = "#ff0000"

	require.NoError(t, log.Append(ctx, "room", first))
	require.NoError(t, log.Append(ctx, "room", second))

	events, err := log.AllPending(ctx, "room")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "#ff0000", events[0].StrokeColor)
}

func TestPendingLog_EmptyRoom(t *testing.T) {
	rc, _ := newTestClient(t)
	log := NewPendingLog(rc, time.Hour)

	n, err := log.Count(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)

	events, err := log.AllPending(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPendingLog_RemoveKeepsUnreadEvents(t *testing.T) {
	rc, _ := newTestClient(t)
	log := NewPendingLog(rc, time.Hour)
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "room", line("a", "1")))
	require.NoError(t, log.Append(ctx, "room", line("b", "2")))

	read, err := log.AllPending(ctx, "room")
	require.NoError(t, err)

	// lands between read and remove
	require.NoError(t, log.Append(ctx, "room", line("late", "3")))

	ids := make([]string, len(read))
	for i, e := range read {
		ids[i] = e.ID
	}
	require.NoError(t, log.Remove(ctx, "room", ids...))

	left, err := log.AllPending(ctx, "room")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "late", left[0].ID)

	assert.NoError(t, log.Remove(ctx, "room"))
}

func TestPendingLog_Clear(t *testing.T) {
	rc, mr := newTestClient(t)
	log := NewPendingLog(rc, time.Hour)
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "room", line("a", "1")))
	require.NoError(t, log.Clear(ctx, "room"))

	assert.False(t, mr.Exists(PendingKey("room")))
}

func TestPendingLog_CorruptEntryIsAnError(t *testing.T) {
	rc, mr := newTestClient(t)
	log := NewPendingLog(rc, time.Hour)

	mr.HSet(PendingKey("room"), "broken", "{not json")

	_, err := log.AllPending(context.Background(), "room")
	assert.ErrorIs(t, err, ErrCorruptPending)
}

func TestPendingLog_AppendFailsWhenRedisIsDown(t *testing.T) {
	rc, mr := newTestClient(t)
	log := NewPendingLog(rc, time.Hour)

	mr.Close()

	err := log.Append(context.Background(), "room", line("a", "1"))
	assert.Error(t, err)
}

func TestLease_MutualExclusion(t *testing.T) {
	rc, _ := newTestClient(t)
	lease := NewLease(rc, 30*time.Second)
	ctx := context.Background()

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := lease.Acquire(ctx, "room")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestLease_ReleaseOnlyByOwner(t *testing.T) {
	rc, mr := newTestClient(t)
	lease := NewLease(rc, 30*time.Second)
	ctx := context.Background()

	token, ok, err := lease.Acquire(ctx, "room")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, mr.TTL(LockKey("room")))

	require.NoError(t, lease.Release(ctx, "room", "someone-else"))
	assert.True(t, mr.Exists(LockKey("room")))

	require.NoError(t, lease.Release(ctx, "room", token))
	assert.False(t, mr.Exists(LockKey("room")))

	_, ok, err = lease.Acquire(ctx, "room")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_ExpiresUnderCrashedHolder(t *testing.T) {
	rc, mr := newTestClient(t)
	lease := NewLease(rc, 30*time.Second)
	ctx := context.Background()

	_, ok, err := lease.Acquire(ctx, "room")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	_, ok, err = lease.Acquire(ctx, "room")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSnapshotBlobs(t *testing.T) {
	rc, mr := newTestClient(t)
	ctx := context.Background()

	_, err := rc.LatestSnapshot(ctx, "room")
	assert.ErrorIs(t, err, ErrCacheMiss)

	key, err := rc.PutSnapshot(ctx, "room", 1700000000000, []byte{1, 2, 3}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "canvas:room:room:snapshot:1700000000000", key)

	latest, err := rc.LatestSnapshot(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, latest)

	blob, err := rc.SnapshotBlob(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, blob)
	assert.Equal(t, time.Minute, mr.TTL(key))
	assert.Zero(t, mr.TTL(SnapshotKey("room")), "latest has no TTL before persistence")

	// warm-up never clobbers a newer latest
	require.NoError(t, rc.WarmSnapshot(ctx, "room", []byte{9}, time.Hour))
	latest, err = rc.LatestSnapshot(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, latest)
}

func TestSettleSnapshot(t *testing.T) {
	rc, mr := newTestClient(t)
	ctx := context.Background()

	_, err := rc.PutSnapshot(ctx, "room", 1000, []byte{1}, time.Minute)
	require.NoError(t, err)
	_, err = rc.PutSnapshot(ctx, "room", 2000, []byte{2}, time.Minute)
	require.NoError(t, err)

	// an older blob must not start the TTL of the newer latest
	ok, err := rc.SettleSnapshot(ctx, "room", []byte{1}, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, mr.TTL(SnapshotKey("room")))

	ok, err = rc.SettleSnapshot(ctx, "room", []byte{2}, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL(SnapshotKey("room")))
}
