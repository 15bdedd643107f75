package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/model"
)

const maxSwapAttempts = 8

// ErrConflict 같은 사용자 항목이 계속 바뀌어 반영하지 못함
var ErrConflict = errors.New("presence entry changed concurrently")

var compareAndDelete = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

var compareAndSet = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
	return 1
end
return 0
`)

// Entry 방에 접속 중인 사용자 한 명의 presence 데이터
type Entry struct {
	UserID   string           `json:"userId"`
	Role     model.MemberRole `json:"role"`
	Name     string           `json:"name"`
	Picture  *string          `json:"picture,omitempty"`
	JoinedAt int64            `json:"joinedAt"` // ms
	ConnID   string           `json:"connId"`
}

// Manager Presence 관리자 (방 단위 Redis 해시)
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewManager 생성자
// ttl 은 서버가 비정상 종료됐을 때 남은 항목이 정리되는 상한이다.
func NewManager(r *cache.RedisClient, ttl time.Duration) *Manager {
	return &Manager{client: r.Client(), ttl: ttl}
}

// AddActive 접속 등록 (같은 사용자의 이전 항목은 덮어쓴다)
func (m *Manager) AddActive(ctx context.Context, roomID string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := cache.PresenceKey(roomID)
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, entry.UserID, data)
		if m.ttl > 0 {
			pipe.Expire(ctx, key, m.ttl)
		}
		return nil
	})
	return err
}

// Touch 방 presence 해시의 TTL 갱신
// 아무도 새로 들어오지 않는 방에서도 접속 중인 동안 항목이 만료되지 않게 한다.
func (m *Manager) Touch(ctx context.Context, roomID string) error {
	if m.ttl <= 0 {
		return nil
	}
	return m.client.Expire(ctx, cache.PresenceKey(roomID), m.ttl).Err()
}

// RemoveActive 접속 해제 (없는 사용자는 무시)
func (m *Manager) RemoveActive(ctx context.Context, roomID, userID string) error {
	return m.client.HDel(ctx, cache.PresenceKey(roomID), userID).Err()
}

// RemoveConnection 해당 연결이 등록한 항목일 때만 삭제
// 같은 사용자가 다른 탭으로 다시 들어온 경우 새 항목을 지우지 않는다.
func (m *Manager) RemoveConnection(ctx context.Context, roomID, userID, connID string) (bool, error) {
	return m.swap(ctx, roomID, userID, func(e *Entry) (*Entry, bool) {
		if e.ConnID != connID {
			return nil, false
		}
		return nil, true
	})
}

// Get 사용자 한 명 조회 (접속 중이 아니면 nil)
func (m *Manager) Get(ctx context.Context, roomID, userID string) (*Entry, error) {
	return getEntry(ctx, m.client, cache.PresenceKey(roomID), userID)
}

// ListActive 방 접속자 목록 (입장 시각 순)
func (m *Manager) ListActive(ctx context.Context, roomID string) ([]Entry, error) {
	values, err := m.client.HGetAll(ctx, cache.PresenceKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(values))
	for _, v := range values {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt != entries[j].JoinedAt {
			return entries[i].JoinedAt < entries[j].JoinedAt
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

// UpdateRole 역할 변경 반영 (접속 중이 아니면 false)
func (m *Manager) UpdateRole(ctx context.Context, roomID, userID string, role model.MemberRole) (bool, error) {
	return m.swap(ctx, roomID, userID, func(e *Entry) (*Entry, bool) {
		e.Role = role
		return e, true
	})
}

// swap 한 사용자 항목을 읽고 바꾼 뒤, 그 사이 항목이 그대로일 때만 반영한다.
// 같은 방의 다른 사용자 변경과는 충돌하지 않는다.
// change 가 false 를 반환하면 아무것도 하지 않고, nil 항목을 반환하면 삭제한다.
func (m *Manager) swap(ctx context.Context, roomID, userID string, change func(*Entry) (*Entry, bool)) (bool, error) {
	key := cache.PresenceKey(roomID)

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		raw, err := m.client.HGet(ctx, key, userID).Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return false, err
		}
		next, ok := change(&e)
		if !ok {
			return false, nil
		}

		var n int
		if next == nil {
			n, err = compareAndDelete.Run(ctx, m.client, []string{key}, userID, raw).Int()
		} else {
			data, merr := json.Marshal(next)
			if merr != nil {
				return false, merr
			}
			n, err = compareAndSet.Run(ctx, m.client, []string{key}, userID, raw, data).Int()
		}
		if err != nil {
			return false, err
		}
		if n == 1 {
			return true, nil
		}
		// the same user's entry changed underneath; read it again
	}
	return false, ErrConflict
}

func getEntry(ctx context.Context, c *redis.Client, key, userID string) (*Entry, error) {
	val, err := c.HGet(ctx, key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
