package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"canvas-backend/internal/model"
)

// ErrInvalidTransition 허용되지 않은 상태 전이
var ErrInvalidTransition = errors.New("invalid session state transition")

// State 캔버스 WebSocket 연결 상태
type State int

const (
	StateConnecting          State = iota // roomId 검증
	StateAuthenticating                   // 토큰 검증
	StateVerifyingMembership              // 방/멤버십 확인
	StateJoining                          // presence 등록
	StateActive                           // 그리기 이벤트 송수신
	StateLeaving                          // 스스로 나감
	StateRemoved                          // 추방됨
	StateDisconnected                     // 전송 계층 끊김
	StateClosed                           // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateVerifyingMembership:
		return "verifying_membership"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	case StateRemoved:
		return "removed"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// 모든 상태에서 Closed 로 갈 수 있다 (초기 단계 실패 포함)
var transitions = map[State][]State{
	StateConnecting:          {StateAuthenticating},
	StateAuthenticating:      {StateVerifyingMembership},
	StateVerifyingMembership: {StateJoining},
	StateJoining:             {StateActive, StateDisconnected},
	StateActive:              {StateLeaving, StateRemoved, StateDisconnected},
	StateLeaving:             {},
	StateRemoved:             {},
	StateDisconnected:        {},
}

// Terminal Leaving/Removed/Disconnected/Closed 여부
func (s State) Terminal() bool {
	return s >= StateLeaving
}

// Session 캔버스 연결 하나의 상태 (Thread-Safe)
// 출력은 전부 outbound 채널을 거쳐 writer 고루틴 하나가 소켓에 쓴다.
type Session struct {
	ID          string
	RoomID      string
	ConnectedAt time.Time

	mu       sync.RWMutex
	state    State
	userID   string
	name     string
	picture  *string
	role     model.MemberRole
	joinedAt int64

	// ready 전에 도착한 라이브 메시지는 backlog 에 쌓였다가 ready 직후 전송된다
	ready   bool
	backlog [][]byte

	outbound chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	overflow bool
}

// New 새 세션 생성
func New(roomID string, bufferSize int) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		ConnectedAt: time.Now(),
		state:       StateConnecting,
		outbound:    make(chan []byte, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context 세션 컨텍스트 (Close 시 취소)
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done 세션 종료 신호
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Transition 상태 전이 (허용 목록 검사)
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) error {
	if s.state == StateClosed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	if to == StateClosed {
		s.state = to
		return nil
	}
	for _, next := range transitions[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// SetIdentity 인증/멤버십 확인 후 사용자 정보 설정
func (s *Session) SetIdentity(userID, name string, picture *string, role model.MemberRole) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userID = userID
	s.name = name
	s.picture = picture
	s.role = role
}

// UserID 사용자 ID
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userID
}

// Name 사용자 이름
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.name
}

// Picture 프로필 이미지
func (s *Session) Picture() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.picture
}

// Role 현재 역할 (권한 검사에 사용)
func (s *Session) Role() model.MemberRole {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.role
}

// SetRole 역할 변경 반영
func (s *Session) SetRole(role model.MemberRole) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.role = role
}

// SetJoinedAt 입장 시각 기록 (ms)
func (s *Session) SetJoinedAt(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.joinedAt = ms
}

// JoinedAt 입장 시각 (ms)
func (s *Session) JoinedAt() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.joinedAt
}

// Send 즉시 전송 큐에 넣는다 (입장 절차 메시지, 본인에게만 가는 응답)
// 큐가 가득 차면 세션을 닫고 false 를 반환한다.
func (s *Session) Send(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enqueueLocked(msg)
}

// Deliver 라이브 브로드캐스트 전송 (ready 전이면 backlog 에 보관)
func (s *Session) Deliver(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		s.backlog = append(s.backlog, msg)
		return true
	}
	return s.enqueueLocked(msg)
}

// Activate ready 메시지를 보낸 뒤 backlog 를 순서대로 비운다
func (s *Session) Activate(readyMsg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enqueueLocked(readyMsg) {
		return false
	}
	for _, msg := range s.backlog {
		if !s.enqueueLocked(msg) {
			return false
		}
	}
	s.backlog = nil
	s.ready = true
	return true
}

func (s *Session) enqueueLocked(msg []byte) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.outbound <- msg:
		return true
	default:
		// 느린 클라이언트: 메시지를 버리는 대신 연결을 끊는다
		s.overflow = true
		s.cancel()
		return false
	}
}

// Outbound writer 고루틴이 읽는 채널
func (s *Session) Outbound() <-chan []byte {
	return s.outbound
}

// Overflowed 출력 큐 초과로 닫혔는지
func (s *Session) Overflowed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.overflow
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Close 세션 종료 (여러 번 호출해도 안전)
// outbound 채널은 닫지 않는다. writer 는 Done 을 보고 남은 메시지를 비운 뒤 끝난다.
func (s *Session) Close() {
	s.cancel()
}

// Finish 상태를 Closed 로 기록
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateClosed
	s.cancel()
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	return s.ctx.Err() != nil
}
