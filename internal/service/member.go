package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"canvas-backend/internal/model"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("not a room member")
	ErrInvalidInput = errors.New("invalid input")
)

// MemberService 방/멤버십 조회와 변경 (캔버스 프로토콜이 필요로 하는 만큼만)
type MemberService struct {
	db *gorm.DB
}

// NewMemberService MemberService 생성
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// GetRoom 방 조회
func (s *MemberService) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	var room model.Room
	err := s.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetMembership 멤버십 조회 (User 포함)
func (s *MemberService) GetMembership(ctx context.Context, roomID, userID string) (*model.RoomMember, error) {
	var member model.RoomMember
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, err
	}
	if !member.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrNotMember, member.Role)
	}
	return &member, nil
}

// RemoveMember 멤버십 삭제
// alsoDo 는 같은 트랜잭션 안에서 실행되며, 실패하면 삭제가 롤백된다.
func (s *MemberService) RemoveMember(ctx context.Context, roomID, userID string, alsoDo func() error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&model.RoomMember{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotMember
		}
		if alsoDo != nil {
			return alsoDo()
		}
		return nil
	})
}

// UpdateRole 멤버 역할 변경 (alsoDo 는 RemoveMember 와 같다)
func (s *MemberService) UpdateRole(ctx context.Context, roomID, userID string, role model.MemberRole, alsoDo func() error) error {
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.RoomMember{}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Update("role", role)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotMember
		}
		if alsoDo != nil {
			return alsoDo()
		}
		return nil
	})
}

// UpdateRoomInfo 방 이름/설명 수정 (nil 필드는 유지)
func (s *MemberService) UpdateRoomInfo(ctx context.Context, roomID string, name, description *string) (*model.Room, error) {
	updates := map[string]interface{}{}
	if name != nil {
		if *name == "" || len(*name) > 100 {
			return nil, fmt.Errorf("%w: name must be 1-100 characters", ErrInvalidInput)
		}
		updates["name"] = *name
	}
	if description != nil {
		updates["description"] = *description
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}

	var room model.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", roomID).First(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if err := tx.Model(&room).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", roomID).First(&room).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}
