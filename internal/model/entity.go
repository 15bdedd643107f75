package model

import (
	"time"
)

// User 사용자 (계정 정보는 외부 서비스가 관리, 여기서는 조회만 한다)
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Picture   *string   `gorm:"type:text" json:"picture,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Room 캔버스 방
type Room struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(100);not null" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	OwnerID     string    `gorm:"type:varchar(36);not null" json:"owner_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Owner   User         `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Members []RoomMember `gorm:"foreignKey:RoomID" json:"members,omitempty"`
}

func (Room) TableName() string {
	return "rooms"
}

// RoomMember 방 멤버십
type RoomMember struct {
	ID       int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID   string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_room_member" json:"room_id"`
	UserID   string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_room_member" json:"user_id"`
	Role     MemberRole `gorm:"type:varchar(20);not null;default:'MEMBER'" json:"role"`
	JoinedAt time.Time  `gorm:"autoCreateTime" json:"joined_at"`

	// Relations
	Room Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (RoomMember) TableName() string {
	return "room_members"
}
