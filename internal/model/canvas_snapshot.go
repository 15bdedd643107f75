package model

import (
	"time"
)

// CanvasSnapshot 컴팩션된 캔버스 스냅샷 (컴팩션 1회당 1행)
// Data 는 바이너리 스냅샷, Events 는 복구/점검 도구용 원본 이벤트 JSON
type CanvasSnapshot struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID      string    `gorm:"type:varchar(36);not null;index:idx_snapshot_room_ts,priority:1" json:"room_id"`
	Timestamp   int64     `gorm:"not null;index:idx_snapshot_room_ts,priority:2" json:"timestamp"`
	SnapshotKey string    `gorm:"type:varchar(200);uniqueIndex;not null" json:"snapshot_key"`
	Data        []byte    `gorm:"not null" json:"-"`
	Events      string    `gorm:"type:jsonb;not null" json:"events"`
	EventCount  int       `gorm:"not null" json:"event_count"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CanvasSnapshot) TableName() string {
	return "canvas_snapshots"
}
