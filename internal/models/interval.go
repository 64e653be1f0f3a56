package models

import (
	"time"
)

// Interval is one closed span of attention to a single category. The
// intervals table is an append-only log; Seq doubles as the replay
// cursor for checkpoint recovery.
type Interval struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	IntervalID string    `gorm:"uniqueIndex;size:36;not null" json:"interval_id"`
	Category   string    `gorm:"not null;index" json:"category"`
	StartAt    time.Time `gorm:"not null;index" json:"start_at"`
	EndAt      time.Time `gorm:"not null" json:"end_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Interval) TableName() string {
	return "intervals"
}

// Duration returns the interval length.
func (iv *Interval) Duration() time.Duration {
	return iv.EndAt.Sub(iv.StartAt)
}

// Bucket is one checkpointed slot/category cell of the bucket table.
type Bucket struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	SlotStart  time.Time `gorm:"not null;uniqueIndex:idx_buckets_slot_category" json:"slot_start"`
	Category   string    `gorm:"not null;uniqueIndex:idx_buckets_slot_category" json:"category"`
	DurationNS int64     `gorm:"not null" json:"duration_ns"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Bucket) TableName() string {
	return "buckets"
}

// Checkpoint records the replay cursor matching the persisted bucket
// table. Cursor semantics: buckets reflect every interval with
// Seq <= Seq here, and none after. There is a single logical row.
type Checkpoint struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Seq       uint64    `gorm:"not null" json:"seq"`
	WrittenAt time.Time `gorm:"not null" json:"written_at"`
}

func (Checkpoint) TableName() string {
	return "checkpoints"
}
