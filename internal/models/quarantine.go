package models

import (
	"time"
)

// QuarantinedInterval preserves an interval row that failed validation
// during replay. Rows are moved here instead of deleted so corrupt
// history stays inspectable.
type QuarantinedInterval struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Seq           uint64    `gorm:"not null;index" json:"seq"`
	IntervalID    string    `gorm:"size:36" json:"interval_id"`
	Category      string    `json:"category"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	Reason        string    `gorm:"not null" json:"reason"`
	QuarantinedAt time.Time `gorm:"autoCreateTime" json:"quarantined_at"`
}

func (QuarantinedInterval) TableName() string {
	return "quarantined_intervals"
}

// RejectedEvent logs a focus event refused by the tracker, typically
// because it predates the open interval.
type RejectedEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventAt   time.Time `gorm:"not null;index" json:"event_at"`
	OpenStart time.Time `json:"open_start"`
	Category  string    `json:"category"`
	Reason    string    `gorm:"not null" json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RejectedEvent) TableName() string {
	return "rejected_events"
}
