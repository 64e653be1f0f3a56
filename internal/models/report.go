package models

import (
	"time"
)

// CategorySummary aggregates total focus time for one category over a
// report period.
type CategorySummary struct {
	Category     string  `json:"category"`
	TotalSeconds float64 `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	Percentage   float64 `json:"percentage,omitempty"`
}

// ReportPeriod is the half-open time range a report covers.
type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

// Report is a rendered per-category breakdown for one period.
type Report struct {
	Period       ReportPeriod      `json:"period"`
	Categories   []CategorySummary `json:"categories"`
	TotalSeconds float64           `json:"total_seconds"`
	TotalHours   float64           `json:"total_hours"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// StoreStats summarizes table sizes for the status surface.
type StoreStats struct {
	Intervals   int64  `json:"intervals"`
	Buckets     int64  `json:"buckets"`
	Quarantined int64  `json:"quarantined"`
	Rejected    int64  `json:"rejected"`
	Cursor      uint64 `json:"cursor"`
}
