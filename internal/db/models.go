package db

import (
	"time"

	"github.com/lyallcooper/primescan/internal/types"
)

// ScanRun represents a single prime scan over a range
type ScanRun struct {
	ID             int64
	First          int64
	Last           int64
	Status         types.ScanStatus
	LastExamined   int64
	PrimesFound    int
	ScheduledJobID *int64
	StartedAt      time.Time
	PausedAt       *time.Time // Most recent pause, if any
	CompletedAt    *time.Time
}

// ScheduledJob represents a cron job for automatic range scans
type ScheduledJob struct {
	ID             int64
	Name           string
	First          int64
	Last           int64
	CronExpression string
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	CreatedAt      time.Time
}
