package models

import (
	"time"
)

// LogSummary is an hourly per-pod rollup derived from log_records. Rows are
// upserted at ingest time and purged together with the records they cover.
type LogSummary struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	DeploymentName   string    `gorm:"not null;index;size:200"`
	PodName          string    `gorm:"not null;uniqueIndex:idx_summary_bucket;size:200"`
	Bucket           time.Time `gorm:"not null;uniqueIndex:idx_summary_bucket"` // truncated to the hour
	TotalCount       int64     `gorm:"default:0"`
	ErrorCount       int64     `gorm:"default:0"`
	WarningCount     int64     `gorm:"default:0"`
	InformationCount int64     `gorm:"default:0"`
	UpdatedAt        time.Time
}

func (LogSummary) TableName() string {
	return "log_summaries"
}
