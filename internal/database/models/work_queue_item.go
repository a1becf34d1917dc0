package models

import (
	"time"
)

// WorkItemType identifies the kind of asynchronous job.
type WorkItemType string

const (
	WorkItemLogPurge WorkItemType = "LogPurge"
)

// WorkItemStatus is the lifecycle state of a queued job.
// Legal transitions: Pending -> InProgress -> {Completed | Failed},
// and Pending -> Cancelled. Nothing else.
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "Pending"
	WorkItemInProgress WorkItemStatus = "InProgress"
	WorkItemCompleted  WorkItemStatus = "Completed"
	WorkItemFailed     WorkItemStatus = "Failed"
	WorkItemCancelled  WorkItemStatus = "Cancelled"
)

// Terminal reports whether the status is an end state.
func (s WorkItemStatus) Terminal() bool {
	return s == WorkItemCompleted || s == WorkItemFailed || s == WorkItemCancelled
}

// PurgeTimeRange selects how far back a purge reaches.
type PurgeTimeRange string

const (
	RangeAll   PurgeTimeRange = "all"
	RangeHour  PurgeTimeRange = "hour"
	RangeDay   PurgeTimeRange = "day"
	RangeWeek  PurgeTimeRange = "week"
	RangeMonth PurgeTimeRange = "month"
)

// Valid reports whether r is a known time range token.
func (r PurgeTimeRange) Valid() bool {
	switch r {
	case RangeAll, RangeHour, RangeDay, RangeWeek, RangeMonth:
		return true
	}
	return false
}

// CutoffFrom resolves the range to a start-date filter relative to now.
// The second return is false for RangeAll (no filter).
func (r PurgeTimeRange) CutoffFrom(now time.Time) (time.Time, bool) {
	switch r {
	case RangeHour:
		return now.Add(-1 * time.Hour), true
	case RangeDay:
		return now.AddDate(0, 0, -1), true
	case RangeWeek:
		return now.AddDate(0, 0, -7), true
	case RangeMonth:
		return now.AddDate(0, -1, 0), true
	default:
		return time.Time{}, false
	}
}

// WorkQueueItem is a durable record of one asynchronous bulk operation.
type WorkQueueItem struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	Type             WorkItemType   `gorm:"not null;size:32" json:"type"`
	Status           WorkItemStatus `gorm:"not null;index;size:16" json:"status"`
	PodName          string         `gorm:"not null;index;size:200" json:"podName"`
	DeploymentName   string         `gorm:"size:200" json:"deploymentName,omitempty"`
	TimeRange        PurgeTimeRange `gorm:"not null;size:8" json:"timeRange"`
	CreatedAt        time.Time      `gorm:"index" json:"createdAt"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	ErrorMessage     string         `gorm:"type:text" json:"errorMessage,omitempty"`
	RecordsAffected  int64          `json:"recordsAffected"`
	EstimatedRecords int64          `json:"estimatedRecords"`
	Progress         int            `gorm:"default:0" json:"progress"`
	CreatedBy        string         `gorm:"size:200" json:"createdBy,omitempty"`
	ClaimToken       string         `gorm:"size:36;index" json:"-"`
}

func (WorkQueueItem) TableName() string {
	return "work_queue_items"
}
