package repositories

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"gorm.io/gorm"

	"logship/internal/database/models"
)

// ErrPurgeConflict rejects an enqueue while a Pending or InProgress purge
// already exists for the same pod.
var ErrPurgeConflict = errors.New("a purge is already queued or running for this pod")

// ErrNotCancellable rejects a cancel on any item that is not Pending.
var ErrNotCancellable = errors.New("only pending items can be cancelled")

// StatusCounts summarizes the queue by lifecycle state.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"inProgress"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// WorkQueueRepository persists asynchronous job items and enforces their
// state machine at the storage layer.
type WorkQueueRepository interface {
	Enqueue(item *models.WorkQueueItem) error
	ClaimOldestPending() (*models.WorkQueueItem, error)
	Cancel(id string) (*models.WorkQueueItem, error)
	Complete(id string, recordsAffected int64) error
	Fail(id string, message string) error
	UpdateProgress(id string, progress int, recordsAffected int64) error
	FindByID(id string) (*models.WorkQueueItem, error)
	FindAll(limit int) ([]models.WorkQueueItem, error)
	FindActive() ([]models.WorkQueueItem, error)
	FindByPod(podName string) ([]models.WorkQueueItem, error)
	CountByStatus() (StatusCounts, error)
	ResetOrphaned() (int64, error)
}

type workQueueRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewWorkQueueRepository creates a new work queue repository
func NewWorkQueueRepository(db *gorm.DB, logger *pterm.Logger) WorkQueueRepository {
	return &workQueueRepo{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts a new Pending item unless the pod already has one queued
// or running. The conflict check and insert share a transaction so two
// concurrent enqueues for the same pod cannot both pass the check.
func (r *workQueueRepo) Enqueue(item *models.WorkQueueItem) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		err := tx.Model(&models.WorkQueueItem{}).
			Where("pod_name = ? AND status IN ?", item.PodName,
				[]models.WorkItemStatus{models.WorkItemPending, models.WorkItemInProgress}).
			Count(&existing).Error
		if err != nil {
			r.logger.WithCaller().Error("Failed conflict check on enqueue",
				r.logger.Args("pod", item.PodName, "error", err))
			return err
		}
		if existing > 0 {
			return ErrPurgeConflict
		}

		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.Status = models.WorkItemPending
		item.CreatedAt = time.Now()

		if err := tx.Create(item).Error; err != nil {
			r.logger.WithCaller().Error("Failed to enqueue work item",
				r.logger.Args("pod", item.PodName, "error", err))
			return err
		}

		r.logger.Info("Work item enqueued",
			r.logger.Args("id", item.ID, "pod", item.PodName, "range", item.TimeRange,
				"estimated_records", item.EstimatedRecords))
		return nil
	})
}

// ClaimOldestPending atomically claims the oldest Pending item and flips it
// to InProgress. The claim is a single UPDATE with a subselect and a fresh
// claim token; two processors racing on the same item get disjoint tokens,
// so exactly one re-reads its claimed row. Returns nil when the queue is
// empty.
func (r *workQueueRepo) ClaimOldestPending() (*models.WorkQueueItem, error) {
	token := uuid.NewString()
	now := time.Now()

	result := r.db.Model(&models.WorkQueueItem{}).
		Where("id = (?)",
			r.db.Model(&models.WorkQueueItem{}).
				Select("id").
				Where("status = ?", models.WorkItemPending).
				Order("created_at ASC").
				Limit(1)).
		Where("status = ?", models.WorkItemPending).
		Updates(map[string]interface{}{
			"status":      models.WorkItemInProgress,
			"started_at":  now,
			"claim_token": token,
		})
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to claim work item", r.logger.Args("error", result.Error))
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var item models.WorkQueueItem
	if err := r.db.Where("claim_token = ?", token).First(&item).Error; err != nil {
		r.logger.WithCaller().Error("Failed to load claimed work item",
			r.logger.Args("token", token, "error", err))
		return nil, err
	}

	r.logger.Debug("Work item claimed", r.logger.Args("id", item.ID, "pod", item.PodName))
	return &item, nil
}

// Cancel flips a Pending item to Cancelled. Any other state returns
// ErrNotCancellable; the guard lives in the UPDATE's WHERE clause so a
// concurrent claim cannot slip a cancel onto a running item.
func (r *workQueueRepo) Cancel(id string) (*models.WorkQueueItem, error) {
	now := time.Now()
	result := r.db.Model(&models.WorkQueueItem{}).
		Where("id = ? AND status = ?", id, models.WorkItemPending).
		Updates(map[string]interface{}{
			"status":       models.WorkItemCancelled,
			"completed_at": now,
		})
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to cancel work item",
			r.logger.Args("id", id, "error", result.Error))
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(id); err != nil {
			return nil, err
		}
		return nil, ErrNotCancellable
	}

	r.logger.Info("Work item cancelled", r.logger.Args("id", id))
	return r.FindByID(id)
}

// Complete marks an item Completed with its final record count.
func (r *workQueueRepo) Complete(id string, recordsAffected int64) error {
	now := time.Now()
	err := r.db.Model(&models.WorkQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.WorkItemCompleted,
			"completed_at":     now,
			"records_affected": recordsAffected,
			"progress":         100,
		}).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to complete work item",
			r.logger.Args("id", id, "error", err))
		return err
	}
	return nil
}

// Fail marks an item Failed with the captured error message.
func (r *workQueueRepo) Fail(id string, message string) error {
	now := time.Now()
	err := r.db.Model(&models.WorkQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WorkItemFailed,
			"completed_at":  now,
			"error_message": message,
		}).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to mark work item failed",
			r.logger.Args("id", id, "error", err))
		return err
	}
	return nil
}

// UpdateProgress persists an in-flight item's progress percentage and
// running delete count.
func (r *workQueueRepo) UpdateProgress(id string, progress int, recordsAffected int64) error {
	err := r.db.Model(&models.WorkQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"progress":         progress,
			"records_affected": recordsAffected,
		}).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to update work item progress",
			r.logger.Args("id", id, "error", err))
		return err
	}
	return nil
}

// FindByID retrieves a work item by id
func (r *workQueueRepo) FindByID(id string) (*models.WorkQueueItem, error) {
	var item models.WorkQueueItem
	if err := r.db.First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.logger.Trace("Work item not found", r.logger.Args("id", id))
			return nil, err
		}
		r.logger.WithCaller().Error("Failed to find work item",
			r.logger.Args("id", id, "error", err))
		return nil, err
	}
	return &item, nil
}

// FindAll retrieves work items newest first
func (r *workQueueRepo) FindAll(limit int) ([]models.WorkQueueItem, error) {
	var items []models.WorkQueueItem
	query := r.db.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&items).Error; err != nil {
		r.logger.WithCaller().Error("Failed to list work items", r.logger.Args("error", err))
		return nil, err
	}
	return items, nil
}

// FindActive retrieves Pending and InProgress items, oldest first.
func (r *workQueueRepo) FindActive() ([]models.WorkQueueItem, error) {
	var items []models.WorkQueueItem
	err := r.db.
		Where("status IN ?", []models.WorkItemStatus{models.WorkItemPending, models.WorkItemInProgress}).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to list active work items", r.logger.Args("error", err))
		return nil, err
	}
	return items, nil
}

// FindByPod retrieves a pod's work items newest first
func (r *workQueueRepo) FindByPod(podName string) ([]models.WorkQueueItem, error) {
	var items []models.WorkQueueItem
	err := r.db.
		Where("pod_name = ?", podName).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to list work items by pod",
			r.logger.Args("pod", podName, "error", err))
		return nil, err
	}
	return items, nil
}

// CountByStatus summarizes the queue by lifecycle state.
func (r *workQueueRepo) CountByStatus() (StatusCounts, error) {
	var rows []struct {
		Status models.WorkItemStatus
		Count  int64
	}
	err := r.db.Model(&models.WorkQueueItem{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to count work items by status", r.logger.Args("error", err))
		return StatusCounts{}, err
	}

	var counts StatusCounts
	for _, row := range rows {
		switch row.Status {
		case models.WorkItemPending:
			counts.Pending = row.Count
		case models.WorkItemInProgress:
			counts.InProgress = row.Count
		case models.WorkItemCompleted:
			counts.Completed = row.Count
		case models.WorkItemFailed:
			counts.Failed = row.Count
		case models.WorkItemCancelled:
			counts.Cancelled = row.Count
		}
	}
	return counts, nil
}

// ResetOrphaned re-pends items left InProgress by a crashed processor.
// Called once at startup, before the poll loop begins.
func (r *workQueueRepo) ResetOrphaned() (int64, error) {
	result := r.db.Model(&models.WorkQueueItem{}).
		Where("status = ?", models.WorkItemInProgress).
		Updates(map[string]interface{}{
			"status":      models.WorkItemPending,
			"started_at":  nil,
			"claim_token": "",
		})
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to reset orphaned work items",
			r.logger.Args("error", result.Error))
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		r.logger.Warn("Reset orphaned work items to pending",
			r.logger.Args("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
