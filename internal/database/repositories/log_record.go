package repositories

import (
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"

	"logship/internal/database/models"
)

// SourceLatest is the newest stored timestamp for one deployment/pod pair.
type SourceLatest struct {
	DeploymentName string    `json:"deploymentName"`
	PodName        string    `json:"podName"`
	LatestTime     time.Time `json:"latestTimeStamp"`
}

// LogRecordRepository handles persistence of ingested log records.
type LogRecordRepository interface {
	CreateBatch(records []models.LogRecord) error
	LatestTimes() ([]SourceLatest, error)
	FindByPod(podName string, limit int, offset int) ([]models.LogRecord, error)
	Count() (int64, error)
	CountForPurge(podName string, deploymentName string, cutoff *time.Time) (int64, error)
	PodExists(podName string) (bool, error)
	DeleteBatch(podName string, deploymentName string, cutoff *time.Time, batchSize int) (int64, error)
}

type logRecordRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewLogRecordRepository creates a new log record repository
func NewLogRecordRepository(db *gorm.DB, logger *pterm.Logger) LogRecordRepository {
	return &logRecordRepo{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts records in a single transaction, splitting large
// batches to stay under the SQLite variable limit.
func (r *logRecordRepo) CreateBatch(records []models.LogRecord) error {
	if len(records) == 0 {
		r.logger.Debug("Empty batch, skipping insert")
		return nil
	}

	// SQLite has a variable limit (default 32766); LogRecord has 9
	// columns, so cap each insert well below it.
	const MaxSQLiteVariables = 32766
	const ColumnsPerRecord = 9
	const MaxRecordsPerBatch = MaxSQLiteVariables / ColumnsPerRecord

	if len(records) <= MaxRecordsPerBatch {
		return r.insertSubBatch(records)
	}

	r.logger.Debug("Splitting large batch to avoid variable limit",
		r.logger.Args("total_records", len(records), "max_per_batch", MaxRecordsPerBatch))

	for i := 0; i < len(records); i += MaxRecordsPerBatch {
		end := i + MaxRecordsPerBatch
		if end > len(records) {
			end = len(records)
		}
		if err := r.insertSubBatch(records[i:end]); err != nil {
			r.logger.WithCaller().Error("Failed to insert sub-batch",
				r.logger.Args("batch_num", (i/MaxRecordsPerBatch)+1, "count", end-i, "error", err))
			return err
		}
	}

	r.logger.Debug("Inserted large batch in chunks", r.logger.Args("total_records", len(records)))
	return nil
}

func (r *logRecordRepo) insertSubBatch(records []models.LogRecord) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		r.logger.WithCaller().Error("Failed to begin transaction", r.logger.Args("error", tx.Error))
		return tx.Error
	}

	if err := tx.Create(&records).Error; err != nil {
		tx.Rollback()
		r.logger.WithCaller().Error("Failed to insert batch",
			r.logger.Args("count", len(records), "error", err))
		return err
	}

	if err := tx.Commit().Error; err != nil {
		r.logger.WithCaller().Error("Failed to commit transaction", r.logger.Args("error", err))
		return err
	}
	return nil
}

// LatestTimes returns the newest stored TimeStamp per deployment/pod pair.
// Agents seed their cursor baselines from this after a restart.
func (r *logRecordRepo) LatestTimes() ([]SourceLatest, error) {
	// SQLite hands MAX() over a time column back as TEXT, so scan the
	// aggregate as a string and parse it ourselves.
	var rows []struct {
		DeploymentName string
		PodName        string
		LatestTime     string
	}
	err := r.db.Model(&models.LogRecord{}).
		Select("deployment_name, pod_name, MAX(time_stamp) AS latest_time").
		Group("deployment_name, pod_name").
		Scan(&rows).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to query latest times", r.logger.Args("error", err))
		return nil, err
	}

	latest := make([]SourceLatest, 0, len(rows))
	for _, row := range rows {
		latest = append(latest, SourceLatest{
			DeploymentName: row.DeploymentName,
			PodName:        row.PodName,
			LatestTime:     parseStoredTime(row.LatestTime),
		})
	}

	r.logger.Trace("Queried latest times", r.logger.Args("sources", len(latest)))
	return latest, nil
}

// parseStoredTime parses a timestamp from SQLite string format.
func parseStoredTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// FindByPod retrieves a pod's records newest first, with pagination.
func (r *logRecordRepo) FindByPod(podName string, limit int, offset int) ([]models.LogRecord, error) {
	var records []models.LogRecord
	query := r.db.Where("pod_name = ?", podName).Order("time_stamp DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&records).Error; err != nil {
		r.logger.WithCaller().Error("Failed to find records by pod",
			r.logger.Args("pod", podName, "error", err))
		return nil, err
	}
	return records, nil
}

// Count returns the total number of stored records
func (r *logRecordRepo) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&models.LogRecord{}).Count(&count).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count records", r.logger.Args("error", err))
		return 0, err
	}
	return count, nil
}

// purgeScope applies the pod/deployment/cutoff filter shared by estimate
// and delete queries, so both see the same row set.
func purgeScope(db *gorm.DB, podName, deploymentName string, cutoff *time.Time) *gorm.DB {
	query := db.Where("pod_name = ?", podName)
	if deploymentName != "" {
		query = query.Where("deployment_name = ?", deploymentName)
	}
	if cutoff != nil {
		query = query.Where("time_stamp >= ?", *cutoff)
	}
	return query
}

// CountForPurge counts the rows a purge with this filter would remove.
// Stored as the estimate at enqueue time.
func (r *logRecordRepo) CountForPurge(podName string, deploymentName string, cutoff *time.Time) (int64, error) {
	var count int64
	query := purgeScope(r.db.Model(&models.LogRecord{}), podName, deploymentName, cutoff)
	if err := query.Count(&count).Error; err != nil {
		r.logger.WithCaller().Error("Failed to estimate purge size",
			r.logger.Args("pod", podName, "error", err))
		return 0, err
	}
	return count, nil
}

// PodExists reports whether any record is stored for the pod.
func (r *logRecordRepo) PodExists(podName string) (bool, error) {
	var count int64
	err := r.db.Model(&models.LogRecord{}).
		Where("pod_name = ?", podName).
		Limit(1).
		Count(&count).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed pod existence check",
			r.logger.Args("pod", podName, "error", err))
		return false, err
	}
	return count > 0, nil
}

// DeleteBatch removes up to batchSize matching rows and returns how many
// were deleted. The subselect keeps each DELETE row-bounded so a purge of
// millions of rows never holds the write lock for long.
func (r *logRecordRepo) DeleteBatch(podName string, deploymentName string, cutoff *time.Time, batchSize int) (int64, error) {
	subQuery := purgeScope(r.db.Model(&models.LogRecord{}), podName, deploymentName, cutoff).
		Select("id").
		Limit(batchSize)

	result := r.db.Where("id IN (?)", subQuery).Delete(&models.LogRecord{})
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to delete record batch",
			r.logger.Args("pod", podName, "batch_size", batchSize, "error", result.Error))
		return 0, result.Error
	}

	r.logger.Trace("Deleted record batch",
		r.logger.Args("pod", podName, "deleted", result.RowsAffected))
	return result.RowsAffected, nil
}
