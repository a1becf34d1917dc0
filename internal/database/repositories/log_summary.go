package repositories

import (
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"logship/internal/database/models"
)

// LogSummaryRepository maintains the hourly per-pod rollup table.
type LogSummaryRepository interface {
	Accumulate(records []models.LogRecord) error
	FindByPod(podName string, limit int) ([]models.LogSummary, error)
	Purge(podName string, deploymentName string, cutoff *time.Time) (int64, error)
}

type logSummaryRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewLogSummaryRepository creates a new log summary repository
func NewLogSummaryRepository(db *gorm.DB, logger *pterm.Logger) LogSummaryRepository {
	return &logSummaryRepo{
		db:     db,
		logger: logger,
	}
}

// Accumulate folds a batch of stored records into their hourly buckets,
// upserting one row per pod/hour.
func (r *logSummaryRepo) Accumulate(records []models.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	type bucketKey struct {
		pod    string
		bucket time.Time
	}
	deltas := make(map[bucketKey]*models.LogSummary)
	for _, rec := range records {
		key := bucketKey{pod: rec.PodName, bucket: rec.TimeStamp.Truncate(time.Hour)}
		s, ok := deltas[key]
		if !ok {
			s = &models.LogSummary{
				DeploymentName: rec.DeploymentName,
				PodName:        rec.PodName,
				Bucket:         key.bucket,
			}
			deltas[key] = s
		}
		s.TotalCount++
		switch rec.LogLevel {
		case models.LevelError:
			s.ErrorCount++
		case models.LevelWarning:
			s.WarningCount++
		case models.LevelInformation:
			s.InformationCount++
		}
	}

	for _, delta := range deltas {
		err := r.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "pod_name"}, {Name: "bucket"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_count":       gorm.Expr("total_count + ?", delta.TotalCount),
				"error_count":       gorm.Expr("error_count + ?", delta.ErrorCount),
				"warning_count":     gorm.Expr("warning_count + ?", delta.WarningCount),
				"information_count": gorm.Expr("information_count + ?", delta.InformationCount),
				"updated_at":        time.Now(),
			}),
		}).Create(delta).Error
		if err != nil {
			r.logger.WithCaller().Error("Failed to upsert summary bucket",
				r.logger.Args("pod", delta.PodName, "bucket", delta.Bucket, "error", err))
			return err
		}
	}

	r.logger.Trace("Accumulated summary buckets", r.logger.Args("buckets", len(deltas)))
	return nil
}

// FindByPod retrieves a pod's hourly buckets, newest first.
func (r *logSummaryRepo) FindByPod(podName string, limit int) ([]models.LogSummary, error) {
	var summaries []models.LogSummary
	query := r.db.Where("pod_name = ?", podName).Order("bucket DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&summaries).Error; err != nil {
		r.logger.WithCaller().Error("Failed to find summaries",
			r.logger.Args("pod", podName, "error", err))
		return nil, err
	}
	return summaries, nil
}

// Purge removes the pod's summary rows matching the same filter as a
// record purge. Buckets are keyed by their start, so the cutoff compares
// against the bucket column directly.
func (r *logSummaryRepo) Purge(podName string, deploymentName string, cutoff *time.Time) (int64, error) {
	query := r.db.Where("pod_name = ?", podName)
	if deploymentName != "" {
		query = query.Where("deployment_name = ?", deploymentName)
	}
	if cutoff != nil {
		query = query.Where("bucket >= ?", cutoff.Truncate(time.Hour))
	}

	result := query.Delete(&models.LogSummary{})
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to purge summaries",
			r.logger.Args("pod", podName, "error", result.Error))
		return 0, result.Error
	}

	r.logger.Debug("Purged summary rows",
		r.logger.Args("pod", podName, "deleted", result.RowsAffected))
	return result.RowsAffected, nil
}
