// Package workqueue runs asynchronous bulk operations (log purges) as
// durable queue items processed by a polling loop.
package workqueue

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"

	"logship/internal/database/models"
	"logship/internal/database/repositories"
)

// PurgeRequest is an operator's request to purge one pod's records.
type PurgeRequest struct {
	PodName        string                `json:"podName" binding:"required"`
	DeploymentName string                `json:"deploymentName"`
	TimeRange      models.PurgeTimeRange `json:"timeRange" binding:"required"`
	CreatedBy      string                `json:"createdBy"`
}

// Service is the enqueue-side API used by HTTP handlers.
type Service struct {
	queue   repositories.WorkQueueRepository
	records repositories.LogRecordRepository
	clock   clockwork.Clock
	logger  *pterm.Logger
}

func NewService(queue repositories.WorkQueueRepository, records repositories.LogRecordRepository, clock clockwork.Clock, logger *pterm.Logger) *Service {
	return &Service{
		queue:   queue,
		records: records,
		clock:   clock,
		logger:  logger,
	}
}

// EnqueuePurge validates the request, computes a row estimate for the UI,
// and inserts a Pending item. Returns repositories.ErrPurgeConflict when a
// purge is already queued or running for the pod.
func (s *Service) EnqueuePurge(req PurgeRequest) (*models.WorkQueueItem, error) {
	if req.PodName == "" {
		return nil, fmt.Errorf("podName is required")
	}
	if !req.TimeRange.Valid() {
		return nil, fmt.Errorf("timeRange %q is not one of all|hour|day|week|month", req.TimeRange)
	}

	item := &models.WorkQueueItem{
		Type:           models.WorkItemLogPurge,
		PodName:        req.PodName,
		DeploymentName: req.DeploymentName,
		TimeRange:      req.TimeRange,
		CreatedBy:      req.CreatedBy,
	}

	estimate, err := s.estimate(req)
	if err != nil {
		// The estimate is display-only; failing it must not block the purge.
		s.logger.Warn("Purge estimate failed, enqueueing without one",
			s.logger.Args("pod", req.PodName, "error", err))
	} else {
		item.EstimatedRecords = estimate
	}

	if err := s.queue.Enqueue(item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) estimate(req PurgeRequest) (int64, error) {
	if cutoff, bounded := req.TimeRange.CutoffFrom(s.clock.Now()); bounded {
		return s.records.CountForPurge(req.PodName, req.DeploymentName, &cutoff)
	}
	return s.records.CountForPurge(req.PodName, req.DeploymentName, nil)
}

// Cancel flips a Pending item to Cancelled.
func (s *Service) Cancel(id string) (*models.WorkQueueItem, error) {
	return s.queue.Cancel(id)
}

// Item returns one work item by id.
func (s *Service) Item(id string) (*models.WorkQueueItem, error) {
	return s.queue.FindByID(id)
}

// List returns recent work items, newest first.
func (s *Service) List(limit int) ([]models.WorkQueueItem, error) {
	return s.queue.FindAll(limit)
}

// Active returns Pending and InProgress items.
func (s *Service) Active() ([]models.WorkQueueItem, error) {
	return s.queue.FindActive()
}

// ForPod returns a pod's work items.
func (s *Service) ForPod(podName string) ([]models.WorkQueueItem, error) {
	return s.queue.FindByPod(podName)
}

// Status summarizes the queue by lifecycle state.
func (s *Service) Status() (repositories.StatusCounts, error) {
	return s.queue.CountByStatus()
}
