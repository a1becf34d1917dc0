// Package realtime pushes server-side notifications (purge progress, new
// log arrivals) to connected clients.
package realtime

import (
	"sync"
	"time"

	"github.com/pterm/pterm"

	"logship/internal/database/models"
)

// Event is one notification pushed to subscribers.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	EventPurgeProgress = "purge_progress"
	EventLogsIngested  = "logs_ingested"
)

// IngestNotice is the payload of a logs_ingested event.
type IngestNotice struct {
	DeploymentName string `json:"deploymentName"`
	PodName        string `json:"podName"`
	Count          int    `json:"count"`
}

// Broadcaster is the push side consumed by ingestion and the purge
// processor. The Hub implements it; production deployments may substitute
// an external push transport.
type Broadcaster interface {
	PurgeProgress(item models.WorkQueueItem)
	LogsIngested(deploymentName, podName string, count int)
}

// Hub fans events out to subscriber channels. Slow subscribers drop
// events rather than block the publisher.
type Hub struct {
	logger *pterm.Logger

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

func NewHub(logger *pterm.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the client disconnects.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("Event subscriber connected", h.logger.Args("subscribers", count))

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) broadcast(event Event) {
	event.Timestamp = time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

// PurgeProgress pushes a work item snapshot to all subscribers.
func (h *Hub) PurgeProgress(item models.WorkQueueItem) {
	h.broadcast(Event{Type: EventPurgeProgress, Payload: item})
}

// LogsIngested announces newly stored records for a source.
func (h *Hub) LogsIngested(deploymentName, podName string, count int) {
	h.broadcast(Event{
		Type: EventLogsIngested,
		Payload: IngestNotice{
			DeploymentName: deploymentName,
			PodName:        podName,
			Count:          count,
		},
	})
}
