package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pterm/pterm"

	"logship/internal/database/models"
)

// ErrCircuitOpen is returned by Send while the circuit breaker is open.
// The batcher keeps the batch buffered and retries after the next flush.
var ErrCircuitOpen = errors.New("transmit: circuit breaker open")

const DefaultRequestTimeout = 30 * time.Second

// Transmitter ships record batches to the ingestion endpoint as
// gzip-compressed JSON, guarded by a circuit breaker.
type Transmitter struct {
	endpoint string
	agentID  string
	client   *http.Client
	breaker  *CircuitBreaker
	logger   *pterm.Logger
}

func NewTransmitter(endpoint, agentID string, breaker *CircuitBreaker, logger *pterm.Logger) *Transmitter {
	return &Transmitter{
		endpoint: endpoint,
		agentID:  agentID,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
		breaker:  breaker,
		logger:   logger,
	}
}

// Send posts a batch to the ingestion endpoint. Every failure, transport or
// HTTP, feeds the breaker; a 2xx response resets it.
func (t *Transmitter) Send(ctx context.Context, batch []models.LogRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if !t.breaker.Allow() {
		return ErrCircuitOpen
	}

	body, err := compressJSON(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/api/v1/logs", body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-Agent-Id", t.agentID)

	resp, err := t.client.Do(req)
	if err != nil {
		t.breaker.RecordFailure()
		t.logger.WithCaller().Error("Batch transmission failed",
			t.logger.Args("error", err, "batch_size", len(batch)))
		return fmt.Errorf("sending batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.breaker.RecordFailure()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.logger.WithCaller().Error("Ingestion endpoint rejected batch",
			t.logger.Args("status", resp.StatusCode, "body", string(snippet)))
		return fmt.Errorf("ingestion endpoint returned %d", resp.StatusCode)
	}

	t.breaker.RecordSuccess()
	t.logger.Debug("Batch transmitted", t.logger.Args("batch_size", len(batch)))
	return nil
}

func compressJSON(v any) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// latestTimesResponse mirrors the server's latest-times payload.
type latestTimesResponse struct {
	Times []struct {
		DeploymentName string    `json:"deploymentName"`
		PodName        string    `json:"podName"`
		LatestTime     time.Time `json:"latestTimeStamp"`
	} `json:"times"`
}

// FetchLatestTimes asks the server for the newest stored timestamp per
// source and folds them to a per-deployment maximum, used to seed cursor
// baselines so restarted agents do not reship history.
func (t *Transmitter) FetchLatestTimes(ctx context.Context) (map[string]time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/api/v1/logs/latest-times", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Agent-Id", t.agentID)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching latest times: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("latest-times endpoint returned %d", resp.StatusCode)
	}

	var payload latestTimesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding latest times: %w", err)
	}

	byDeployment := make(map[string]time.Time, len(payload.Times))
	for _, entry := range payload.Times {
		if current, ok := byDeployment[entry.DeploymentName]; !ok || entry.LatestTime.After(current) {
			byDeployment[entry.DeploymentName] = entry.LatestTime
		}
	}
	return byDeployment, nil
}
