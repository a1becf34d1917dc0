package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"
)

const (
	DefaultSettingsTTL = 30 * time.Minute
	FallbackTTL        = 5 * time.Minute
)

// SettingsProvider serves the active ValidationSettings, fetched from a
// settings endpoint and cached. When the fetch fails it serves hard-coded
// defaults under a shorter TTL so a settings outage never blocks
// ingestion.
type SettingsProvider struct {
	endpoint string
	client   *http.Client
	clock    clockwork.Clock
	logger   *pterm.Logger

	mu        sync.Mutex
	cached    ValidationSettings
	expiresAt time.Time
}

func NewSettingsProvider(endpoint string, clock clockwork.Clock, logger *pterm.Logger) *SettingsProvider {
	return &SettingsProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		clock:    clock,
		logger:   logger,
	}
}

// Current returns the cached settings, refreshing them when the cache has
// expired. Never returns an error; a failed refresh falls back to defaults.
func (p *SettingsProvider) Current(ctx context.Context) ValidationSettings {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if now.Before(p.expiresAt) {
		return p.cached
	}

	settings, err := p.fetch(ctx)
	if err != nil {
		p.logger.WithCaller().Warn("Settings fetch failed, serving defaults",
			p.logger.Args("error", err, "retry_in", FallbackTTL.String()))
		p.cached = DefaultValidationSettings()
		p.expiresAt = now.Add(FallbackTTL)
		return p.cached
	}

	p.cached = settings
	p.expiresAt = now.Add(DefaultSettingsTTL)
	return p.cached
}

func (p *SettingsProvider) fetch(ctx context.Context) (ValidationSettings, error) {
	if p.endpoint == "" {
		return ValidationSettings{}, fmt.Errorf("no settings endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return ValidationSettings{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ValidationSettings{}, fmt.Errorf("fetching settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ValidationSettings{}, fmt.Errorf("settings endpoint returned %d", resp.StatusCode)
	}

	var settings ValidationSettings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return ValidationSettings{}, fmt.Errorf("decoding settings: %w", err)
	}
	if settings.MaxBatchSize <= 0 || settings.MaxLineLength <= 0 {
		return ValidationSettings{}, fmt.Errorf("settings endpoint returned unusable limits")
	}
	return settings, nil
}
