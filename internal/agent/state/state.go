// Package state persists the agent's read positions across restarts. State
// is written atomically (temp file plus rename) so a crash mid-save never
// leaves a truncated file behind.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"

	"logship/internal/agent/tracker"
)

const DefaultSaveInterval = 30 * time.Second

// deploymentPosition is the on-disk shape of one deployment's cursor.
type deploymentPosition struct {
	FilePath           string     `json:"filePath"`
	LastReadPosition   int64      `json:"lastReadPosition"`
	LastDeploymentTime *time.Time `json:"lastDeploymentTime,omitempty"`
	LastSeenAt         time.Time  `json:"lastSeenAt"`
}

type stateFile struct {
	DeploymentPositions map[string]deploymentPosition `json:"deploymentPositions"`
	SavedAt             time.Time                     `json:"savedAt"`
}

// Persister saves and restores tracker cursors as a JSON file.
type Persister struct {
	path     string
	registry *tracker.Registry
	interval time.Duration
	clock    clockwork.Clock
	logger   *pterm.Logger
}

func NewPersister(path string, registry *tracker.Registry, interval time.Duration, clock clockwork.Clock, logger *pterm.Logger) *Persister {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	return &Persister{
		path:     path,
		registry: registry,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Load restores cursors from the state file into the registry. A missing
// file is a clean first start; a corrupt file is logged and discarded so
// the agent starts fresh rather than crash-looping.
func (p *Persister) Load() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Info("No agent state file, starting fresh", p.logger.Args("path", p.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading agent state: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		p.logger.WithCaller().Warn("Agent state file corrupt, starting fresh",
			p.logger.Args("path", p.path, "error", err))
		return nil
	}

	cursors := make(map[string]tracker.SourceCursor, len(sf.DeploymentPositions))
	for deployment, pos := range sf.DeploymentPositions {
		cursors[deployment] = tracker.SourceCursor{
			FilePath:       pos.FilePath,
			LastReadOffset: pos.LastReadPosition,
			Baseline:       pos.LastDeploymentTime,
			LastSeenAt:     pos.LastSeenAt,
		}
	}
	p.registry.Restore(cursors)
	p.logger.Info("Agent state restored",
		p.logger.Args("path", p.path, "deployments", len(cursors), "saved_at", sf.SavedAt))
	return nil
}

// Save writes the current cursor snapshot to disk and clears the
// registry's dirty flag.
func (p *Persister) Save() error {
	snapshot := p.registry.Snapshot()

	sf := stateFile{
		DeploymentPositions: make(map[string]deploymentPosition, len(snapshot)),
		SavedAt:             p.clock.Now(),
	}
	for deployment, c := range snapshot {
		sf.DeploymentPositions[deployment] = deploymentPosition{
			FilePath:           c.FilePath,
			LastReadPosition:   c.LastReadOffset,
			LastDeploymentTime: c.Baseline,
			LastSeenAt:         c.LastSeenAt,
		}
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding agent state: %w", err)
	}

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing agent state: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing agent state: %w", err)
	}

	p.registry.ClearDirty()
	return nil
}

// Run saves the state periodically while dirty, and once more on shutdown.
func (p *Persister) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.Save(); err != nil {
				p.logger.WithCaller().Error("Final agent state save failed", p.logger.Args("error", err))
			}
			return
		case <-ticker.Chan():
			if !p.registry.Dirty() {
				continue
			}
			if err := p.Save(); err != nil {
				p.logger.WithCaller().Error("Agent state save failed", p.logger.Args("error", err))
			}
		}
	}
}
