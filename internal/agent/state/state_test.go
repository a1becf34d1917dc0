package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"

	"logship/internal/agent/tracker"
	"logship/internal/database/models"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-state.json")
	baseline := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	reg := tracker.NewRegistry(models.LevelInformation)
	reg.WithCursor("web", func(c *tracker.SourceCursor) {
		c.FilePath = "/logs/web/web-abc/0.log"
		c.LastReadOffset = 4096
		c.Baseline = &baseline
	})
	reg.WithCursor("worker", func(c *tracker.SourceCursor) {
		c.FilePath = "/logs/worker/worker-xyz/0.log"
		c.LastReadOffset = 128
	})

	p := NewPersister(path, reg, time.Minute, clockwork.NewFakeClock(), testLogger())
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if reg.Dirty() {
		t.Error("registry still dirty after save")
	}

	restored := tracker.NewRegistry(models.LevelInformation)
	p2 := NewPersister(path, restored, time.Minute, clockwork.NewFakeClock(), testLogger())
	if err := p2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	c, ok := restored.Cursor("web")
	if !ok {
		t.Fatal("web cursor missing after load")
	}
	if c.FilePath != "/logs/web/web-abc/0.log" || c.LastReadOffset != 4096 {
		t.Errorf("web cursor = %+v", c)
	}
	if c.Baseline == nil || !c.Baseline.Equal(baseline) {
		t.Errorf("web baseline = %v, want %v", c.Baseline, baseline)
	}
	if c2, ok := restored.Cursor("worker"); !ok || c2.LastReadOffset != 128 {
		t.Errorf("worker cursor = %+v, ok=%v", c2, ok)
	}
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	reg := tracker.NewRegistry(models.LevelInformation)
	p := NewPersister(filepath.Join(t.TempDir(), "missing.json"), reg, time.Minute, clockwork.NewFakeClock(), testLogger())
	if err := p.Load(); err != nil {
		t.Fatalf("Load on missing file = %v, want nil", err)
	}
	if len(reg.Snapshot()) != 0 {
		t.Error("cursors appeared from a missing file")
	}
}

func TestLoadCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := tracker.NewRegistry(models.LevelInformation)
	p := NewPersister(path, reg, time.Minute, clockwork.NewFakeClock(), testLogger())
	if err := p.Load(); err != nil {
		t.Fatalf("Load on corrupt file = %v, want nil", err)
	}
	if len(reg.Snapshot()) != 0 {
		t.Error("cursors appeared from a corrupt file")
	}
}

func TestSaveWritesWireShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-state.json")

	reg := tracker.NewRegistry(models.LevelInformation)
	reg.WithCursor("web", func(c *tracker.SourceCursor) {
		c.FilePath = "/logs/web/web-abc/0.log"
		c.LastReadOffset = 77
	})

	p := NewPersister(path, reg, time.Minute, clockwork.NewFakeClock(), testLogger())
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	if _, ok := doc["deploymentPositions"]; !ok {
		t.Error("state file missing deploymentPositions")
	}
	if _, ok := doc["savedAt"]; !ok {
		t.Error("state file missing savedAt")
	}

	var positions map[string]map[string]any
	if err := json.Unmarshal(doc["deploymentPositions"], &positions); err != nil {
		t.Fatal(err)
	}
	web := positions["web"]
	if web["filePath"] != "/logs/web/web-abc/0.log" {
		t.Errorf("filePath = %v", web["filePath"])
	}
	if web["lastReadPosition"] != float64(77) {
		t.Errorf("lastReadPosition = %v", web["lastReadPosition"])
	}
}

func TestRunSavesWhenDirtyAndOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent-state.json")
	clock := clockwork.NewFakeClock()

	reg := tracker.NewRegistry(models.LevelInformation)
	p := NewPersister(path, reg, 30*time.Second, clock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	clock.BlockUntil(1)

	// Tick while clean: nothing should be written.
	clock.Advance(30 * time.Second)
	clock.BlockUntil(1)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("state file written while registry was clean")
	}

	reg.WithCursor("web", func(c *tracker.SourceCursor) { c.LastReadOffset = 10 })
	clock.Advance(30 * time.Second)
	clock.BlockUntil(1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("state file not written after dirty tick")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}
