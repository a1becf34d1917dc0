// Package tailer turns file-system change notifications for container log
// trees into validated in-memory log records. One watcher is created per
// root directory and its events are consumed by a single dispatcher
// goroutine, so producers stay non-blocking while per-source reads are
// serialized by the tracker's per-deployment locks.
package tailer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"

	"logship/internal/agent/sequence"
	"logship/internal/agent/tracker"
	"logship/internal/database/models"
	"logship/internal/parser/container"
)

// Sink receives parsed records. Implemented by the batcher.
type Sink interface {
	Add(record models.LogRecord)
}

// Tailer watches a set of root directories shaped
// <root>/<deployment>/<pod>/*.log and streams new complete lines through
// the parser into the sink.
type Tailer struct {
	roots      []string
	registry   *tracker.Registry
	sequences  *sequence.Registry
	sink       Sink
	logger     *pterm.Logger
	newWatcher func() (*fsnotify.Watcher, error)
}

// New creates a tailer over the given root directories.
func New(roots []string, registry *tracker.Registry, sequences *sequence.Registry, sink Sink, logger *pterm.Logger) *Tailer {
	return &Tailer{
		roots:      roots,
		registry:   registry,
		sequences:  sequences,
		sink:       sink,
		logger:     logger,
		newWatcher: fsnotify.NewWatcher,
	}
}

// Run validates the configured roots, performs an initial scan, and then
// watches each root until the context is cancelled. It returns an error
// when no configured root exists: an agent with zero sources cannot run.
func (t *Tailer) Run(ctx context.Context) error {
	var valid []string
	for _, root := range t.roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			t.logger.Warn("Log root missing or not a directory, skipping",
				t.logger.Args("root", root, "error", err))
			continue
		}
		valid = append(valid, root)
	}
	if len(valid) == 0 {
		return fmt.Errorf("no valid log roots among %v", t.roots)
	}

	for _, root := range valid {
		t.scanRoot(root)
	}

	done := make(chan error, len(valid))
	for _, root := range valid {
		go func(root string) {
			err := t.watchRoot(ctx, root)
			if err != nil && ctx.Err() == nil {
				// The root keeps its initial scan but loses live watching.
				t.logger.WithCaller().Error("Root watcher stopped",
					t.logger.Args("root", root, "error", err))
			}
			done <- err
		}(root)
	}

	<-ctx.Done()
	for range valid {
		<-done
	}
	return nil
}

// scanRoot reads every existing log file under a root once, picking up
// growth that happened while the agent was down.
func (t *Tailer) scanRoot(root string) {
	matches, err := doublestar.FilepathGlob(filepath.Join(root, "*", "*", "*.log"))
	if err != nil {
		t.logger.WithCaller().Error("Log file discovery failed",
			t.logger.Args("root", root, "error", err))
		return
	}

	t.logger.Info("Discovered log files", t.logger.Args("root", root, "count", len(matches)))
	for _, path := range matches {
		t.handleFile(path)
	}
}

// watchRoot runs the per-root dispatcher: one fsnotify watcher whose event
// channel is drained by this goroutine alone.
func (t *Tailer) watchRoot(ctx context.Context, root string) error {
	watcher, err := t.newWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// fsnotify does not recurse; register the root and every directory
	// below it. New deployment/pod directories are added as they appear.
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if werr := watcher.Add(path); werr != nil {
			t.logger.Warn("Failed to watch directory", t.logger.Args("dir", path, "error", werr))
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.Info("Watching log root", t.logger.Args("root", root))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			t.handleEvent(watcher, event)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("File watcher error", t.logger.Args("root", root, "error", werr))
		}
	}
}

func (t *Tailer) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				t.logger.Warn("Failed to watch new directory",
					t.logger.Args("dir", event.Name, "error", err))
			}
			// A directory created with files already in it produces no
			// per-file events; scan it once.
			if matches, err := filepath.Glob(filepath.Join(event.Name, "*.log")); err == nil {
				for _, path := range matches {
					t.handleFile(path)
				}
			}
			return
		}
	}

	if strings.HasSuffix(event.Name, ".log") {
		t.handleFile(event.Name)
	}
}

// handleFile reads any new complete lines from one log file. Errors are
// logged and leave the cursor unchanged so the next notification retries
// from the same offset; they never stop the watch loop.
func (t *Tailer) handleFile(path string) {
	deployment, pod, ok := sourceIdentity(path)
	if !ok {
		t.logger.Debug("Ignoring file outside <deployment>/<pod> layout",
			t.logger.Args("path", path))
		return
	}

	policy := t.registry.PolicyFor(pod)
	if policy.Ignore {
		return
	}

	t.registry.WithCursor(deployment, func(c *tracker.SourceCursor) {
		// Rotation or first sighting: a different file for this
		// deployment restarts from the beginning.
		if c.FilePath != path {
			c.FilePath = path
			c.LastReadOffset = 0
		}

		f, err := os.Open(path)
		if err != nil {
			t.logger.Warn("Failed to open log file, will retry",
				t.logger.Args("path", path, "error", err))
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			t.logger.WithCaller().Error("Failed to stat log file",
				t.logger.Args("path", path, "error", err))
			return
		}

		// Truncation: stored offset beyond the current file length means
		// the file was rewritten; re-read from the start.
		if c.LastReadOffset > info.Size() {
			t.logger.Info("Log file truncated, resetting offset",
				t.logger.Args("path", path, "old_offset", c.LastReadOffset, "size", info.Size()))
			c.LastReadOffset = 0
		}

		if c.LastReadOffset == info.Size() {
			return
		}

		if _, err := f.Seek(c.LastReadOffset, io.SeekStart); err != nil {
			t.logger.WithCaller().Error("Failed to seek in log file",
				t.logger.Args("path", path, "offset", c.LastReadOffset, "error", err))
			return
		}

		reader := bufio.NewReader(f)
		lines := 0
		for {
			raw, err := reader.ReadString('\n')
			if err != nil {
				// EOF with a trailing partial line: leave it unconsumed,
				// the offset stays before it until the line completes.
				break
			}
			t.processLine(deployment, pod, policy, c, strings.TrimRight(raw, "\r\n"))
			c.LastReadOffset += int64(len(raw))
			lines++
		}

		if lines > 0 {
			t.logger.Trace("Read log lines",
				t.logger.Args("path", path, "lines", lines, "offset", c.LastReadOffset))
		}
	})
}

// processLine parses one complete line and forwards the record to the
// sink. Structural parse failures are logged and skipped, never fatal.
func (t *Tailer) processLine(deployment, pod string, policy tracker.PodPolicy, c *tracker.SourceCursor, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	clean := container.StripControlSequences(line)
	tsRaw, message, err := container.SplitContainerFraming(clean)
	if err != nil {
		t.logger.Warn("Skipping malformed log line",
			t.logger.Args("deployment", deployment, "pod", pod, "error", err))
		return
	}
	if message == "" {
		return
	}

	ts := container.ParseTimestamp(tsRaw, message)

	// Restart catch-up: drop lines older than the stored baseline; the
	// first line at or after it clears the baseline.
	if c.Baseline != nil {
		if ts.Before(*c.Baseline) {
			return
		}
		c.Baseline = nil
	}

	level := container.ClassifyLevel(message)
	if level.Ordinal() < policy.MinimumLogLevel.Ordinal() {
		return
	}

	t.sink.Add(models.LogRecord{
		DeploymentName: deployment,
		PodName:        pod,
		Line:           message,
		LogLevel:       level,
		SequenceNumber: t.sequences.Next(deployment, pod),
		Fingerprint:    sequence.Fingerprint(message),
		TimeStamp:      ts,
	})
}

// sourceIdentity derives (deployment, pod) from the last two path segments
// before the filename.
func sourceIdentity(path string) (deployment, pod string, ok bool) {
	podDir := filepath.Dir(path)
	depDir := filepath.Dir(podDir)
	pod = filepath.Base(podDir)
	deployment = filepath.Base(depDir)
	if deployment == "" || pod == "" || deployment == "." || pod == "." ||
		deployment == string(filepath.Separator) || pod == string(filepath.Separator) {
		return "", "", false
	}
	return deployment, pod, true
}
