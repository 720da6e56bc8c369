// Package watch observes the work directory for frames written by the
// external capture tool and publishes the newest one for the status API.
// Capture tools write images incrementally, so a frame only counts once its
// size has held still for the stabilization window.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/Roelanb/duetlapse/internal/capture"
	"github.com/Roelanb/duetlapse/internal/observability"
)

type Options struct {
	Directory     string        // absolute path to the frame directory
	LatestPath    string        // atomic copy of the newest frame; empty disables publishing
	Stabilization time.Duration // size must be unchanged for this long (0 = accept immediately)
	PollInterval  time.Duration // interval for stabilization checks
}

// FrameWatcher tracks stabilized frames as they appear.
type FrameWatcher struct {
	opts Options
	log  *zap.SugaredLogger

	mu     sync.Mutex
	latest string
	slots  map[int]struct{}
}

func New(opts Options, log *zap.SugaredLogger) (*FrameWatcher, error) {
	if !filepath.IsAbs(opts.Directory) {
		return nil, errors.New("watch directory must be absolute")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &FrameWatcher{
		opts:  opts,
		log:   log,
		slots: make(map[int]struct{}),
	}, nil
}

// Latest returns the path of the newest stabilized frame, or "" before the
// first one lands.
func (w *FrameWatcher) Latest() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

// Seen returns how many distinct frame slots have stabilized.
func (w *FrameWatcher) Seen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.slots)
}

// Run watches until ctx is cancelled. Watch errors are logged, not fatal;
// frames keep their authoritative count in the control loop.
func (w *FrameWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.opts.Directory); err != nil {
		return fmt.Errorf("add watch %s: %w", w.opts.Directory, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			slot, ok := capture.SlotFromName(ev.Name)
			if !ok {
				continue
			}
			if !w.stabilize(ctx, ev.Name) {
				continue
			}
			w.record(ev.Name, slot)

		case err, ok := <-fsw.Errors:
			if !ok {
				continue
			}
			w.log.Warnw("frame watch error", "error", err)
		}
	}
}

// stabilize waits until the file size stops changing. Returns false when the
// file vanished or the context ended first.
func (w *FrameWatcher) stabilize(ctx context.Context, path string) bool {
	if w.opts.Stabilization <= 0 {
		return true
	}
	lastSize := int64(-1)
	lastChange := time.Now()
	deadline := time.Now().Add(30 * time.Second)

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
		now := time.Now()
		if sz := info.Size(); sz != lastSize {
			lastSize = sz
			lastChange = now
		}
		if now.Sub(lastChange) >= w.opts.Stabilization || now.After(deadline) {
			return true
		}
		time.Sleep(w.opts.PollInterval)
	}
}

func (w *FrameWatcher) record(path string, slot int) {
	w.mu.Lock()
	w.latest = path
	w.slots[slot] = struct{}{}
	n := len(w.slots)
	w.mu.Unlock()

	observability.FramesOnDisk.Set(float64(n))

	if w.opts.LatestPath != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			w.log.Warnw("read frame for publish", "path", path, "error", err)
			return
		}
		if err := renameio.WriteFile(w.opts.LatestPath, data, 0o644); err != nil {
			w.log.Warnw("publish latest frame", "path", w.opts.LatestPath, "error", err)
			return
		}
	}
	w.log.Debugw("frame stabilized", "slot", slot, "path", path)
}
