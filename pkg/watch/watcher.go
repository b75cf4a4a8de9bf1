// Package watch follows a growing trace file and feeds appended lines
// into the analysis engine incrementally. A truncated file triggers a
// full re-ingest.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gridtrace/gridtrace/pkg/analysis"
)

// Follower monitors one trace file for changes and keeps an engine in
// sync with it.
type Follower struct {
	engine   *analysis.Engine
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	path  string
	state tailState

	// OnUpdate fires after the engine absorbed a change; OnError
	// receives ingestion and filesystem failures.
	OnUpdate func(path string, appendedBytes int64)
	OnError  func(path string, err error)
}

// tailState tracks how far into the file we have read.
type tailState struct {
	offset       int64
	lastModified time.Time
}

// NewFollower creates a follower for the engine. Debounce <= 0 uses a
// 200ms default.
func NewFollower(engine *analysis.Engine, debounce time.Duration) (*Follower, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Follower{
		engine:   engine,
		watcher:  fsWatcher,
		debounce: debounce,
	}, nil
}

// Follow performs the initial full ingest and registers the file for
// change notifications.
func (f *Follower) Follow(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if err := f.reingest(ctx, absPath); err != nil {
		return err
	}
	return f.register(absPath)
}

// Resume registers the file for change notifications without the
// initial ingest, picking up at the file's current size. Callers use
// it when the engine already holds the file's contents.
func (f *Follower) Resume(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.state = tailState{offset: stat.Size(), lastModified: stat.ModTime()}
	f.mu.Unlock()
	return f.register(absPath)
}

// register records the watched path and subscribes to its directory
// (fsnotify works better this way, and survives rename-and-recreate
// writers).
func (f *Follower) register(absPath string) error {
	f.mu.Lock()
	f.path = absPath
	f.mu.Unlock()

	dir := filepath.Dir(absPath)
	if err := f.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	return nil
}

// Run starts the watch loop. Blocks until context is cancelled.
func (f *Follower) Run(ctx context.Context) error {
	var timerMu sync.Mutex
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			f.watcher.Close()
			return ctx.Err()

		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			f.mu.Lock()
			watched := f.path
			f.mu.Unlock()
			if absPath != watched {
				continue
			}

			// Debounce rapid writes into one catch-up pass.
			timerMu.Lock()
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(f.debounce, func() {
				f.handleChange(ctx, absPath)
			})
			timerMu.Unlock()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			if f.OnError != nil {
				f.OnError("", err)
			}
		}
	}
}

// handleChange reads whatever grew past the last offset, or re-ingests
// from scratch when the file shrank.
func (f *Follower) handleChange(ctx context.Context, path string) {
	stat, err := os.Stat(path)
	if err != nil {
		if f.OnError != nil {
			f.OnError(path, err)
		}
		return
	}

	f.mu.Lock()
	state := f.state
	f.mu.Unlock()

	if stat.ModTime().Equal(state.lastModified) && stat.Size() == state.offset {
		return // No actual change
	}

	if stat.Size() < state.offset {
		// Truncated: the incremental tail no longer lines up.
		if err := f.reingest(ctx, path); err != nil && f.OnError != nil {
			f.OnError(path, err)
		}
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if f.OnError != nil {
			f.OnError(path, err)
		}
		return
	}
	defer file.Close()

	if _, err := file.Seek(state.offset, io.SeekStart); err != nil {
		if f.OnError != nil {
			f.OnError(path, err)
		}
		return
	}

	if err := f.engine.Append(ctx, file); err != nil {
		if f.OnError != nil {
			f.OnError(path, err)
		}
		return
	}

	appended := stat.Size() - state.offset
	f.mu.Lock()
	f.state = tailState{offset: stat.Size(), lastModified: stat.ModTime()}
	f.mu.Unlock()

	if f.OnUpdate != nil {
		f.OnUpdate(path, appended)
	}
}

// reingest replaces the engine contents with the whole file.
func (f *Follower) reingest(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	if err := f.engine.Ingest(ctx, file); err != nil {
		return err
	}

	f.mu.Lock()
	f.state = tailState{offset: stat.Size(), lastModified: stat.ModTime()}
	f.mu.Unlock()

	if f.OnUpdate != nil {
		f.OnUpdate(path, stat.Size())
	}
	return nil
}

// Close stops the follower.
func (f *Follower) Close() error {
	return f.watcher.Close()
}
