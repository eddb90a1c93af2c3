package hooks

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSpoolDebounce = 100 * time.Millisecond

// Spool drains hook payloads that the hook script wrote to disk because the
// server was unreachable. Each *.json file is dispatched once and removed.
type Spool struct {
	dir      string
	applier  Applier
	debounce time.Duration
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer

	// procMu keeps debounced batches from overlapping.
	procMu sync.Mutex
}

// NewSpool creates dir if needed and starts watching it. Call Run to
// process files.
func NewSpool(dir string, a Applier) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Spool{
		dir:      dir,
		applier:  a,
		debounce: defaultSpoolDebounce,
		fsw:      fsw,
		pending:  make(map[string]bool),
	}, nil
}

// Dir returns the watched directory.
func (s *Spool) Dir() string { return s.dir }

// Run drains files already present, then processes new ones until ctx is
// cancelled. It closes the watcher before returning.
func (s *Spool) Run(ctx context.Context) error {
	defer s.fsw.Close()

	if n := s.Drain(); n > 0 {
		hooksLog.Info("spool_drained", slog.String("dir", s.dir), slog.Int("files", n))
	}

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			s.mu.Unlock()
			return nil

		case event, ok := <-s.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			s.schedule(event.Name)

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return nil
			}
			hooksLog.Warn("spool_watch_error", slog.String("error", err.Error()))
		}
	}
}

// schedule coalesces bursts of events into one batch.
func (s *Spool) schedule(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[path] = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flush)
}

func (s *Spool) flush() {
	s.mu.Lock()
	files := make([]string, 0, len(s.pending))
	for f := range s.pending {
		files = append(files, f)
	}
	s.pending = make(map[string]bool)
	s.mu.Unlock()

	sort.Strings(files)
	s.procMu.Lock()
	defer s.procMu.Unlock()
	for _, f := range files {
		s.process(f)
	}
}

// Drain processes every *.json file currently in the directory, oldest name
// first, and returns how many were consumed.
func (s *Spool) Drain() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		hooksLog.Warn("spool_read_failed", slog.String("dir", s.dir), slog.String("error", err.Error()))
		return 0
	}

	s.procMu.Lock()
	defer s.procMu.Unlock()

	n := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if s.process(filepath.Join(s.dir, entry.Name())) {
			n++
		}
	}
	return n
}

// process dispatches one file and removes it. Malformed files are removed
// too so they are not retried forever.
func (s *Spool) process(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		// Already consumed by an earlier batch.
		return false
	}

	if _, err := Dispatch(s.applier, data); err != nil {
		hooksLog.Warn("spool_file_invalid",
			slog.String("file", filepath.Base(path)),
			slog.String("error", err.Error()))
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		hooksLog.Warn("spool_remove_failed", slog.String("file", path), slog.String("error", err.Error()))
	}
	return true
}
