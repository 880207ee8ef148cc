package trigger

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/x-stp/domaingate/internal/core"
	"gopkg.in/yaml.v3"
)

// Signals is the on-disk form of the producer signals.
type Signals struct {
	IndexGaps        []string `yaml:"index_gaps"`
	TrendingKeywords []string `yaml:"trending_keywords"`
}

// LoadSignals reads and parses a signals file.
func LoadSignals(path string) (Signals, error) {
	var s Signals
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read signals file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse signals file: %w", err)
	}
	return s, nil
}

// SignalWatcher keeps a Monitor in sync with a signals file. Every successful
// load replaces both snapshots; a file that fails to parse leaves the
// previous snapshot in place.
type SignalWatcher struct {
	path     string
	monitor  *Monitor
	debounce time.Duration
	running  atomic.Bool
	reloads  atomic.Int64
	failures atomic.Int64

	// OnReload, if set, is called after every load attempt.
	OnReload func(Signals, error)
}

// NewSignalWatcher creates a watcher for path feeding monitor. debounce <= 0
// uses core.SignalsDebounce.
func NewSignalWatcher(path string, monitor *Monitor, debounce time.Duration) (*SignalWatcher, error) {
	if path == "" {
		return nil, errors.New("signals file path is required")
	}
	if monitor == nil {
		return nil, errors.New("monitor is required")
	}
	if debounce <= 0 {
		debounce = core.SignalsDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve signals path: %w", err)
	}
	return &SignalWatcher{path: abs, monitor: monitor, debounce: debounce}, nil
}

// Reload loads the file once and pushes it into the monitor.
func (w *SignalWatcher) Reload() error {
	s, err := LoadSignals(w.path)
	w.reloads.Add(1)
	if err != nil {
		w.failures.Add(1)
		log.Printf("Keeping previous signals, reload of %s failed: %v", w.path, err)
	} else {
		w.monitor.UpdateIndexGaps(s.IndexGaps)
		w.monitor.UpdateTrendingKeywords(s.TrendingKeywords)
		log.Printf("Loaded signals from %s: %d index gaps, %d trending keywords",
			w.path, len(w.monitor.IndexGaps()), len(w.monitor.TrendingKeywords()))
	}
	if w.OnReload != nil {
		w.OnReload(s, err)
	}
	return err
}

// Stats returns the number of load attempts and failed loads.
func (w *SignalWatcher) Stats() (reloads, failures int64) {
	return w.reloads.Load(), w.failures.Load()
}

// Run loads the file, then watches its directory until ctx ends. Editors
// often replace files by rename, so the directory is watched rather than
// the file itself.
func (w *SignalWatcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("signal watcher already running")
	}
	defer w.running.Store(false)

	// A missing file at startup is not fatal; it may be created later.
	_ = w.Reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Signals watcher error: %v", err)
		case <-timer.C:
			_ = w.Reload()
		}
	}
}
