// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/deepchat/internal/logging"
)

// reloadDebounce coalesces the burst of events an editor or an atomic
// replace produces for one logical save.
const reloadDebounce = 150 * time.Millisecond

// =============================================================================
// STORE
// =============================================================================

// Store holds the live configuration. Readers get copies, so a request that
// captured Settings() is unaffected by later updates.
//
// The store keeps two views: the file configuration, which is what Save
// writes, and the live configuration, which is the file plus environment
// overrides. Update edits the file view, so an override never reaches disk.
type Store struct {
	path   string
	file   *Config                // guarded by mu
	cur    atomic.Pointer[Config] // file plus overrides
	mu     sync.Mutex             // serializes Update, Save and Reload
	logger *slog.Logger
}

// NewStore wraps a file configuration as loaded by LoadFileFromPath and
// applies environment overrides to the live view. path may be empty for an
// in-memory store; Save is then a no-op. The caller validates the resolved
// configuration; NewStore does not.
func NewStore(path string, file *Config, logger *slog.Logger) *Store {
	if file == nil {
		file = Default()
	}
	s := &Store{
		path:   path,
		file:   file.Clone(),
		logger: logging.WithComponent(logger, "config"),
	}
	live := file.Clone()
	live.ApplyEnvOverrides()
	live.SetDefaults()
	s.cur.Store(live)
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Config returns a copy of the live configuration.
func (s *Store) Config() *Config {
	return s.cur.Load().Clone()
}

// Settings returns the request settings as of now.
func (s *Store) Settings() Settings {
	return s.cur.Load().Settings()
}

// Update applies fn to a copy of the file configuration, validates the
// result with overrides applied, persists the file copy and swaps in the new
// live view. On any error nothing changes.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.file.Clone()
	if err := fn(next); err != nil {
		return err
	}
	live, err := Resolve(next)
	if err != nil {
		return err
	}
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.file = next
	s.cur.Store(live)
	return nil
}

// Set updates one dotted key, e.g. "api.key".
func (s *Store) Set(key, value string) error {
	return s.Update(func(c *Config) error {
		return c.Set(key, value)
	})
}

// Save writes the file configuration to the backing file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(s.file)
}

func (s *Store) saveLocked(cfg *Config) error {
	if s.path == "" {
		return nil
	}
	return SaveToPath(cfg, s.path)
}

// Reload re-reads the backing file. An invalid file leaves the current
// configuration in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := LoadFileFromPath(s.path)
	if err != nil {
		return err
	}
	live, err := Resolve(file)
	if err != nil {
		return err
	}
	s.file = file
	s.cur.Store(live)
	return nil
}

// =============================================================================
// FILE WATCHING
// =============================================================================

// Watch reloads the configuration whenever the backing file changes. It
// watches the parent directory so atomic replaces are seen. The watch stops
// when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("config store has no backing file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(s.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn("config reload failed", "path", s.path, "error", err)
					return
				}
				s.logger.Info("config reloaded", "path", s.path)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watcher error", "error", err)
		}
	}
}
