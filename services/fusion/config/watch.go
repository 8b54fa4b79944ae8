// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes.
//
// The parent directory is watched rather than the file, so editors that
// save by renaming a temporary file are seen too.
//
// Thread Safety: Run must be called at most once.
type Watcher struct {
	fs     *fsnotify.Watcher
	path   string
	logger *slog.Logger
}

// NewWatcher starts watching path. Changes are delivered by Run.
//
// Errors:
//
//	Returned when the watcher cannot be created or the directory cannot
//	be watched.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{fs: fw, path: abs, logger: logger}, nil
}

// Run calls onChange with every valid reload until ctx ends, then closes
// the watcher. Contents that fail to load are logged and skipped.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config)) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload rejected",
					slog.String("path", w.path),
					slog.String("error", err.Error()))
				continue
			}
			w.logger.Info("config reloaded", slog.String("path", w.path))
			onChange(cfg)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
