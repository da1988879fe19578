// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Reloadable is anything whose rules can be replaced from raw YAML.
type Reloadable interface {
	Reload(data []byte) error
}

// LoadOverride reads path and applies it to target. An empty path is a no-op.
func LoadOverride(path string, target Reloadable) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy override %s: %w", path, err)
	}
	if err := target.Reload(data); err != nil {
		return fmt.Errorf("apply policy override %s: %w", path, err)
	}
	return nil
}

// WatchOverride applies path to target and re-applies it whenever the file
// changes, until ctx is cancelled.
//
// # Description
//
// The parent directory is watched rather than the file so that editors and
// config-map mounts that replace the file atomically are picked up. A bad
// edit is logged and the previous rules stay active.
//
// # Outputs
//
//   - error: Non-nil if the initial load or the watcher setup failed.
func WatchOverride(ctx context.Context, path string, target Reloadable) error {
	if err := LoadOverride(path, target); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		clean := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != clean {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := LoadOverride(path, target); err != nil {
					slog.Warn("Policy override reload failed, keeping previous rules",
						"path", path, "error", err)
					continue
				}
				slog.Info("Policy override reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Policy watcher error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
