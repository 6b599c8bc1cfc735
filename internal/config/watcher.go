// Copyright 2026 The switchCache Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceWindow coalesces the burst of write events editors and atomic
// renames produce for a single save.
const debounceWindow = 200 * time.Millisecond

// Watcher reloads the configuration file on change and hands the parsed
// result to a callback. Only runtime-tunable settings should be applied from
// the callback; backend selection changes require a restart.
type Watcher struct {
	path     string
	onChange func(*Config)
	fw       *fsnotify.Watcher
}

// NewWatcher watches the configuration file at path. onChange runs on every
// successful reload; parse and validation failures are logged and the
// previous configuration stays in effect.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	// watch the directory, not the file: atomic saves replace the inode
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{path: path, onChange: onChange, fw: fw}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.fw.Close()
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher: %v", err)
		case <-pending:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Warnf("config reload rejected: %v", err)
		return
	}
	log.Infof("config reloaded from %s", w.path)
	w.onChange(cfg)
}
