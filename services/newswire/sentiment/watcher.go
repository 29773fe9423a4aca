// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentiment

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// lexiconDebounce batches editor write bursts into one reload.
const lexiconDebounce = 250 * time.Millisecond

// LexiconWatcher hot-reloads a scorer's lexicon file on change.
//
// # Description
//
// Watches the file's parent directory (editors often replace files via
// rename, which drops a watch on the file itself) and reloads after a
// debounce window. A reload failure keeps the previous lexicon active.
//
// # Thread Safety
//
// Safe for concurrent use. Stop is idempotent.
type LexiconWatcher struct {
	path     string
	scorer   *LexiconScorer
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewLexiconWatcher creates a watcher for the given lexicon file. The
// file is loaded once up front so a bad path fails fast.
func NewLexiconWatcher(path string, scorer *LexiconScorer) (*LexiconWatcher, error) {
	if err := scorer.LoadFile(path); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &LexiconWatcher{
		path:    path,
		scorer:  scorer,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. Returns immediately; reloads happen on a
// background goroutine until Stop or context cancellation.
func (w *LexiconWatcher) Start(ctx context.Context) {
	go w.watchLoop(ctx)
}

// Stop stops the watcher.
func (w *LexiconWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// watchLoop debounces write events on the lexicon file and reloads.
func (w *LexiconWatcher) watchLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(lexiconDebounce)
				timerC = timer.C
			} else {
				timer.Reset(lexiconDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.scorer.LoadFile(w.path); err != nil {
				slog.Warn("Lexicon reload failed, keeping previous lexicon",
					"path", w.path, "error", err)
				continue
			}
			slog.Info("Lexicon reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Lexicon watcher error", "error", err)
		}
	}
}
