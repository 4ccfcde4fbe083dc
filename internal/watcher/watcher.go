// Package watcher implements the ChangeObserver described in spec.md §4.6
// (C6): a single watcher on WatchedRoot that publishes create/modify/
// delete events into the memory.Store's context ring. It never fails the
// server — registration errors are logged and the caller continues in a
// degraded, untracked mode.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mikeychann-hash/fgd-server/internal/memory"
)

const defaultJoinTimeout = 5 * time.Second

// Observer holds a non-owning handle to the memory.Store it feeds; the
// Store itself is exclusively owned by Lifecycle (spec.md §9).
type Observer struct {
	root   string
	store  *memory.Store
	logger *log.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Start registers a recursive watch under root and begins publishing
// events into store. A registration failure is logged and a nil
// Observer is returned with no error propagated to the caller — the
// server continues without change tracking (spec.md §4.6 degraded mode).
func Start(root string, store *memory.Store, logger *log.Logger) *Observer {
	if logger == nil {
		logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Printf("WARN: change observer disabled, could not create watcher: %v", err)
		return nil
	}
	if err := addRecursive(w, root); err != nil {
		logger.Printf("WARN: change observer disabled, could not watch %q: %v", root, err)
		w.Close()
		return nil
	}

	o := &Observer{root: root, store: store, logger: logger, watcher: w, done: make(chan struct{})}
	o.wg.Add(1)
	go o.loop()
	return o
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && !strings.HasPrefix(filepath.Base(path), ".git") {
			return w.Add(path)
		}
		return nil
	})
}

func (o *Observer) loop() {
	defer o.wg.Done()
	for {
		select {
		case ev, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.handle(ev)
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.logger.Printf("WARN: watcher error: %v", err)
		case <-o.done:
			return
		}
	}
}

func (o *Observer) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(o.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	var kind string
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = "created"
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = o.watcher.Add(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		kind = "modified"
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = "deleted"
	default:
		return
	}
	if o.store != nil {
		_ = o.store.AddContext("file_change", map[string]string{"path": rel, "kind": kind})
	}
}

// Stop signals the loop to exit and waits up to timeout for it to do so.
// If it fails to stop in time, a warning is logged and Stop returns
// without blocking further (spec.md §4.6: join timeout, default 5s).
func (o *Observer) Stop(timeout time.Duration) {
	if o == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultJoinTimeout
	}
	close(o.done)
	_ = o.watcher.Close()

	stopped := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		o.logger.Printf("WARN: change observer did not stop within %s", timeout)
	}
}
