package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mikeychann-hash/fgd-server/internal/workspace"
)

const (
	defaultContextLimit   = 20
	defaultMaxEntries     = 1000
	defaultLockTimeout    = 10 * time.Second
	defaultGeneralCat     = "general"
	lockPollInterval      = 20 * time.Millisecond
	conversationsCategory = "conversations"
)

// Store is the single source of truth for persistent workspace state. All
// mutations serialise writes across processes via an advisory file lock
// and rewrite the document atomically (spec.md §4.3).
type Store struct {
	mu sync.Mutex // serialises in-process access; the flock serialises cross-process access

	path         string
	lockPath     string
	contextLimit int
	maxEntries   int
	lockTimeout  time.Duration
	logger       *log.Logger

	doc Document
}

// Options configures a Store. Zero values fall back to spec.md defaults.
type Options struct {
	ContextLimit int
	MaxEntries   int
	LockTimeout  time.Duration
	Logger       *log.Logger
}

// Open loads path (if present) and returns a ready Store. A missing file
// starts empty. An unreadable or truncated file (e.g. a crash mid-write)
// is rejected and the store starts empty rather than risk acting on
// corrupt state; operators may restore the ".tmp" sibling manually.
func Open(path string, opts Options) (*Store, error) {
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = defaultContextLimit
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[memory] ", log.LstdFlags)
	}

	s := &Store{
		path:         path,
		lockPath:     path + ".lock",
		contextLimit: opts.ContextLimit,
		maxEntries:   opts.MaxEntries,
		lockTimeout:  opts.LockTimeout,
		logger:       opts.Logger,
		doc:          newDocument(),
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No prior state; start empty.
	case err != nil:
		s.logger.Printf("WARN: memory file %q unreadable (%v), starting empty", path, err)
	default:
		var doc Document
		if jerr := json.Unmarshal(raw, &doc); jerr != nil {
			s.logger.Printf("WARN: memory file %q is truncated or corrupt (%v), starting empty", path, jerr)
		} else {
			if doc.Memories == nil {
				doc.Memories = map[string]map[string]*Entry{}
			}
			// Older schema lacking "context": zero value (nil slice) is
			// already the correct empty representation.
			s.doc = doc
		}
	}
	return s, nil
}

// Remember upserts an Entry. access_count starts at 0 on create and is
// preserved (not reset) on update, as is the creation timestamp.
func (s *Store) Remember(key, category string, value any) error {
	if category == "" {
		category = defaultGeneralCat
	}
	return s.mutate(func(doc *Document) error {
		if doc.Memories[category] == nil {
			doc.Memories[category] = map[string]*Entry{}
		}
		if existing, ok := doc.Memories[category][key]; ok {
			existing.Value = value
		} else {
			doc.Memories[category][key] = &Entry{Value: value, Timestamp: time.Now(), AccessCount: 0}
		}
		doc.pruneLRU(s.maxEntries)
		return nil
	})
}

// RememberConversation upserts an Entry under the conversations category,
// keyed "chat_<uuid>" per spec.md §3.
func (s *Store) RememberConversation(key string, value any) error {
	return s.Remember(key, conversationsCategory, value)
}

// Recall returns the Entry's value for (category, key), incrementing its
// access_count and persisting the increment. The returned bool reports
// whether the entry was found.
func (s *Store) Recall(key, category string) (any, bool, error) {
	if category == "" {
		category = defaultGeneralCat
	}
	var value any
	var found bool
	err := s.mutate(func(doc *Document) error {
		cat, ok := doc.Memories[category]
		if !ok {
			return nil
		}
		e, ok := cat[key]
		if !ok {
			return nil
		}
		e.AccessCount++
		value = e.Value
		found = true
		return nil
	})
	return value, found, err
}

// RecallCategory returns a snapshot of one category without mutating
// access counts (spec.md §4.3: "when only category, returns the category").
func (s *Store) RecallCategory(category string) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]Entry{}
	for k, e := range s.doc.Memories[category] {
		out[k] = *e
	}
	return out, nil
}

// RecallAll returns a snapshot of every category.
func (s *Store) RecallAll() (map[string]map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]Entry, len(s.doc.Memories))
	for cat, entries := range s.doc.Memories {
		inner := make(map[string]Entry, len(entries))
		for k, e := range entries {
			inner[k] = *e
		}
		out[cat] = inner
	}
	return out, nil
}

// AddContext appends a ContextItem to the ring, evicting the oldest item
// if the cap is exceeded.
func (s *Store) AddContext(itemType string, data any) error {
	return s.mutate(func(doc *Document) error {
		doc.Context = append(doc.Context, ContextItem{Type: itemType, Data: data, Timestamp: time.Now()})
		if over := len(doc.Context) - s.contextLimit; over > 0 {
			doc.Context = doc.Context[over:]
		}
		return nil
	})
}

// GetContext returns a snapshot of the context ring, oldest first.
func (s *Store) GetContext() ([]ContextItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ContextItem, len(s.doc.Context))
	copy(out, s.doc.Context)
	return out, nil
}

// RecentContext returns up to n of the most recent context items, oldest
// first, for injection into an LLM prompt (spec.md §4.8).
func (s *Store) RecentContext(n int) ([]ContextItem, error) {
	all, err := s.GetContext()
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// mutate runs fn against the in-memory document under the cross-process
// lock, then persists and releases the lock. Any error from fn or from
// the persistence protocol is logged and re-raised — silent failure is
// forbidden (spec.md §4.3 step 7).
func (s *Store) mutate(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer release()

	if err := fn(&s.doc); err != nil {
		s.logger.Printf("ERROR: memory mutation failed: %v", err)
		return err
	}
	if err := s.persist(); err != nil {
		s.logger.Printf("ERROR: memory persist failed: %v", err)
		return err
	}
	return nil
}

func (s *Store) acquireLock() (func(), error) {
	fl := flock.New(s.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, lockPollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire memory lock within %s: %w", s.lockTimeout, workspace.ErrLockTimeout)
		}
		return nil, fmt.Errorf("acquire memory lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire memory lock within %s: %w", s.lockTimeout, workspace.ErrLockTimeout)
	}
	return func() { _ = fl.Unlock() }, nil
}

// persist serialises the in-memory document to a sibling temp file in the
// same directory and renames it over the target atomically. If the rename
// fails (platform lock contention), it falls back to a direct overwrite
// and logs the fallback.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp memory file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp memory file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		s.logger.Printf("WARN: could not set owner-only permissions on %q: %v", tmpPath, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		s.logger.Printf("WARN: atomic rename failed (%v), falling back to direct overwrite", err)
		if werr := os.WriteFile(s.path, data, 0o600); werr != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("fallback overwrite memory file: %w", werr)
		}
		os.Remove(tmpPath)
	}
	return nil
}
