// Package timeline holds the ordered sequence of presentation entries for a
// conversation and reports every mutation to an observer.
//
// A Store is not safe for concurrent use. It is owned by the conversation's
// ordering loop and must only be touched from tasks running on it.
package timeline

import (
	"time"

	"github.com/matheus3301/chatline/internal/entry"
	"go.uber.org/zap"
)

// ChangeType is the kind of a single applied mutation.
type ChangeType int

const (
	Insert ChangeType = iota
	Delete
	Reload
)

func (c ChangeType) String() string {
	switch c {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "reload"
	}
}

// Observer receives the change notifications of a store. Every batch that
// applies at least one mutation produces exactly one WillChange, one Changed
// per mutation in the order applied, and one DidChange.
type Observer interface {
	WillChange()
	Changed(kind ChangeType, index int)
	DidChange()
}

// HeightInvalidator is called with every entry that is removed or replaced
// so the renderer can drop cached measurements.
type HeightInvalidator func(e *entry.Entry)

// Options configures a Store.
type Options struct {
	// MergeAdjacent enables the same-sender grouping heuristic.
	MergeAdjacent bool
	// MergeWindow is the maximum gap between two grouped entries.
	MergeWindow time.Duration
	Observer    Observer
	Logger      *zap.Logger
}

// Store is the ordered, mutable sequence of timeline entries.
type Store struct {
	entries    []*entry.Entry
	ids        map[string]struct{}
	observer   Observer
	invalidate HeightInvalidator
	merge      bool
	window     time.Duration
	logger     *zap.Logger
	tx         *Tx
}

// New creates an empty store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := opts.MergeWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Store{
		ids:      make(map[string]struct{}),
		observer: opts.Observer,
		merge:    opts.MergeAdjacent,
		window:   window,
		logger:   logger,
	}
}

// SetObserver replaces the change observer.
func (s *Store) SetObserver(o Observer) {
	s.observer = o
}

// SetHeightInvalidator installs the cache-invalidation hook.
func (s *Store) SetHeightInvalidator(fn HeightInvalidator) {
	s.invalidate = fn
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// At returns the entry at index i, or nil when out of range.
func (s *Store) At(i int) *entry.Entry {
	if i < 0 || i >= len(s.entries) {
		return nil
	}
	return s.entries[i]
}

// Last returns the tail entry, or nil for an empty store.
func (s *Store) Last() *entry.Entry {
	return s.At(len(s.entries) - 1)
}

// Contains reports whether a non-placeholder entry with id is stored.
func (s *Store) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// IndexOf returns the index of the non-placeholder entry with id, or -1.
func (s *Store) IndexOf(id string) int {
	if !s.Contains(id) {
		return -1
	}
	return s.IndexFunc(func(e *entry.Entry) bool {
		return !e.Placeholder && e.ID == id
	})
}

// IndexFunc returns the index of the first entry matching pred, or -1.
func (s *Store) IndexFunc(pred func(*entry.Entry) bool) int {
	for i, e := range s.entries {
		if pred(e) {
			return i
		}
	}
	return -1
}

// IndexOfEntry returns the index holding exactly e, or -1.
func (s *Store) IndexOfEntry(e *entry.Entry) int {
	if e == nil {
		return -1
	}
	return s.IndexFunc(func(x *entry.Entry) bool { return x == e })
}

// Snapshot returns a copy of the current sequence.
func (s *Store) Snapshot() []*entry.Entry {
	out := make([]*entry.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Batch runs fn as one mutation batch and returns the number of change
// events it produced. Nested calls join the outer batch.
func (s *Store) Batch(fn func(tx *Tx)) int {
	if s.tx != nil {
		before := s.tx.changes
		fn(s.tx)
		return s.tx.changes - before
	}
	tx := &Tx{s: s}
	s.tx = tx
	defer func() {
		s.tx = nil
		if tx.started && s.observer != nil {
			s.observer.DidChange()
		}
	}()
	fn(tx)
	return tx.changes
}

func (s *Store) track(e *entry.Entry) {
	if !e.Placeholder && e.ID != "" {
		s.ids[e.ID] = struct{}{}
	}
}

func (s *Store) untrack(e *entry.Entry) {
	if !e.Placeholder && e.ID != "" {
		delete(s.ids, e.ID)
	}
}

func (s *Store) invalidateHeight(e *entry.Entry) {
	if s.invalidate != nil {
		s.invalidate(e)
	}
}

// LastIndexFunc returns the index of the last entry matching pred, or -1.
func (s *Store) LastIndexFunc(pred func(*entry.Entry) bool) int {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if pred(s.entries[i]) {
			return i
		}
	}
	return -1
}
