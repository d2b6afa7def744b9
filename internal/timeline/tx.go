package timeline

import (
	"slices"

	"github.com/matheus3301/chatline/internal/entry"
	"go.uber.org/zap"
)

// Tx applies mutations inside a Store.Batch call.
type Tx struct {
	s       *Store
	started bool
	changes int
}

func (tx *Tx) emit(kind ChangeType, index int) {
	obs := tx.s.observer
	if !tx.started {
		tx.started = true
		if obs != nil {
			obs.WillChange()
		}
	}
	tx.changes++
	if obs != nil {
		obs.Changed(kind, index)
	}
}

// Append adds entries at the tail and returns how many were inserted.
func (tx *Tx) Append(entries ...*entry.Entry) int {
	return tx.InsertAt(len(tx.s.entries), entries...)
}

// InsertAt inserts entries contiguously starting at index. Entries whose id
// is already stored are skipped. It returns how many were inserted.
func (tx *Tx) InsertAt(index int, entries ...*entry.Entry) int {
	s := tx.s
	if index < 0 || index > len(s.entries) {
		s.logger.Warn("insert out of range", zap.Int("index", index), zap.Int("len", len(s.entries)))
		return 0
	}
	accepted := make([]*entry.Entry, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		if !e.Placeholder && s.Contains(e.ID) {
			s.logger.Warn("duplicate entry id ignored", zap.String("id", e.ID))
			continue
		}
		if s.IndexOfEntry(e) >= 0 || slices.Contains(accepted, e) {
			s.logger.Warn("entry already stored", zap.String("id", e.ID))
			continue
		}
		accepted = append(accepted, e)
		s.track(e)
	}
	if len(accepted) == 0 {
		return 0
	}

	s.entries = slices.Insert(s.entries, index, accepted...)
	end := index + len(accepted)
	for i := index; i < end; i++ {
		s.applyFlags(i)
	}
	for i := index; i < end; i++ {
		tx.emit(Insert, i)
	}
	if index > 0 && s.applyFlags(index-1) {
		tx.emit(Reload, index-1)
	}
	return len(accepted)
}

// RemoveAt removes and returns the entry at index, or nil when out of range.
func (tx *Tx) RemoveAt(index int) *entry.Entry {
	s := tx.s
	if index < 0 || index >= len(s.entries) {
		s.logger.Warn("remove out of range", zap.Int("index", index), zap.Int("len", len(s.entries)))
		return nil
	}
	e := s.entries[index]
	s.entries = slices.Delete(s.entries, index, index+1)
	s.untrack(e)
	s.invalidateHeight(e)
	tx.emit(Delete, index)
	if index > 0 && s.applyFlags(index-1) {
		tx.emit(Reload, index-1)
	}
	return e
}

// Remove removes exactly e. It reports false when e is not stored.
func (tx *Tx) Remove(e *entry.Entry) bool {
	i := tx.s.IndexOfEntry(e)
	if i < 0 {
		id := ""
		if e != nil {
			id = e.ID
		}
		tx.s.logger.Warn("remove of unknown entry ignored", zap.String("id", id))
		return false
	}
	return tx.RemoveAt(i) != nil
}

// ReplaceAt swaps the entry at index for e.
func (tx *Tx) ReplaceAt(index int, e *entry.Entry) bool {
	s := tx.s
	if e == nil || index < 0 || index >= len(s.entries) {
		s.logger.Warn("replace out of range", zap.Int("index", index), zap.Int("len", len(s.entries)))
		return false
	}
	old := s.entries[index]
	if old == e {
		return tx.Reload(index)
	}
	if !e.Placeholder && e.ID != old.ID && s.Contains(e.ID) {
		s.logger.Warn("replace with duplicate id ignored", zap.String("id", e.ID))
		return false
	}
	s.untrack(old)
	s.entries[index] = e
	s.track(e)
	s.invalidateHeight(old)
	s.applyFlags(index)
	tx.emit(Reload, index)
	if index > 0 && s.applyFlags(index-1) {
		tx.emit(Reload, index-1)
	}
	return true
}

// Reload reports that the entry at index changed in place.
func (tx *Tx) Reload(index int) bool {
	s := tx.s
	if index < 0 || index >= len(s.entries) {
		s.logger.Warn("reload out of range", zap.Int("index", index), zap.Int("len", len(s.entries)))
		return false
	}
	s.applyFlags(index)
	tx.emit(Reload, index)
	if index > 0 && s.applyFlags(index-1) {
		tx.emit(Reload, index-1)
	}
	return true
}

// ReloadEntry reloads exactly e wherever it is stored.
func (tx *Tx) ReloadEntry(e *entry.Entry) bool {
	i := tx.s.IndexOfEntry(e)
	if i < 0 {
		return false
	}
	return tx.Reload(i)
}

// RemoveCollapsing removes the entry at index together with the date
// separator in front of it when that separator would be left heading an
// empty group. It returns the removed message entry.
func (tx *Tx) RemoveCollapsing(index int) *entry.Entry {
	s := tx.s
	e := tx.RemoveAt(index)
	if e == nil || index == 0 {
		return e
	}
	prev := s.entries[index-1]
	if prev.Kind != entry.KindDate {
		return e
	}
	if index == len(s.entries) || s.entries[index].Kind == entry.KindDate {
		tx.RemoveAt(index - 1)
	}
	return e
}
