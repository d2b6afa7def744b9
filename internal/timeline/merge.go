package timeline

import "github.com/matheus3301/chatline/internal/entry"

// applyFlags recomputes the grouping flags of the entry at i against its
// successor and reports whether they changed.
func (s *Store) applyFlags(i int) bool {
	e := s.entries[i]
	same := false
	if s.merge && i+1 < len(s.entries) {
		same = sameGroup(e, s.entries[i+1], s)
	}
	avatar := e.IsMessage() && !same
	changed := e.SameSenderAsNext != same || e.ShowAvatar != avatar
	e.SameSenderAsNext = same
	e.ShowAvatar = avatar
	return changed
}

func sameGroup(a, b *entry.Entry, s *Store) bool {
	if !a.IsMessage() || !b.IsMessage() {
		return false
	}
	if a.SenderID != b.SenderID || a.Direction != b.Direction {
		return false
	}
	gap := b.Timestamp.Sub(a.Timestamp)
	return gap >= 0 && gap <= s.window
}
