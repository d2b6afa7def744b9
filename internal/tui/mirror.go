package tui

import (
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/timeline"
	"github.com/matheus3301/chatline/internal/tui/views"
)

// entrySource reads the conversation's entries. Only valid on its loop.
type entrySource interface {
	At(i int) *entry.Entry
}

// op is one replayable change. shift is non-zero for scroll adjustments.
type op struct {
	kind  timeline.ChangeType
	index int
	row   views.Row
	shift int
}

// mirror observes one open conversation. Its callbacks run on the
// conversation loop, where entries are rendered into rows; each finished
// batch is handed to flush for replay on the UI goroutine.
type mirror struct {
	source   entrySource
	progress func(id string) (int, bool)
	flush    func(m *mirror, ops []op)
	pending  []op
}

func newMirror(flush func(m *mirror, ops []op)) *mirror {
	return &mirror{flush: flush}
}

// bind attaches the conversation. It must happen before the conversation
// starts.
func (m *mirror) bind(src entrySource, progress func(id string) (int, bool)) {
	m.source = src
	m.progress = progress
}

func (m *mirror) WillChange() {
	m.pending = nil
}

func (m *mirror) Changed(kind timeline.ChangeType, index int) {
	o := op{kind: kind, index: index}
	if kind != timeline.Delete && m.source != nil {
		if e := m.source.At(index); e != nil {
			o.row = views.EntryRow(e, m.percent(e))
		}
	}
	m.pending = append(m.pending, o)
}

func (m *mirror) DidChange() {
	ops := m.pending
	m.pending = nil
	if len(ops) > 0 {
		m.flush(m, ops)
	}
}

// AdjustOffset implements pager.ScrollKeeper. Pages are inserted inside a
// batch, so the shift is replayed after the inserted rows.
func (m *mirror) AdjustOffset(delta float64) {
	m.pending = append(m.pending, op{shift: int(delta)})
}

// rowHeight implements pager.HeightEstimator; every entry is one table row.
func rowHeight(*entry.Entry) float64 {
	return 1
}

func (m *mirror) percent(e *entry.Entry) int {
	if m.progress == nil || e.Direction != entry.Outgoing {
		return -1
	}
	if p, ok := m.progress(e.ID); ok {
		return p
	}
	return -1
}

// replay applies ops to the view. UI goroutine only.
func replay(v *views.TimelineView, ops []op) {
	for _, o := range ops {
		if o.shift != 0 {
			v.Shift(o.shift)
			continue
		}
		switch o.kind {
		case timeline.Insert:
			v.Insert(o.index, o.row)
		case timeline.Delete:
			v.Remove(o.index)
		case timeline.Reload:
			v.Update(o.index, o.row)
		}
	}
	v.Settle()
}
