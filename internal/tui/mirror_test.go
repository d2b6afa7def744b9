package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/timeline"
)

func textEntry(id string, dir entry.Direction) *entry.Entry {
	return &entry.Entry{
		ID:        id,
		Kind:      entry.KindText,
		SenderID:  "ann@s",
		Direction: dir,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:    status.Success,
		Text:      "hello " + id,
	}
}

func TestMirrorReplaysBatches(t *testing.T) {
	var batches [][]op
	m := newMirror(func(_ *mirror, ops []op) { batches = append(batches, ops) })
	st := timeline.New(timeline.Options{Observer: m})
	m.bind(st, nil)

	st.Batch(func(tx *timeline.Tx) {
		tx.Append(textEntry("a", entry.Incoming), textEntry("b", entry.Incoming))
	})
	st.Batch(func(tx *timeline.Tx) {
		tx.InsertAt(0, textEntry("old", entry.Incoming))
		m.AdjustOffset(rowHeight(nil))
	})
	st.Batch(func(tx *timeline.Tx) { tx.RemoveAt(1) })
	// An empty batch does not flush.
	st.Batch(func(*timeline.Tx) {})

	if len(batches) != 3 {
		t.Fatalf("flushed %d batches, want 3", len(batches))
	}
	if got := batches[0]; len(got) != 2 || got[0].kind != timeline.Insert || !strings.Contains(got[1].row.Text, "hello b") {
		t.Errorf("first batch = %+v", got)
	}
	second := batches[1]
	if last := second[len(second)-1]; last.shift != 1 {
		t.Errorf("scroll shift not replayed after inserts: %+v", second)
	}
	if second[0].kind != timeline.Insert || second[0].index != 0 {
		t.Errorf("second batch = %+v", second)
	}
	if got := batches[2]; got[0].kind != timeline.Delete || got[0].index != 1 {
		t.Errorf("third batch = %+v", got)
	}
}

func TestMirrorRendersUploadProgress(t *testing.T) {
	var rows []string
	m := newMirror(func(_ *mirror, ops []op) {
		for _, o := range ops {
			rows = append(rows, o.row.Text)
		}
	})
	st := timeline.New(timeline.Options{Observer: m})
	m.bind(st, func(id string) (int, bool) { return 40, id == "out" })

	out := textEntry("out", entry.Outgoing)
	out.Status = status.SendingLocal
	st.Batch(func(tx *timeline.Tx) { tx.Append(out) })

	if len(rows) != 1 || !strings.Contains(rows[0], "40%") {
		t.Errorf("rows = %q, want upload percentage", rows)
	}
}

func TestFlashExpires(t *testing.T) {
	var f flash
	f.set("hi", time.Minute)
	if got := f.get(time.Now()); got != "hi" {
		t.Errorf("get() = %q", got)
	}
	if got := f.get(time.Now().Add(2 * time.Minute)); got != "" {
		t.Errorf("get() after expiry = %q", got)
	}
}
