// Package receipt applies peer read receipts to a timeline and acknowledges
// the messages the local user has seen.
package receipt

import (
	"context"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/ordering"
	"github.com/matheus3301/chatline/internal/timeline"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/zap"
)

const debounceKey = "read-receipts"

// GroupReceipt is the payload of timeline.group_receipt events.
type GroupReceipt struct {
	GroupID     string
	MsgID       string
	ReadCount   int
	UnreadCount int
}

// Options configures a Tracker.
type Options struct {
	ConversationID string
	LocalUserID    string
	Store          *timeline.Store
	Loop           *ordering.Loop
	Sender         transport.ReceiptSender
	Bus            *bus.Bus
	// Debounce coalesces ReportVisible calls; zero acknowledges immediately.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Tracker owns the sent-read set of one conversation session. All methods
// must run on the loop.
type Tracker struct {
	opts    Options
	logger  *zap.Logger
	sent    map[string]struct{}
	pending []*entry.Entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a tracker.
func New(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		opts:   opts,
		logger: opts.Logger.With(zap.String("conversation", opts.ConversationID)),
		sent:   make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Stop abandons in-flight acknowledgements.
func (t *Tracker) Stop() {
	t.cancel()
}

// ApplyReceipts updates read state for a batch of receipts in one mutation
// batch.
func (t *Tracker) ApplyReceipts(receipts []entry.Receipt) {
	st := t.opts.Store
	var notices []GroupReceipt
	st.Batch(func(tx *timeline.Tx) {
		for _, r := range receipts {
			if r.ConversationID != t.opts.ConversationID {
				continue
			}
			if r.IsGroup {
				if n, ok := t.applyGroup(tx, r); ok {
					notices = append(notices, n)
				}
				continue
			}
			t.applyPeer(tx, r)
		}
	})
	for _, n := range notices {
		t.opts.Bus.Publish(bus.NewEvent(bus.TimelineGroupReceipt, n))
	}
}

func (t *Tracker) applyGroup(tx *timeline.Tx, r entry.Receipt) (GroupReceipt, bool) {
	i := t.opts.Store.IndexOf(r.MsgID)
	if i < 0 {
		t.logger.Debug("group receipt for unknown message", zap.String("msg_id", r.MsgID))
		return GroupReceipt{}, false
	}
	e := t.opts.Store.At(i)
	rr := readReceipt(e)
	rr.ReadCount = r.ReadCount
	rr.UnreadCount = r.UnreadCount
	if r.UserID != "" {
		rr.PerUser[r.UserID] = r.Timestamp
	}
	tx.Reload(i)
	return GroupReceipt{
		GroupID:     r.ConversationID,
		MsgID:       r.MsgID,
		ReadCount:   r.ReadCount,
		UnreadCount: r.UnreadCount,
	}, true
}

func (t *Tracker) applyPeer(tx *timeline.Tx, r entry.Receipt) {
	st := t.opts.Store
	for i := 0; i < st.Len(); i++ {
		e := st.At(i)
		if !e.IsMessage() || e.Placeholder || e.Direction != entry.Outgoing {
			continue
		}
		if e.Timestamp.After(r.Timestamp) {
			continue
		}
		rr := readReceipt(e)
		if rr.PeerRead {
			continue
		}
		rr.PeerRead = true
		if r.UserID != "" {
			rr.PerUser[r.UserID] = r.Timestamp
		}
		tx.Reload(i)
	}
}

func readReceipt(e *entry.Entry) *entry.ReadReceipt {
	if e.ReadReceipt == nil {
		e.ReadReceipt = &entry.ReadReceipt{}
	}
	if e.ReadReceipt.PerUser == nil {
		e.ReadReceipt.PerUser = make(map[string]time.Time)
	}
	return e.ReadReceipt
}

// Acknowledge submits read receipts for the entries at indices. It returns
// how many messages were submitted.
func (t *Tracker) Acknowledge(indices []int) int {
	entries := make([]*entry.Entry, 0, len(indices))
	for _, i := range indices {
		if e := t.opts.Store.At(i); e != nil {
			entries = append(entries, e)
		}
	}
	return t.AcknowledgeEntries(entries)
}

// AcknowledgeEntries submits read receipts for entries that request one and
// were not acknowledged before in this session.
func (t *Tracker) AcknowledgeEntries(entries []*entry.Entry) int {
	if t.opts.Sender == nil {
		t.logger.Debug("no receipt sender, skipping acknowledgement", zap.Int("entries", len(entries)))
		return 0
	}
	var msgs []*entry.RawMessage
	for _, e := range entries {
		if !t.eligible(e) {
			continue
		}
		t.sent[e.ID] = struct{}{}
		msgs = append(msgs, e.Source)
	}
	if len(msgs) == 0 {
		return 0
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	go func() {
		if err := t.opts.Sender.SendReadReceipts(t.ctx, msgs); err != nil {
			t.logger.Warn("failed to send read receipts", zap.Error(err), zap.Int("count", len(msgs)))
			return
		}
		t.opts.Bus.Publish(bus.NewEvent(bus.TimelineReadAcknowledged, ids))
	}()
	return len(msgs)
}

// ReportVisible queues entries that became visible and acknowledges them
// once reports stop arriving for the debounce interval.
func (t *Tracker) ReportVisible(entries []*entry.Entry) {
	t.pending = append(t.pending, entries...)
	if t.opts.Debounce <= 0 {
		t.flush()
		return
	}
	t.opts.Loop.Debounce(debounceKey, t.opts.Debounce, t.flush)
}

func (t *Tracker) flush() {
	pending := t.pending
	t.pending = nil
	t.AcknowledgeEntries(pending)
}

// Acknowledged reports whether id was already submitted.
func (t *Tracker) Acknowledged(id string) bool {
	_, ok := t.sent[id]
	return ok
}

func (t *Tracker) eligible(e *entry.Entry) bool {
	switch {
	case e == nil, e.Placeholder, e.Source == nil, e.ID == "":
		return false
	case e.Direction == entry.Outgoing, e.Source.FromMe, e.SenderID == t.opts.LocalUserID:
		return false
	case !e.Source.NeedReadReceipt:
		return false
	}
	_, done := t.sent[e.ID]
	return !done
}
