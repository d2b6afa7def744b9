package receipt

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/ordering"
	"github.com/matheus3301/chatline/internal/timeline"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

type mockReceipts struct {
	mu    sync.Mutex
	calls [][]string
	sent  chan struct{}
}

func (m *mockReceipts) SendReadReceipts(_ context.Context, msgs []*entry.RawMessage) error {
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}
	m.mu.Lock()
	m.calls = append(m.calls, ids)
	m.mu.Unlock()
	m.sent <- struct{}{}
	return nil
}

func (m *mockReceipts) snapshot() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

type reloads struct{ n int }

func (r *reloads) WillChange() {}
func (r *reloads) DidChange()  {}
func (r *reloads) Changed(kind timeline.ChangeType, _ int) {
	if kind == timeline.Reload {
		r.n++
	}
}

type fixture struct {
	loop    *ordering.Loop
	store   *timeline.Store
	tracker *Tracker
	mock    *mockReceipts
	bus     *bus.Bus
	obs     *reloads
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		loop: ordering.New(64, nil),
		mock: &mockReceipts{sent: make(chan struct{}, 16)},
		bus:  bus.New(),
		obs:  &reloads{},
	}
	f.store = timeline.New(timeline.Options{Observer: f.obs})
	f.tracker = New(Options{
		ConversationID: "chat@s",
		LocalUserID:    "me@s",
		Store:          f.store,
		Loop:           f.loop,
		Sender:         f.mock,
		Bus:            f.bus,
		Debounce:       debounce,
	})
	f.loop.Start(context.Background())
	t.Cleanup(func() {
		f.tracker.Stop()
		f.loop.Stop()
	})
	return f
}

func (f *fixture) do(t *testing.T, fn func()) {
	t.Helper()
	if err := f.loop.Do(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func raw(id, sender string, fromMe, needReceipt bool, offset time.Duration) *entry.RawMessage {
	return &entry.RawMessage{
		ID:              id,
		ConversationID:  "chat@s",
		SenderID:        sender,
		FromMe:          fromMe,
		Type:            entry.TypeText,
		Body:            id,
		Timestamp:       t0.Add(offset),
		NeedReadReceipt: needReceipt,
	}
}

func (f *fixture) seed(t *testing.T, msgs ...*entry.RawMessage) {
	t.Helper()
	f.do(t, func() {
		f.store.Batch(func(tx *timeline.Tx) {
			for _, m := range msgs {
				tx.Append(entry.FromRaw(m, entry.KindText))
			}
		})
	})
}

func (f *fixture) waitSend(t *testing.T) {
	t.Helper()
	select {
	case <-f.mock.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read receipts")
	}
}

func (f *fixture) expectNoSend(t *testing.T) {
	t.Helper()
	select {
	case <-f.mock.sent:
		t.Fatal("unexpected read receipt submission")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAcknowledgeDeduplicates(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t,
		raw("a", "peer@s", false, true, 0),
		raw("b", "peer@s", false, true, time.Second),
		raw("c", "peer@s", false, true, 2*time.Second),
	)

	var first, second int
	f.do(t, func() { first = f.tracker.Acknowledge([]int{0, 1}) })
	f.waitSend(t)
	f.do(t, func() { second = f.tracker.Acknowledge([]int{1, 2}) })
	f.waitSend(t)

	if first != 2 || second != 1 {
		t.Fatalf("submitted = %d, %d; want 2, 1", first, second)
	}
	calls := f.mock.snapshot()
	seen := map[string]int{}
	for _, call := range calls {
		for _, id := range call {
			seen[id]++
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 1 {
			t.Errorf("id %q acknowledged %d times, want 1", id, seen[id])
		}
	}
}

func TestAcknowledgeSkipsIneligible(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t,
		raw("mine", "me@s", true, true, 0),
		raw("quiet", "peer@s", false, false, time.Second),
	)

	var n int
	f.do(t, func() { n = f.tracker.Acknowledge([]int{0, 1, 7}) })
	if n != 0 {
		t.Fatalf("submitted = %d, want 0", n)
	}
	f.expectNoSend(t)
}

func TestReportVisibleCoalesces(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.seed(t,
		raw("a", "peer@s", false, true, 0),
		raw("b", "peer@s", false, true, time.Second),
	)

	f.do(t, func() { f.tracker.ReportVisible([]*entry.Entry{f.store.At(0)}) })
	f.do(t, func() { f.tracker.ReportVisible([]*entry.Entry{f.store.At(0), f.store.At(1)}) })
	f.waitSend(t)
	f.expectNoSend(t)

	calls := f.mock.snapshot()
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want one", calls)
	}
	got := append([]string(nil), calls[0]...)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("acknowledged = %v, want [a b]", got)
	}
}

func TestPeerReceiptMarksOutgoing(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t,
		raw("o1", "me@s", true, false, 0),
		raw("in", "peer@s", false, true, time.Minute),
		raw("o2", "me@s", true, false, 2*time.Minute),
		raw("o3", "me@s", true, false, 10*time.Minute),
	)

	f.do(t, func() {
		f.tracker.ApplyReceipts([]entry.Receipt{{
			ConversationID: "chat@s",
			UserID:         "peer@s",
			Timestamp:      t0.Add(5 * time.Minute),
		}})
	})

	f.do(t, func() {
		for _, tc := range []struct {
			id   string
			read bool
		}{{"o1", true}, {"in", false}, {"o2", true}, {"o3", false}} {
			e := f.store.At(f.store.IndexOf(tc.id))
			got := e.ReadReceipt != nil && e.ReadReceipt.PeerRead
			if got != tc.read {
				t.Errorf("%s PeerRead = %v, want %v", tc.id, got, tc.read)
			}
		}
		if f.obs.n != 2 {
			t.Errorf("reloads = %d, want 2", f.obs.n)
		}
	})
}

func TestGroupReceiptPublishes(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t, raw("g1", "me@s", true, false, 0))
	events, unsub := f.bus.Subscribe(bus.NamespaceTimeline, 4)
	defer unsub()

	f.do(t, func() {
		f.tracker.ApplyReceipts([]entry.Receipt{
			{ConversationID: "chat@s", IsGroup: true, MsgID: "g1", UserID: "u1@s", ReadCount: 3, UnreadCount: 2, Timestamp: t0},
			{ConversationID: "chat@s", IsGroup: true, MsgID: "missing", ReadCount: 1},
			{ConversationID: "other@s", IsGroup: true, MsgID: "g1", ReadCount: 9},
		})
	})

	select {
	case evt := <-events:
		if evt.Kind != bus.TimelineGroupReceipt {
			t.Fatalf("kind = %q", evt.Kind)
		}
		n := evt.Payload.(GroupReceipt)
		if n.GroupID != "chat@s" || n.MsgID != "g1" || n.ReadCount != 3 || n.UnreadCount != 2 {
			t.Errorf("payload = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no group receipt event")
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	f.do(t, func() {
		rr := f.store.At(0).ReadReceipt
		if rr == nil || rr.ReadCount != 3 || rr.UnreadCount != 2 || rr.PerUser["u1@s"] != t0 {
			t.Errorf("read receipt = %+v", rr)
		}
	})
}

func TestAcknowledgeWithoutSender(t *testing.T) {
	f := newFixture(t, 0)
	f.tracker.opts.Sender = nil
	f.seed(t, raw("in1", "peer@s", false, true, 0))

	f.do(t, func() {
		if n := f.tracker.Acknowledge([]int{0}); n != 0 {
			t.Errorf("Acknowledge() = %d, want 0 without a sender", n)
		}
		if f.tracker.Acknowledged("in1") {
			t.Error("in1 recorded as acknowledged without a sender")
		}
	})
	f.expectNoSend(t)
}
