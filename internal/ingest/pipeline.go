// Package ingest converts transport messages into timeline entries.
package ingest

import (
	"slices"
	"time"

	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/timeline"
	"go.uber.org/zap"
)

// DefaultMaxDateGap separates entries further apart than five minutes.
const DefaultMaxDateGap = 5 * time.Minute

// Mode tells the pipeline where a batch will be placed.
type Mode int

const (
	// Live batches are appended at the tail.
	Live Mode = iota
	// History batches are prepended at the head.
	History
)

// Options configures a Pipeline.
type Options struct {
	ConversationID string
	MaxDateGap     time.Duration
	Converters     []Converter
	// Exists reports whether an id is already in the timeline.
	Exists func(id string) bool
	Logger *zap.Logger
}

// Pipeline filters, converts and annotates raw messages for one conversation.
// It is owned by the conversation's ordering loop.
type Pipeline struct {
	conversation string
	maxGap       time.Duration
	converters   []Converter
	builtin      map[entry.MessageType]ConvertFunc
	exists       func(string) bool
	revoked      map[string]struct{}
	dateRef      time.Time
	hasDateRef   bool
	logger       *zap.Logger
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gap := opts.MaxDateGap
	if gap <= 0 {
		gap = DefaultMaxDateGap
	}
	exists := opts.Exists
	if exists == nil {
		exists = func(string) bool { return false }
	}
	return &Pipeline{
		conversation: opts.ConversationID,
		maxGap:       gap,
		converters:   slices.Clone(opts.Converters),
		builtin:      builtinConverters(),
		exists:       exists,
		revoked:      make(map[string]struct{}),
		logger:       logger,
	}
}

// Register adds a custom converter after the already registered ones.
func (p *Pipeline) Register(c Converter) {
	p.converters = append(p.converters, c)
}

// RegisterType replaces the built-in converter for a message type. A nil fn
// removes it.
func (p *Pipeline) RegisterType(t entry.MessageType, fn ConvertFunc) {
	if fn == nil {
		delete(p.builtin, t)
		return
	}
	p.builtin[t] = fn
}

// MarkRevoked drops any later delivery of id.
func (p *Pipeline) MarkRevoked(id string) {
	p.revoked[id] = struct{}{}
}

// IsRevoked reports whether id was revoked locally.
func (p *Pipeline) IsRevoked(id string) bool {
	_, ok := p.revoked[id]
	return ok
}

// Accepts reports whether msg belongs in this timeline.
func (p *Pipeline) Accepts(msg *entry.RawMessage) bool {
	switch {
	case msg == nil:
		return false
	case msg.ID == "":
		p.logger.Warn("dropping message without id", zap.String("conversation", msg.ConversationID))
		return false
	case msg.ConversationID != p.conversation:
		return false
	case p.IsRevoked(msg.ID):
		p.logger.Debug("dropping locally revoked message", zap.String("msg_id", msg.ID))
		return false
	}
	return true
}

// Convert runs the converters for msg without filtering or separators.
func (p *Pipeline) Convert(msg *entry.RawMessage) (*entry.Entry, bool) {
	if msg.Revoked {
		return RevokedEntry(msg, ""), true
	}
	for _, c := range p.converters {
		if e, ok := c.TryConvert(msg); ok && e != nil {
			return e, true
		}
	}
	if fn, ok := p.builtin[msg.Type]; ok {
		if e := fn(msg); e != nil {
			return e, true
		}
	}
	p.logger.Debug("no converter for message", zap.String("msg_id", msg.ID), zap.String("type", string(msg.Type)))
	return nil, false
}

// Ingest converts a batch into entries ordered by ascending timestamp, with
// date separators injected. Filtered and unconvertible messages are dropped.
func (p *Pipeline) Ingest(raws []*entry.RawMessage, mode Mode) []*entry.Entry {
	msgs := make([]*entry.RawMessage, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, msg := range raws {
		if !p.Accepts(msg) {
			continue
		}
		if _, dup := seen[msg.ID]; dup || p.exists(msg.ID) {
			p.logger.Debug("dropping duplicate message", zap.String("msg_id", msg.ID))
			continue
		}
		seen[msg.ID] = struct{}{}
		msgs = append(msgs, msg)
	}
	slices.SortStableFunc(msgs, func(a, b *entry.RawMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	var (
		ref    time.Time
		hasRef bool
	)
	if mode == Live {
		ref, hasRef = p.dateRef, p.hasDateRef
	}

	out := make([]*entry.Entry, 0, len(msgs)+1)
	for _, msg := range msgs {
		e, ok := p.Convert(msg)
		if !ok {
			continue
		}
		if !hasRef || e.Timestamp.Sub(ref) > p.maxGap {
			out = append(out, entry.NewDateSeparator(e.Timestamp))
			ref, hasRef = e.Timestamp, true
		}
		out = append(out, e)
	}

	if hasRef && (mode == Live || !p.hasDateRef) {
		p.dateRef, p.hasDateRef = ref, true
	}
	return out
}

// DateSeparatorFor returns a separator when an entry at ts starts a new
// group on the live side, updating the reference. It returns nil otherwise.
func (p *Pipeline) DateSeparatorFor(ts time.Time) *entry.Entry {
	if p.hasDateRef && ts.Sub(p.dateRef) <= p.maxGap {
		return nil
	}
	p.dateRef, p.hasDateRef = ts, true
	return entry.NewDateSeparator(ts)
}

// Unresolved lists the sender ids of incoming messages without a display
// name, without duplicates.
func Unresolved(entries []*entry.Entry) []string {
	var ids []string
	for _, e := range entries {
		if !e.IsMessage() || e.Direction != entry.Incoming || e.SenderName != "" || e.SenderID == "" {
			continue
		}
		ids = append(ids, e.SenderID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// ResetDateReference moves the live reference, e.g. after the separator it
// pointed at was removed. ok=false clears it.
func (p *Pipeline) ResetDateReference(ts time.Time, ok bool) {
	p.dateRef, p.hasDateRef = ts, ok
}

// SyncDateReference points the live reference at the last separator still
// in st, or clears it when there is none.
func (p *Pipeline) SyncDateReference(st *timeline.Store) {
	i := st.LastIndexFunc(func(e *entry.Entry) bool { return e.Kind == entry.KindDate })
	if i < 0 {
		p.ResetDateReference(time.Time{}, false)
		return
	}
	p.ResetDateReference(st.At(i).Timestamp, true)
}
