// Package engine composes the timeline components of one conversation behind
// a single ordering loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/ingest"
	"github.com/matheus3301/chatline/internal/ordering"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/pager"
	"github.com/matheus3301/chatline/internal/receipt"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/streaming"
	"github.com/matheus3301/chatline/internal/timeline"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/zap"
)

// ErrClosed is returned by actions on a closed conversation.
var ErrClosed = errors.New("conversation closed")

// DefaultTypingTimeout removes a typing placeholder nobody cleared.
const DefaultTypingTimeout = 10 * time.Second

const typingTimerKey = "typing"

// Options configures a Conversation.
type Options struct {
	ConversationID string
	IsGroup        bool
	LocalUserID    string

	MaxDateGap          time.Duration
	PageSize            int
	MergeAdjacent       bool
	BenignCodes         []int
	TypingTimeout       time.Duration
	ReadReceiptDebounce time.Duration

	Bus         *bus.Bus
	History     transport.History
	Sender      transport.Sender
	Receipts    transport.ReceiptSender
	Revoker     transport.Revoker
	Names       transport.NameResolver
	Registry    *streaming.Registry
	Interrupter *streaming.Interrupter
	Ledger      *outbox.ProgressLedger

	Observer   timeline.Observer
	Heights    pager.HeightEstimator
	Scroll     pager.ScrollKeeper
	Converters []ingest.Converter

	NewID  func() string
	Clock  func() time.Time
	Logger *zap.Logger
}

// Conversation is the timeline engine of a single chat. Actions may be called
// from any goroutine; they are executed on the conversation's loop. Len and
// At read the store directly and are only valid on the loop, which is where
// observer callbacks run.
type Conversation struct {
	opts   Options
	logger *zap.Logger

	loop    *ordering.Loop
	store   *timeline.Store
	pipe    *ingest.Pipeline
	sender  *outbox.Sender
	pager   *pager.Controller
	tracker *receipt.Tracker

	registry    *streaming.Registry
	interrupter *streaming.Interrupter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New builds a conversation engine. Call Start before using it.
func New(opts Options) *Conversation {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.Registry == nil {
		opts.Registry = streaming.NewRegistry()
	}
	if opts.Interrupter == nil {
		opts.Interrupter = streaming.NewInterrupter(streaming.InterrupterOptions{Bus: opts.Bus, Logger: opts.Logger})
	}
	logger := opts.Logger.With(zap.String("conversation", opts.ConversationID))

	c := &Conversation{
		opts:        opts,
		logger:      logger,
		loop:        ordering.New(0, logger),
		registry:    opts.Registry,
		interrupter: opts.Interrupter,
	}
	c.store = timeline.New(timeline.Options{
		MergeAdjacent: opts.MergeAdjacent,
		MergeWindow:   opts.MaxDateGap,
		Observer:      opts.Observer,
		Logger:        logger,
	})
	c.pipe = ingest.New(ingest.Options{
		ConversationID: opts.ConversationID,
		MaxDateGap:     opts.MaxDateGap,
		Converters:     opts.Converters,
		Exists:         c.store.Contains,
		Logger:         logger,
	})
	c.sender = outbox.NewSender(outbox.Options{
		ConversationID: opts.ConversationID,
		IsGroup:        opts.IsGroup,
		LocalUserID:    opts.LocalUserID,
		Store:          c.store,
		Pipeline:       c.pipe,
		Loop:           c.loop,
		Transport:      opts.Sender,
		Ledger:         opts.Ledger,
		Bus:            opts.Bus,
		BenignCodes:    opts.BenignCodes,
		NewID:          opts.NewID,
		Clock:          opts.Clock,
		Logger:         logger,
	})
	c.pager = pager.New(pager.Options{
		ConversationID: opts.ConversationID,
		PageSize:       opts.PageSize,
		History:        opts.History,
		Store:          c.store,
		Pipeline:       c.pipe,
		Loop:           c.loop,
		Heights:        opts.Heights,
		Scroll:         opts.Scroll,
		Logger:         logger,
	})
	c.tracker = receipt.New(receipt.Options{
		ConversationID: opts.ConversationID,
		LocalUserID:    opts.LocalUserID,
		Store:          c.store,
		Loop:           c.loop,
		Sender:         opts.Receipts,
		Bus:            opts.Bus,
		Debounce:       opts.ReadReceiptDebounce,
		Logger:         logger,
	})
	return c
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	return c.opts.ConversationID
}

// Start runs the loop and begins consuming transport events from the bus.
func (c *Conversation) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.loop.Start(c.ctx)
	if c.opts.Bus == nil {
		return
	}
	ch, unsub := c.opts.Bus.Subscribe(bus.NamespaceTransport, 256)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.route(evt)
			case <-c.ctx.Done():
				return
			}
		}
	}()
	c.logger.Info("conversation started")
}

// Close stops event consumption and the loop. In-flight transport results
// are discarded.
func (c *Conversation) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.sender.Stop()
	c.tracker.Stop()
	c.loop.Stop()
	c.logger.Info("conversation closed")
}

func (c *Conversation) do(ctx context.Context, fn func()) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.loop.Do(ctx, fn); err != nil {
		if errors.Is(err, ordering.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *Conversation) post(fn func()) {
	if c.closed.Load() || !c.loop.Post(fn) {
		c.logger.Debug("dropping task on closed conversation")
	}
}

// Len returns the number of entries. Loop only.
func (c *Conversation) Len() int {
	return c.store.Len()
}

// At returns the entry at index i. Loop only.
func (c *Conversation) At(i int) *entry.Entry {
	return c.store.At(i)
}

// Snapshot returns a copy of the current entries from any goroutine.
func (c *Conversation) Snapshot(ctx context.Context) ([]*entry.Entry, error) {
	var out []*entry.Entry
	err := c.do(ctx, func() { out = c.store.Snapshot() })
	return out, err
}

// SetHeightInvalidator installs the renderer's height-cache hook.
func (c *Conversation) SetHeightInvalidator(fn timeline.HeightInvalidator) {
	c.post(func() { c.store.SetHeightInvalidator(fn) })
}

// Ledger returns the upload-progress ledger.
func (c *Conversation) Ledger() *outbox.ProgressLedger {
	return c.sender.Ledger()
}

// Ingest appends live messages.
func (c *Conversation) Ingest(ctx context.Context, raws []*entry.RawMessage) error {
	return c.do(ctx, func() { c.ingestLive(raws) })
}

// Send queues e for delivery, taking the slot of placeholder when given.
func (c *Conversation) Send(ctx context.Context, e, placeholder *entry.Entry) error {
	var err error
	if derr := c.do(ctx, func() { err = c.sender.Send(e, placeholder) }); derr != nil {
		return derr
	}
	return err
}

// SendText composes and sends a text message.
func (c *Conversation) SendText(ctx context.Context, text string) (*entry.Entry, error) {
	e := &entry.Entry{
		Kind:      entry.KindText,
		Direction: entry.Outgoing,
		Status:    status.Initial,
		Text:      text,
		Source: &entry.RawMessage{
			Type:            entry.TypeText,
			Body:            text,
			NeedReadReceipt: true,
		},
	}
	if err := c.Send(ctx, e, nil); err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}
	return e, nil
}

// Resend retries a failed entry.
func (c *Conversation) Resend(ctx context.Context, e *entry.Entry) error {
	var err error
	if derr := c.do(ctx, func() { err = c.sender.Resend(e) }); derr != nil {
		return derr
	}
	return err
}

// Delete removes entries locally, collapsing separators left empty.
func (c *Conversation) Delete(ctx context.Context, entries ...*entry.Entry) error {
	return c.do(ctx, func() { c.delete(entries) })
}

// LoadOlder loads the previous history page. Must not be called from the loop.
func (c *Conversation) LoadOlder(ctx context.Context) (pager.Result, error) {
	if c.closed.Load() {
		return pager.Result{}, ErrClosed
	}
	res, err := c.pager.LoadOlder(ctx)
	if errors.Is(err, ordering.ErrStopped) {
		return res, ErrClosed
	}
	if err == nil && len(res.Entries) > 0 {
		c.post(func() { c.enrich(res.Entries) })
	}
	return res, err
}

// ApplyReceipts updates read state from peer receipts.
func (c *Conversation) ApplyReceipts(ctx context.Context, receipts []entry.Receipt) error {
	return c.do(ctx, func() { c.tracker.ApplyReceipts(receipts) })
}

// Acknowledge sends read receipts for the entries at indices and returns how
// many messages were submitted.
func (c *Conversation) Acknowledge(ctx context.Context, indices []int) (int, error) {
	var n int
	err := c.do(ctx, func() { n = c.tracker.Acknowledge(indices) })
	return n, err
}

// ReportVisible schedules read receipts for entries shown on screen.
func (c *Conversation) ReportVisible(ctx context.Context, indices []int) error {
	return c.do(ctx, func() {
		entries := make([]*entry.Entry, 0, len(indices))
		for _, i := range indices {
			if e := c.store.At(i); e != nil {
				entries = append(entries, e)
			}
		}
		c.tracker.ReportVisible(entries)
	})
}

// Revoke deletes a sent message for everyone and replaces it locally.
func (c *Conversation) Revoke(ctx context.Context, e *entry.Entry) error {
	if c.opts.Revoker == nil {
		return errors.New("revoke: transport does not support revocation")
	}
	var src *entry.RawMessage
	if err := c.do(ctx, func() {
		if c.store.IndexOfEntry(e) >= 0 && e.Status == status.Success {
			src = e.Source
		}
	}); err != nil {
		return err
	}
	if src == nil {
		return errors.New("revoke: entry is not a delivered message")
	}
	if err := c.opts.Revoker.Revoke(ctx, src); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	return c.do(ctx, func() {
		c.applyRevocation(entry.RevokeEvent{
			ConversationID: c.opts.ConversationID,
			ID:             src.ID,
			Operator:       c.opts.LocalUserID,
		})
	})
}

// Modify applies an edit to a stored message.
func (c *Conversation) Modify(ctx context.Context, msg *entry.RawMessage) error {
	return c.do(ctx, func() { c.modify(msg) })
}

// SetStreamingPlaceholder shows p as the conversation's streaming entry,
// replacing any previous one.
func (c *Conversation) SetStreamingPlaceholder(ctx context.Context, p *entry.Entry) error {
	return c.do(ctx, func() { c.setStreaming(p) })
}

// ClearStreamingPlaceholder removes the streaming entry, if any.
func (c *Conversation) ClearStreamingPlaceholder(ctx context.Context) error {
	return c.do(ctx, func() { c.clearStreaming() })
}

// Interrupt asks the peer to stop streaming and removes the placeholder.
// It reports whether the request reached the transport.
func (c *Conversation) Interrupt(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	sent, err := c.interrupter.Interrupt(ctx, c.opts.ConversationID)
	c.post(c.clearStreaming)
	return sent, err
}
