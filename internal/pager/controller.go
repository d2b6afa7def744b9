// Package pager loads older history pages into a timeline.
package pager

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatline/internal/entry"
	"github.com/matheus3301/chatline/internal/ingest"
	"github.com/matheus3301/chatline/internal/ordering"
	"github.com/matheus3301/chatline/internal/timeline"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of raw messages requested per page.
const DefaultPageSize = 20

// HeightEstimator returns the rendered height of an entry.
type HeightEstimator func(e *entry.Entry) float64

// ScrollKeeper adjusts the renderer's content offset so the visible content
// does not jump when entries are inserted above it.
type ScrollKeeper interface {
	AdjustOffset(delta float64)
}

// Result describes one LoadOlder call.
type Result struct {
	// Ignored is set when the call was skipped because a load was in flight
	// or history is exhausted.
	Ignored   bool
	FirstLoad bool
	Exhausted bool
	Entries   []*entry.Entry
}

// Options configures a Controller.
type Options struct {
	ConversationID string
	PageSize       int
	History        transport.History
	Store          *timeline.Store
	Pipeline       *ingest.Pipeline
	Loop           *ordering.Loop
	Heights        HeightEstimator
	Scroll         ScrollKeeper
	Logger         *zap.Logger
}

// Controller drives backward pagination. Its state is owned by the loop.
type Controller struct {
	opts      Options
	logger    *zap.Logger
	loading   bool
	loaded    bool
	exhausted bool
	cursor    *entry.RawMessage
}

// New creates a pagination controller.
func New(opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		opts:   opts,
		logger: opts.Logger.With(zap.String("conversation", opts.ConversationID)),
	}
}

// LoadOlder fetches the page before the cursor and inserts it at the head.
// It must not be called from the loop itself; the fetch runs on the caller's
// goroutine and the result is applied on the loop. Once the fetch has
// returned, its page is applied and reported even if ctx is cancelled.
func (c *Controller) LoadOlder(ctx context.Context) (Result, error) {
	var (
		start    bool
		canceled bool
		first    bool
		cursor   *entry.RawMessage
		res      Result
	)
	err := c.opts.Loop.Do(ctx, func() {
		if ctx.Err() != nil {
			canceled = true
			return
		}
		if c.loading || c.exhausted {
			res = Result{Ignored: true, Exhausted: c.exhausted}
			return
		}
		c.loading, start = true, true
		first, cursor = !c.loaded, c.cursor
	})
	if err != nil {
		// The guard may still run, or have run, after Do gave up waiting.
		c.opts.Loop.Post(func() {
			if start {
				c.loading = false
			}
		})
		return Result{}, err
	}
	if canceled {
		return Result{}, ctx.Err()
	}
	if !start {
		c.logger.Debug("load older ignored", zap.Bool("exhausted", res.Exhausted))
		return res, nil
	}

	raws, fetchErr := c.opts.History.FetchHistory(ctx, c.opts.ConversationID, cursor, c.opts.PageSize)

	var applyErr error
	if err := c.opts.Loop.Do(context.Background(), func() {
		res, applyErr = c.apply(raws, fetchErr, first)
	}); err != nil {
		return Result{}, err
	}
	return res, applyErr
}

// Exhausted reports whether the start of history was reached. Must run on
// the loop.
func (c *Controller) Exhausted() bool {
	return c.exhausted
}

// Cursor returns the oldest loaded message, nil before the first load and
// after exhaustion. Must run on the loop.
func (c *Controller) Cursor() *entry.RawMessage {
	return c.cursor
}

func (c *Controller) apply(raws []*entry.RawMessage, fetchErr error, first bool) (Result, error) {
	c.loading = false
	if fetchErr != nil {
		c.logger.Warn("history fetch failed", zap.Error(fetchErr))
		return Result{FirstLoad: first}, fmt.Errorf("load older: %w", fetchErr)
	}

	c.loaded = true
	c.cursor = oldest(raws, c.cursor)
	if len(raws) < c.opts.PageSize {
		c.exhausted = true
		c.cursor = nil
	}

	entries := c.opts.Pipeline.Ingest(raws, ingest.History)
	res := Result{FirstLoad: first, Exhausted: c.exhausted}
	if len(entries) == 0 {
		return res, nil
	}

	st := c.opts.Store
	st.Batch(func(tx *timeline.Tx) {
		n := tx.InsertAt(0, entries...)
		res.Entries = make([]*entry.Entry, 0, n)
		var height float64
		for i := 0; i < n; i++ {
			e := st.At(i)
			res.Entries = append(res.Entries, e)
			if c.opts.Heights != nil {
				height += c.opts.Heights(e)
			}
		}
		if c.opts.Scroll != nil && height > 0 {
			c.opts.Scroll.AdjustOffset(height)
		}
	})

	c.logger.Info("history page loaded",
		zap.Int("raw", len(raws)),
		zap.Int("entries", len(res.Entries)),
		zap.Bool("exhausted", c.exhausted))
	return res, nil
}

func oldest(raws []*entry.RawMessage, current *entry.RawMessage) *entry.RawMessage {
	out := current
	for _, m := range raws {
		if m == nil {
			continue
		}
		if out == nil || m.Timestamp.Before(out.Timestamp) {
			out = m
		}
	}
	return out
}
