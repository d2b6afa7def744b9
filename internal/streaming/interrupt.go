package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/zap"
)

// DefaultInterruptInterval is the minimum spacing between two interrupts
// that reach the transport for the same conversation.
const DefaultInterruptInterval = time.Second

// Change is the payload of timeline.streaming_changed events.
type Change struct {
	ConversationID string
	Streaming      bool
}

// limiter admits one event per interval.
type limiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
}

func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.last[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[key] = now
	return true
}

// InterrupterOptions configures an Interrupter.
type InterrupterOptions struct {
	Transport transport.Interrupter
	Bus       *bus.Bus
	Interval  time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Interrupter owns the "peer is streaming" flag of every conversation and
// forwards rate-limited interrupt requests to the transport.
type Interrupter struct {
	transport transport.Interrupter
	bus       *bus.Bus
	clock     func() time.Time
	logger    *zap.Logger
	limiter   *limiter

	mu        sync.Mutex
	streaming map[string]bool
}

// NewInterrupter creates an interrupter.
func NewInterrupter(opts InterrupterOptions) *Interrupter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterruptInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Interrupter{
		transport: opts.Transport,
		bus:       opts.Bus,
		clock:     opts.Clock,
		logger:    opts.Logger,
		limiter:   &limiter{last: make(map[string]time.Time), interval: opts.Interval},
		streaming: make(map[string]bool),
	}
}

// SetStreaming updates the flag and publishes a change when it flips.
func (i *Interrupter) SetStreaming(conversationID string, on bool) {
	i.mu.Lock()
	changed := i.streaming[conversationID] != on
	if on {
		i.streaming[conversationID] = true
	} else {
		delete(i.streaming, conversationID)
	}
	i.mu.Unlock()
	if changed {
		i.bus.Publish(bus.NewEvent(bus.TimelineStreamingChanged, Change{ConversationID: conversationID, Streaming: on}))
	}
}

// Streaming reports whether the peer is currently streaming.
func (i *Interrupter) Streaming(conversationID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.streaming[conversationID]
}

// Interrupt asks the peer to stop streaming. Calls within the interval of the
// previous admitted call are not forwarded. The streaming flag is cleared
// and a change is published on every call, whatever the transport returns.
func (i *Interrupter) Interrupt(ctx context.Context, conversationID string) (sent bool, err error) {
	if i.limiter.allow(conversationID, i.clock()) && i.transport != nil {
		sent = true
		if err = i.transport.Interrupt(ctx, conversationID); err != nil {
			i.logger.Warn("interrupt failed",
				zap.String("conversation", conversationID),
				zap.Error(err),
			)
		}
	}

	i.mu.Lock()
	delete(i.streaming, conversationID)
	i.mu.Unlock()
	i.bus.Publish(bus.NewEvent(bus.TimelineStreamingChanged, Change{ConversationID: conversationID}))
	return sent, err
}
