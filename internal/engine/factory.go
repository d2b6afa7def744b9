package engine

import (
	"sync"

	"github.com/matheus3301/chatline/internal/pager"
	"github.com/matheus3301/chatline/internal/timeline"
)

// View is the renderer side of one open conversation.
type View struct {
	Observer timeline.Observer
	Heights  pager.HeightEstimator
	Scroll   pager.ScrollKeeper
}

// Factory opens conversation engines that share the process-wide services
// of a base Options value.
type Factory struct {
	base    Options
	localID func() string

	mu   sync.Mutex
	open map[string]*Conversation
}

// NewFactory creates a factory. localID is consulted on every Open so a
// session that authenticates later still gets its own id; it may be nil.
func NewFactory(base Options, localID func() string) *Factory {
	return &Factory{
		base:    base,
		localID: localID,
		open:    make(map[string]*Conversation),
	}
}

// Open builds the engine for a conversation. Any engine already open for the
// same id is closed first. The returned conversation is not started.
func (f *Factory) Open(conversationID string, isGroup bool, view View) *Conversation {
	opts := f.base
	opts.ConversationID = conversationID
	opts.IsGroup = isGroup
	opts.Observer = view.Observer
	opts.Heights = view.Heights
	opts.Scroll = view.Scroll
	if f.localID != nil {
		opts.LocalUserID = f.localID()
	}
	c := New(opts)

	f.mu.Lock()
	prev := f.open[conversationID]
	f.open[conversationID] = c
	f.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return c
}

// Get returns the open engine for a conversation.
func (f *Factory) Get(conversationID string) (*Conversation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.open[conversationID]
	return c, ok
}

// Close closes the engine for a conversation, if open.
func (f *Factory) Close(conversationID string) {
	f.mu.Lock()
	c := f.open[conversationID]
	delete(f.open, conversationID)
	f.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Detach forgets c without closing it. It reports false when c is not the
// open engine of its conversation.
func (f *Factory) Detach(c *Conversation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c == nil || f.open[c.ID()] != c {
		return false
	}
	delete(f.open, c.ID())
	return true
}

// CloseAll closes every open engine.
func (f *Factory) CloseAll() {
	f.mu.Lock()
	open := f.open
	f.open = make(map[string]*Conversation)
	f.mu.Unlock()
	for _, c := range open {
		c.Close()
	}
}

// Len returns the number of open engines.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}
