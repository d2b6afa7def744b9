// Package streaming tracks the transient "peer is typing" placeholder of
// each conversation and the interrupt action that cancels a stream.
package streaming

import (
	"sync"

	"github.com/matheus3301/chatline/internal/entry"
)

// Registry holds at most one streaming placeholder per conversation.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry.Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry.Entry)}
}

// Set registers p for the conversation and returns the placeholder it
// replaced, if any.
func (r *Registry) Set(conversationID string, p *entry.Entry) *entry.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[conversationID]
	r.entries[conversationID] = p
	return prev
}

// Get returns the registered placeholder for the conversation.
func (r *Registry) Get(conversationID string) (*entry.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[conversationID]
	return p, ok
}

// Remove unregisters and returns the conversation's placeholder.
func (r *Registry) Remove(conversationID string) *entry.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.entries[conversationID]
	delete(r.entries, conversationID)
	return p
}

// Len returns the number of conversations with a placeholder.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
