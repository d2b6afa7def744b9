package outbox

import "sync"

// ProgressLedger records upload progress (0-100) per message id. It is
// written from transport goroutines and read by the renderer.
type ProgressLedger struct {
	mu       sync.RWMutex
	progress map[string]int
}

// NewProgressLedger creates an empty ledger.
func NewProgressLedger() *ProgressLedger {
	return &ProgressLedger{progress: make(map[string]int)}
}

// Set records progress for id, clamped to 0..100.
func (l *ProgressLedger) Set(id string, percent int) {
	percent = min(max(percent, 0), 100)
	l.mu.Lock()
	l.progress[id] = percent
	l.mu.Unlock()
}

// Get returns the recorded progress for id.
func (l *ProgressLedger) Get(id string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.progress[id]
	return p, ok
}

// Delete forgets id.
func (l *ProgressLedger) Delete(id string) {
	l.mu.Lock()
	delete(l.progress, id)
	l.mu.Unlock()
}

// Len returns the number of sends with recorded progress.
func (l *ProgressLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.progress)
}
