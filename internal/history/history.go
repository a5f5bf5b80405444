// Package history keeps the append-only execution record the display layer
// reads. It is deliberately in-memory: order history is presentation state,
// not engine state.
package history

import (
	"sync"

	"pairtrader/internal/trade"
)

// Log is an append-only record of completed legs.
type Log struct {
	mu      sync.RWMutex
	entries []trade.Result
}

// NewLog creates an empty execution record.
func NewLog() *Log {
	return &Log{}
}

// Append records one completed leg.
func (l *Log) Append(res trade.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, res)
}

// All returns a copy of the record, oldest first.
func (l *Log) All() []trade.Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]trade.Result, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent entry, if any.
func (l *Log) Last() (trade.Result, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return trade.Result{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of recorded legs.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
