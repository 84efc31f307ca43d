// Package logbuf is the append-only record of the current run's log lines.
package logbuf

import (
	"sync"

	"go.uber.org/zap"
)

// Aggregator holds the ordered log lines of one run. One writer, many
// readers; lines are never rewritten, only dropped wholesale by Reset.
type Aggregator struct {
	mu     sync.RWMutex
	lines  []string
	resets int
	logger *zap.Logger
}

// New returns an empty Aggregator. Appended lines are mirrored to logger
// at debug level when it is non-nil.
func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// Reset clears all lines.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.lines = nil
	a.resets++
	a.mu.Unlock()
}

// Append adds line to the end.
func (a *Aggregator) Append(line string) {
	a.mu.Lock()
	a.lines = append(a.lines, line)
	a.mu.Unlock()
	a.logger.Debug("pipeline log", zap.String("line", line))
}

// Snapshot returns a copy of every line in order.
func (a *Aggregator) Snapshot() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.lines...)
}

// Len returns the number of lines.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.lines)
}

// Cursor identifies a position in the log across resets.
type Cursor struct {
	Generation int `json:"generation"`
	Offset     int `json:"offset"`
}

// Since returns the lines appended after c and the cursor to resume from.
// A cursor from an earlier generation yields the whole current log and
// reset=true so followers know to clear what they already showed.
func (a *Aggregator) Since(c Cursor) (lines []string, next Cursor, reset bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	next = Cursor{Generation: a.resets, Offset: len(a.lines)}
	if c.Generation != a.resets || c.Offset > len(a.lines) {
		return append([]string(nil), a.lines...), next, true
	}
	return append([]string(nil), a.lines[c.Offset:]...), next, false
}
