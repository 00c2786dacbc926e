package triage

import (
	"sync"

	"github.com/sriyan983/slack-triage/internal/core"
)

// executionLocks serializes operations per execution ID so a resume and
// a scheduler pass over the same execution never interleave. Entries are
// reference counted and removed when idle to keep the map bounded.
type executionLocks struct {
	mu    sync.Mutex
	locks map[core.ExecutionID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newExecutionLocks() *executionLocks {
	return &executionLocks{
		locks: make(map[core.ExecutionID]*lockEntry),
	}
}

// Lock acquires the mutex for an execution ID and returns its unlock func.
func (l *executionLocks) Lock(id core.ExecutionID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
