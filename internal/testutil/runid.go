package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs hands out run ids "run-0001", "run-0002", ...
//
// Finalize and rebuild stamp a run id on every ledger entry. Production code
// uses UUIDv7 ids; tests use this generator so stored state is reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialRunIDs struct {
	mu  sync.Mutex
	seq int
}

// NewSequentialRunIDs creates a generator whose first id is "run-0001".
func NewSequentialRunIDs() *SequentialRunIDs {
	return &SequentialRunIDs{}
}

// NewRunID returns the next id.
func (g *SequentialRunIDs) NewRunID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("run-%04d", g.seq)
}

// Reset restarts the sequence at "run-0001".
func (g *SequentialRunIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
