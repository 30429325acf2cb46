package build

import "sync"

// barrier opens once every registered party has arrived. Parties can only
// be added while nobody has arrived yet.
type barrier struct {
	mu      sync.Mutex
	parties int
	arrived int
	done    chan struct{}
}

func newBarrier() *barrier {
	return &barrier{done: make(chan struct{})}
}

// add registers one more party
func (b *barrier) add() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arrived > 0 {
		return false
	}
	b.parties++
	return true
}

// arrive records one arrival and reports whether it opened the barrier
func (b *barrier) arrive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arrived >= b.parties {
		return false
	}
	b.arrived++
	if b.arrived == b.parties {
		close(b.done)
		return true
	}
	return false
}

func (b *barrier) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// Done is closed when the barrier opens
func (b *barrier) Done() <-chan struct{} {
	return b.done
}
