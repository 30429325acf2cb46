package distribution

import (
	"context"
	"fmt"
	"sync"

	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

// LocalCluster simulates a peer set in one process: every peer keeps its
// share of the triples in memory containers. It implements Fetcher and
// HistogramRequester.
type LocalCluster struct {
	strategy   *Strategy
	collations []index.Collation

	mu    sync.RWMutex
	peers map[PeerID]map[index.Collation]*index.Memory
	down  map[PeerID]bool
}

var _ Fetcher = (*LocalCluster)(nil)
var _ HistogramRequester = (*LocalCluster)(nil)

// NewLocalCluster creates empty peers for every peer of the strategy
func NewLocalCluster(s *Strategy, collations []index.Collation) *LocalCluster {
	if len(collations) == 0 {
		collations = index.DefaultCollations
	}
	c := &LocalCluster{
		strategy:   s,
		collations: collations,
		peers:      make(map[PeerID]map[index.Collation]*index.Memory),
		down:       make(map[PeerID]bool),
	}
	for _, p := range s.peers {
		containers := make(map[index.Collation]*index.Memory, len(collations))
		for _, order := range collations {
			containers[order] = index.NewMemory(order)
		}
		c.peers[p] = containers
	}
	return c
}

// Add stores a triple on every peer the strategy places it on
func (c *LocalCluster) Add(t triple.Triple) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, peer := range c.strategy.Place(t) {
		for order, m := range c.peers[peer] {
			if err := m.Put(order.Permute(t.IDs), nil); err != nil {
				return fmt.Errorf("peer %s: %w", peer, err)
			}
		}
	}
	return nil
}

// Size returns the number of triples stored on peer
func (c *LocalCluster) Size(peer PeerID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	containers, ok := c.peers[peer]
	if !ok {
		return 0
	}
	return containers[c.collations[0]].Size()
}

// SetDown makes a peer fail every request until it is brought back up
func (c *LocalCluster) SetDown(peer PeerID, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[peer] = down
}

// scan calls fn for every triple on peer that matches p. The read lock is
// held for the whole scan since memory containers are not synchronized.
func (c *LocalCluster) scan(ctx context.Context, peer PeerID, p triple.Pattern, fn func(triple.Triple)) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.down[peer] {
		return fmt.Errorf("%w: %s is down", ErrPeerUnreachable, peer)
	}
	containers, ok := c.peers[peer]
	if !ok {
		return fmt.Errorf("%w: unknown peer %s", ErrPeerUnreachable, peer)
	}
	order, prefix := index.Select(p, c.collations)
	m := containers[order]
	it, err := m.Scan(prefix)
	if err != nil {
		return err
	}
	defer it.Close()

	for n := 0; it.Next(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ids := order.Restore(it.Key())
		t := triple.New(ids[0], ids[1], ids[2])
		if p.Matches(t) {
			fn(t)
		}
	}
	return it.Err()
}

func (c *LocalCluster) Fetch(ctx context.Context, peer PeerID, p triple.Pattern) ([]triple.Triple, error) {
	var out []triple.Triple
	err := c.scan(ctx, peer, p, func(t triple.Triple) {
		out = append(out, t)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RequestHistogram counts the triples on peer matching p
func (c *LocalCluster) RequestHistogram(ctx context.Context, peer PeerID, p triple.Pattern) (uint64, error) {
	var n uint64
	err := c.scan(ctx, peer, p, func(triple.Triple) { n++ })
	if err != nil {
		return 0, err
	}
	return n, nil
}
