// Package distribution partitions triples across a peer set and resolves
// triple patterns back to the peers that must be asked.
package distribution

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

var (
	ErrNoPeers         = errors.New("distribution: no peers configured")
	ErrDuplicatePeer   = errors.New("distribution: duplicate peer")
	ErrUnknownKind     = errors.New("distribution: unknown strategy kind")
	ErrBadSelector     = errors.New("distribution: invalid key selector")
	ErrBadDimensions   = errors.New("distribution: grid dimensions do not match peer count")
	ErrPeerUnreachable = errors.New("distribution: peer unreachable")
)

// DefaultVirtualNodes is the number of ring points per peer
const DefaultVirtualNodes = 64

// PeerID identifies a peer
type PeerID string

// Key is a distribution key: the components picked from a triple by one
// selector
type Key struct {
	Selector   Selector
	Components []triple.ID
}

func (k Key) String() string {
	parts := make([]string, len(k.Components))
	for i, id := range k.Components {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return k.Selector.String() + "(" + strings.Join(parts, ",") + ")"
}

func (k Key) hash(seed uint64) uint64 {
	buf := make([]byte, 1, 1+8*len(k.Components))
	buf[0] = byte(k.Selector)
	for _, id := range k.Components {
		buf = binary.BigEndian.AppendUint64(buf, uint64(id))
	}
	return xxh3.HashSeed(buf, seed)
}

// Option configures a Strategy
type Option func(*Strategy)

// WithSelectors replaces the kind's default key selectors
func WithSelectors(sel ...Selector) Option {
	return func(s *Strategy) { s.selectors = sel }
}

// WithSeed changes the hash seed. Strategies only agree on placement when
// they share kind, selectors, peers and seed.
func WithSeed(seed uint64) Option {
	return func(s *Strategy) { s.seed = seed }
}

// WithVirtualNodes sets the ring points per peer
func WithVirtualNodes(n int) Option {
	return func(s *Strategy) { s.vnodes = n }
}

// WithDimensions sets the grid shape of a hierarchical strategy. The
// product must equal the number of peers.
func WithDimensions(subjects, predicates, objects int) Option {
	return func(s *Strategy) { s.dims = [3]int{subjects, predicates, objects} }
}

// Strategy is one tagged distribution strategy. Keyed kinds hash each key
// onto a ring; the hierarchical kind hashes S, P and O independently onto
// the axes of a peer grid. A Strategy is immutable and safe for concurrent
// use.
type Strategy struct {
	kind      Kind
	selectors []Selector
	peers     []PeerID
	seed      uint64
	vnodes    int
	ring      *Ring
	dims      [3]int
}

// New creates a strategy over peers. Peer order matters for the
// hierarchical grid.
func New(kind Kind, peers []PeerID, opts ...Option) (*Strategy, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	seen := make(map[PeerID]bool, len(peers))
	for _, p := range peers {
		if p == "" || seen[p] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePeer, p)
		}
		seen[p] = true
	}

	s := &Strategy{
		kind:      kind,
		peers:     slices.Clone(peers),
		vnodes:    DefaultVirtualNodes,
		selectors: defaultSelectors(kind),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch kind {
	case OneKey, TwoKeys, OneToThreeKeys:
		if len(s.selectors) == 0 {
			return nil, fmt.Errorf("%w: none configured", ErrBadSelector)
		}
		for _, sel := range s.selectors {
			if !sel.Valid() {
				return nil, fmt.Errorf("%w: %d", ErrBadSelector, sel)
			}
		}
		s.ring = NewRing(s.peers, s.vnodes, s.seed)
	case Hierarchical:
		if s.dims == [3]int{} {
			s.dims = gridDimensions(len(s.peers))
		}
		if s.dims[0] < 1 || s.dims[1] < 1 || s.dims[2] < 1 ||
			s.dims[0]*s.dims[1]*s.dims[2] != len(s.peers) {
			return nil, fmt.Errorf("%w: %v for %d peers", ErrBadDimensions, s.dims, len(s.peers))
		}
		s.selectors = []Selector{SPO}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return s, nil
}

// gridDimensions splits n into three factors as evenly as possible
func gridDimensions(n int) [3]int {
	var primes []int
	for f := 2; f*f <= n; f++ {
		for n%f == 0 {
			primes = append(primes, f)
			n /= f
		}
	}
	if n > 1 {
		primes = append(primes, n)
	}
	dims := [3]int{1, 1, 1}
	for i := len(primes) - 1; i >= 0; i-- {
		small := 0
		for d := 1; d < 3; d++ {
			if dims[d] < dims[small] {
				small = d
			}
		}
		dims[small] *= primes[i]
	}
	return dims
}

func (s *Strategy) Kind() Kind { return s.kind }

// Peers returns the configured peers
func (s *Strategy) Peers() []PeerID { return slices.Clone(s.peers) }

// Selectors returns the key selectors in preference order
func (s *Strategy) Selectors() []Selector { return slices.Clone(s.selectors) }

// Dimensions returns the grid shape of a hierarchical strategy
func (s *Strategy) Dimensions() [3]int { return s.dims }

// ComputeKeys returns the distribution keys of a triple, one per selector.
// The result depends only on the triple and the strategy configuration.
func (s *Strategy) ComputeKeys(t triple.Triple) []Key {
	keys := make([]Key, len(s.selectors))
	for i, sel := range s.selectors {
		k := Key{Selector: sel, Components: make([]triple.ID, 0, sel.Arity())}
		for _, pos := range sel.Positions() {
			k.Components = append(k.Components, t.At(pos))
		}
		keys[i] = k
	}
	return keys
}

// PeerFor returns the peer responsible for a key
func (s *Strategy) PeerFor(k Key) PeerID {
	if s.kind == Hierarchical {
		var cell [3]int
		for i, pos := range k.Selector.Positions() {
			cell[pos] = s.axis(pos, k.Components[i])
		}
		return s.peers[s.cellIndex(cell)]
	}
	return s.ring.Successor(k.hash(s.seed))
}

// Place returns the distinct peers storing a triple, sorted
func (s *Strategy) Place(t triple.Triple) []PeerID {
	keys := s.ComputeKeys(t)
	out := make([]PeerID, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.PeerFor(k))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// KeyFor returns the key used to route a pattern: the selector covering
// the most bound positions, earlier selectors winning ties. ok is false
// when no selector is fully bound.
func (s *Strategy) KeyFor(p triple.Pattern) (Key, bool) {
	var (
		best  Selector
		found bool
	)
	for _, sel := range s.selectors {
		if sel.Covers(p) && (!found || sel.Arity() > best.Arity()) {
			best = sel
			found = true
		}
	}
	if !found {
		return Key{}, false
	}
	k := Key{Selector: best}
	for _, pos := range best.Positions() {
		k.Components = append(k.Components, p.At(pos).Value)
	}
	return k, true
}

// PeersFor returns the sorted set of peers that can hold triples matching
// the pattern. Keyed strategies narrow to one peer when a selector is fully
// bound and fan out to every peer otherwise. The hierarchical strategy
// fixes the grid coordinate of each bound position and spans the axis of
// each unbound one.
//
// The result always contains a replica of every matching triple. Unbinding
// a position only widens the result for the hierarchical strategy and for
// keyed strategies whose chosen selector stays covered. With several
// selectors, such as the OneKey default of S, P and O, unbinding the
// selected position moves the pattern to another selector and so to
// another single peer, which need not be in the narrower result.
func (s *Strategy) PeersFor(p triple.Pattern) []PeerID {
	if s.kind != Hierarchical {
		if k, ok := s.KeyFor(p); ok {
			return []PeerID{s.PeerFor(k)}
		}
		out := slices.Clone(s.peers)
		slices.Sort(out)
		return out
	}

	var ranges [3][]int
	for _, pos := range triple.Positions {
		if p.IsBound(pos) {
			ranges[pos] = []int{s.axis(pos, p.At(pos).Value)}
			continue
		}
		for i := 0; i < s.dims[pos]; i++ {
			ranges[pos] = append(ranges[pos], i)
		}
	}
	out := make([]PeerID, 0, len(ranges[0])*len(ranges[1])*len(ranges[2]))
	for _, i := range ranges[0] {
		for _, j := range ranges[1] {
			for _, k := range ranges[2] {
				out = append(out, s.peers[s.cellIndex([3]int{i, j, k})])
			}
		}
	}
	slices.Sort(out)
	return out
}

func (s *Strategy) axis(pos triple.Position, id triple.ID) int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return int(xxh3.HashSeed(buf[:], s.seed+uint64(pos)) % uint64(s.dims[pos]))
}

func (s *Strategy) cellIndex(cell [3]int) int {
	return (cell[0]*s.dims[1]+cell[1])*s.dims[2] + cell[2]
}
