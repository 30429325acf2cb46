package distribution

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

func peerSet(n int) []PeerID {
	peers := make([]PeerID, n)
	for i := range peers {
		peers[i] = PeerID(fmt.Sprintf("peer-%02d", i))
	}
	return peers
}

func randomTriples(n int) []triple.Triple {
	r := rand.New(rand.NewSource(7))
	out := make([]triple.Triple, n)
	for i := range out {
		out[i] = triple.New(
			triple.ID(r.Intn(1000)+1),
			triple.ID(r.Intn(20)+1),
			triple.ID(r.Intn(1000)+1),
		)
	}
	return out
}

func bound(t triple.Triple) triple.Pattern {
	return triple.NewPattern(triple.Bound(t.IDs[0]), triple.Bound(t.IDs[1]), triple.Bound(t.IDs[2]))
}

func allKinds(t *testing.T, peers []PeerID) []*Strategy {
	t.Helper()
	var out []*Strategy
	for _, k := range []Kind{OneKey, TwoKeys, OneToThreeKeys, Hierarchical} {
		s, err := New(k, peers)
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func TestComputeKeysDeterministic(t *testing.T) {
	peers := peerSet(6)
	a := allKinds(t, peers)
	b := allKinds(t, peers)

	for _, tr := range randomTriples(200) {
		for i := range a {
			require.Equal(t, a[i].ComputeKeys(tr), a[i].ComputeKeys(tr))
			require.Equal(t, a[i].ComputeKeys(tr), b[i].ComputeKeys(tr))
			require.Equal(t, a[i].Place(tr), b[i].Place(tr))
		}
	}
}

func TestComputeKeysArity(t *testing.T) {
	tr := triple.New(1, 2, 3)
	peers := peerSet(4)

	cases := map[Kind][]string{
		OneKey:         {"S(1)", "P(2)", "O(3)"},
		TwoKeys:        {"SP(1,2)", "SO(1,3)", "PO(2,3)"},
		OneToThreeKeys: {"S(1)", "P(2)", "O(3)", "SP(1,2)", "SO(1,3)", "PO(2,3)", "SPO(1,2,3)"},
		Hierarchical:   {"SPO(1,2,3)"},
	}
	for kind, want := range cases {
		s, err := New(kind, peers)
		require.NoError(t, err)
		var got []string
		for _, k := range s.ComputeKeys(tr) {
			got = append(got, k.String())
		}
		require.Equal(t, want, got, kind.String())
	}
}

func TestSeedChangesPlacement(t *testing.T) {
	peers := peerSet(16)
	a, err := New(OneKey, peers)
	require.NoError(t, err)
	b, err := New(OneKey, peers, WithSeed(99))
	require.NoError(t, err)

	differ := false
	for _, tr := range randomTriples(100) {
		if fmt.Sprint(a.Place(tr)) != fmt.Sprint(b.Place(tr)) {
			differ = true
			break
		}
	}
	require.True(t, differ)
}

func TestPeersForFindsStoredTriple(t *testing.T) {
	peers := peerSet(8)
	for _, s := range allKinds(t, peers) {
		for _, tr := range randomTriples(100) {
			stored := map[PeerID]bool{}
			for _, p := range s.Place(tr) {
				stored[p] = true
			}
			// Every combination of bound positions must reach a holder.
			for mask := 0; mask < 8; mask++ {
				p := bound(tr)
				for _, pos := range triple.Positions {
					if mask&(1<<pos) == 0 {
						p = p.Unbind(pos, pos.String())
					}
				}
				hit := false
				for _, peer := range s.PeersFor(p) {
					hit = hit || stored[peer]
				}
				require.True(t, hit, "%s %v %s", s.Kind(), tr, p)
			}
		}
	}
}

func TestPeersForSubsetWhenUnbinding(t *testing.T) {
	peers := peerSet(12)
	hier, err := New(Hierarchical, peers)
	require.NoError(t, err)
	require.Equal(t, [3]int{3, 2, 2}, hier.Dimensions())

	single, err := New(OneKey, peers, WithSelectors(S))
	require.NoError(t, err)

	for _, s := range []*Strategy{hier, single} {
		for _, tr := range randomTriples(100) {
			full := s.PeersFor(bound(tr))
			for _, pos := range triple.Positions {
				wider := s.PeersFor(bound(tr).Unbind(pos, "x"))
				require.Subset(t, wider, full, "%s unbinding %s", s.Kind(), pos)
			}
		}
	}
}

func TestPeersForDefaultSelectorsSwitchKey(t *testing.T) {
	s, err := New(OneKey, peerSet(12))
	require.NoError(t, err)

	moved := 0
	for _, tr := range randomTriples(100) {
		full := s.PeersFor(bound(tr))
		require.Len(t, full, 1)
		k, ok := s.KeyFor(bound(tr))
		require.True(t, ok)
		require.Equal(t, S, k.Selector)

		wider := bound(tr).Unbind(triple.Subject, "x")
		k, ok = s.KeyFor(wider)
		require.True(t, ok)
		require.Equal(t, P, k.Selector)

		// Still one peer, and it holds a replica of the triple.
		peers := s.PeersFor(wider)
		require.Len(t, peers, 1)
		require.Contains(t, s.Place(tr), peers[0])
		if peers[0] != full[0] {
			moved++
		}
	}
	// The subject and predicate keys land on different peers for most
	// triples, so the wider result is usually not a superset.
	require.Positive(t, moved)
}

func TestPeersForFanOut(t *testing.T) {
	peers := peerSet(5)
	s, err := New(TwoKeys, peers)
	require.NoError(t, err)

	// Only S is bound: no pair selector is covered.
	p := triple.NewPattern(triple.Bound(1), triple.Var("p"), triple.Var("o"))
	require.Len(t, s.PeersFor(p), 5)

	p = triple.NewPattern(triple.Bound(1), triple.Var("p"), triple.Bound(3))
	k, ok := s.KeyFor(p)
	require.True(t, ok)
	require.Equal(t, SO, k.Selector)
	require.Len(t, s.PeersFor(p), 1)
}

func TestHierarchicalGridSpan(t *testing.T) {
	s, err := New(Hierarchical, peerSet(8), WithDimensions(2, 2, 2))
	require.NoError(t, err)

	p := triple.NewPattern(triple.Bound(5), triple.Var("p"), triple.Var("o"))
	require.Len(t, s.PeersFor(p), 4)
	require.Len(t, s.PeersFor(triple.NewPattern(triple.Var("s"), triple.Var("p"), triple.Var("o"))), 8)
	require.Len(t, s.PeersFor(bound(triple.New(1, 2, 3))), 1)
}

func TestNewValidates(t *testing.T) {
	_, err := New(OneKey, nil)
	require.ErrorIs(t, err, ErrNoPeers)

	_, err = New(OneKey, []PeerID{"a", "a"})
	require.ErrorIs(t, err, ErrDuplicatePeer)

	_, err = New(Kind(42), peerSet(2))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(Hierarchical, peerSet(6), WithDimensions(2, 2, 2))
	require.ErrorIs(t, err, ErrBadDimensions)

	_, err = New(TwoKeys, peerSet(2), WithSelectors(Selector(8)))
	require.ErrorIs(t, err, ErrBadSelector)
}

func TestParseSelectorAndKind(t *testing.T) {
	sel, err := ParseSelector("po")
	require.NoError(t, err)
	require.Equal(t, PO, sel)
	require.Equal(t, "PO", sel.String())

	_, err = ParseSelector("ss")
	require.ErrorIs(t, err, ErrBadSelector)
	_, err = ParseSelector("x")
	require.ErrorIs(t, err, ErrBadSelector)

	k, err := ParseKind("one_to_three_keys")
	require.NoError(t, err)
	require.Equal(t, OneToThreeKeys, k)
	_, err = ParseKind("ring")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestRingSuccessorWraps(t *testing.T) {
	r := NewRing([]PeerID{"a", "b", "c"}, 4, 0)
	require.Equal(t, 12, r.Len())

	last := r.points[len(r.points)-1]
	require.Equal(t, r.points[0].peer, r.Successor(last.hash+1))
	require.Equal(t, last.peer, r.Successor(last.hash))
	require.Equal(t, r.points[0].peer, r.Successor(0))
}
