package distribution

import (
	"slices"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Ring places hashed keys on peers Chord-style: a key belongs to the first
// peer point at or after its hash, wrapping around. Each peer owns several
// virtual points to even out the ranges.
type Ring struct {
	points []ringPoint
}

type ringPoint struct {
	hash uint64
	peer PeerID
}

// NewRing builds a ring over peers with vnodes points each
func NewRing(peers []PeerID, vnodes int, seed uint64) *Ring {
	if vnodes < 1 {
		vnodes = 1
	}
	r := &Ring{points: make([]ringPoint, 0, len(peers)*vnodes)}
	for _, peer := range peers {
		for i := 0; i < vnodes; i++ {
			h := xxh3.HashStringSeed(string(peer)+"#"+strconv.Itoa(i), seed)
			r.points = append(r.points, ringPoint{hash: h, peer: peer})
		}
	}
	slices.SortFunc(r.points, func(a, b ringPoint) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		}
		// Equal hashes are vanishingly rare; order by peer for determinism.
		switch {
		case a.peer < b.peer:
			return -1
		case a.peer > b.peer:
			return 1
		}
		return 0
	})
	return r
}

// Successor returns the peer owning hash h
func (r *Ring) Successor(h uint64) PeerID {
	if len(r.points) == 0 {
		return ""
	}
	i, _ := slices.BinarySearchFunc(r.points, h, func(p ringPoint, h uint64) int {
		switch {
		case p.hash < h:
			return -1
		case p.hash > h:
			return 1
		}
		return 0
	})
	if i == len(r.points) {
		i = 0
	}
	return r.points[i].peer
}

// Len returns the number of points on the ring
func (r *Ring) Len() int {
	return len(r.points)
}
