package trie

import (
	"encoding/binary"

	"github.com/dgraph-io/ristretto/v2/z"
)

// slotSize is the width of one child reference in the arena
const slotSize = 4

// arena stores child slots for paged nodes. Slots hold uint32 node ids; id 0
// is reserved so a zeroed slot reads as "no child". The buffer is append
// only: growing a node allocates a fresh region, shrinking shifts in place.
type arena struct {
	buf   *z.Buffer
	nodes []*Node
}

func newArena() *arena {
	return &arena{
		buf:   z.NewBuffer(64<<10, "tristore.trie"),
		nodes: []*Node{nil},
	}
}

func (a *arena) register(n *Node) {
	n.arena = a
	n.id = uint32(len(a.nodes))
	a.nodes = append(a.nodes, n)
}

// forget drops the arena's reference to a node removed from the trie
func (a *arena) forget(n *Node) {
	if n.id != 0 && int(n.id) < len(a.nodes) {
		a.nodes[n.id] = nil
	}
}

func (a *arena) alloc(count int) int {
	off := a.buf.AllocateOffset(count * slotSize)
	region := a.buf.Data(off)[:count*slotSize]
	for i := range region {
		region[i] = 0
	}
	return off
}

func (a *arena) load(off, i int) *Node {
	region := a.buf.Data(off)
	id := binary.LittleEndian.Uint32(region[i*slotSize:])
	return a.nodes[id]
}

func (a *arena) store(off, i int, n *Node) {
	var id uint32
	if n != nil {
		id = n.id
	}
	region := a.buf.Data(off)
	binary.LittleEndian.PutUint32(region[i*slotSize:], id)
}

func (a *arena) release() {
	if a.buf != nil {
		_ = a.buf.Release()
		a.buf = nil
	}
	a.nodes = nil
}

// pagedSlots is the arena-backed variant of a node's child array
type pagedSlots struct {
	arena *arena
	off   int
	n     int
}

func (s *pagedSlots) Len() int { return s.n }

func (s *pagedSlots) Child(i int) *Node { return s.arena.load(s.off, i) }

func (s *pagedSlots) Set(i int, n *Node) { s.arena.store(s.off, i, n) }

func (s *pagedSlots) grow(i int) slots {
	off := s.arena.alloc(s.n + 1)
	for j := 0; j < i; j++ {
		s.arena.store(off, j, s.arena.load(s.off, j))
	}
	for j := i; j < s.n; j++ {
		s.arena.store(off, j+1, s.arena.load(s.off, j))
	}
	s.off = off
	s.n++
	return s
}

func (s *pagedSlots) shrink(i int) slots {
	if s.n == 1 {
		return nil
	}
	for j := i; j < s.n-1; j++ {
		s.arena.store(s.off, j, s.arena.load(s.off, j+1))
	}
	s.arena.store(s.off, s.n-1, nil)
	s.n--
	return s
}
