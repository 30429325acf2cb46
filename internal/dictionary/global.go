package dictionary

import (
	"container/heap"
	"context"
	"fmt"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/aleksaelezovic/tristore/internal/trie"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

// GlobalIDs maps literals of all runs to one global ID space. Global IDs are
// ranks in byte-wise literal order starting at 1, so ID order and literal
// order agree. A GlobalIDs value is immutable and safe for concurrent use.
type GlobalIDs struct {
	tree     *iradix.Tree
	literals []string
	remap    map[int][]triple.ID
	mode     Mode
}

// Globalize merges the sorted key orders of the given run dictionaries into
// a global ID space. Interning on the dictionaries must have finished.
func Globalize(ctx context.Context, dicts []*Dictionary, mode Mode) (*GlobalIDs, error) {
	g := &GlobalIDs{
		remap: make(map[int][]triple.ID, len(dicts)),
		mode:  mode,
	}

	h := make(cursorHeap, 0, len(dicts))
	for _, d := range dicts {
		if _, dup := g.remap[d.run]; dup {
			return nil, fmt.Errorf("run %d reported twice", d.run)
		}
		g.remap[d.run] = make([]triple.ID, d.Len()+1)
		c := &cursor{run: d.run, it: d.trie.Iterator()}
		if c.advance() {
			h = append(h, c)
		}
	}
	heap.Init(&h)

	txn := iradix.New().Txn()
	var (
		last string
		id   triple.ID
	)
	for steps := 0; h.Len() > 0; steps++ {
		if steps%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c := h[0]
		if id == triple.NoID || c.key != last {
			id++
			last = c.key
			txn.Insert([]byte(last), id)
			if mode == CodeMap {
				g.literals = append(g.literals, last)
			}
		}
		g.remap[c.run][c.local] = id
		if c.advance() {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	g.tree = txn.Commit()
	return g, nil
}

// Len returns the number of distinct literals
func (g *GlobalIDs) Len() int {
	return g.tree.Len()
}

// Mode returns the dictionary mode the map was built with
func (g *GlobalIDs) Mode() Mode {
	return g.mode
}

// Lookup returns the global ID of literal
func (g *GlobalIDs) Lookup(literal string) (triple.ID, bool) {
	v, ok := g.tree.Get([]byte(literal))
	if !ok {
		return triple.NoID, false
	}
	return v.(triple.ID), true
}

// Literal returns the literal with the given global ID. Without a code map
// this walks the tree up to the requested rank.
func (g *GlobalIDs) Literal(id triple.ID) (string, bool) {
	if id == triple.NoID || int(id) > g.Len() {
		return "", false
	}
	if g.literals != nil {
		return g.literals[id-1], true
	}
	var found string
	g.tree.Root().Walk(func(k []byte, v interface{}) bool {
		if v.(triple.ID) == id {
			found = string(k)
			return true
		}
		return false
	})
	return found, true
}

// Remap translates a local ID of the given run into its global ID
func (g *GlobalIDs) Remap(run int, local triple.ID) (triple.ID, bool) {
	table, ok := g.remap[run]
	if !ok || local == triple.NoID || int(local) >= len(table) {
		return triple.NoID, false
	}
	id := table[local]
	return id, id != triple.NoID
}

// Runs returns the number of runs merged into the map
func (g *GlobalIDs) Runs() int {
	return len(g.remap)
}

// Iterator returns a lazy iterator over (literal, global ID) in ascending
// order. Each call starts from the first literal.
func (g *GlobalIDs) Iterator() *Iterator {
	return &Iterator{it: g.tree.Root().Iterator()}
}

// Iterator walks a GlobalIDs map in literal order
type Iterator struct {
	it      *iradix.Iterator
	literal []byte
	id      triple.ID
}

// Next advances to the next literal
func (it *Iterator) Next() bool {
	k, v, ok := it.it.Next()
	if !ok {
		it.literal = nil
		it.id = triple.NoID
		return false
	}
	it.literal = k
	it.id = v.(triple.ID)
	return true
}

// Literal returns the current literal
func (it *Iterator) Literal() string {
	return string(it.literal)
}

// ID returns the current global ID
func (it *Iterator) ID() triple.ID {
	return it.id
}

// cursor is the head of one run's sorted literal stream
type cursor struct {
	run   int
	it    *trie.Iterator
	key   string
	local triple.ID
}

func (c *cursor) advance() bool {
	if !c.it.Next() {
		return false
	}
	c.key = string(c.it.Key())
	c.local = triple.ID(c.it.Value())
	return true
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].run < h[j].run
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
