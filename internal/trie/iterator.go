package trie

// Iterator walks the trie depth-first in pre-order, which yields keys in
// lexicographic byte order. Each call to Trie.Iterator starts a fresh walk;
// iteration never mutates the trie.
type Iterator struct {
	root    *Node
	stack   []frame
	key     []byte
	cur     *Node
	started bool
}

type frame struct {
	node  *Node
	depth int
	next  int
}

// Iterator returns a new iterator positioned before the first key
func (t *Trie) Iterator() *Iterator {
	return &Iterator{root: t.root}
}

// Next advances to the next key
func (it *Iterator) Next() bool {
	if !it.started {
		it.started = true
		if it.root == nil {
			return false
		}
		it.key = append(it.key[:0], it.root.fragment...)
		it.stack = append(it.stack, frame{node: it.root, depth: len(it.key)})
		if it.root.terminal {
			it.cur = it.root
			return true
		}
	}

	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		if top.next < top.node.ChildCount() {
			c := top.node.Child(top.next)
			top.next++
			it.key = append(it.key[:top.depth], c.fragment...)
			it.stack = append(it.stack, frame{node: c, depth: len(it.key)})
			if c.terminal {
				it.cur = c
				return true
			}
			continue
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
	it.cur = nil
	return false
}

// Key returns the current key. The slice is reused by the next call to Next.
func (it *Iterator) Key() []byte {
	if it.cur == nil {
		return nil
	}
	return it.key
}

// Value returns the value of the current key
func (it *Iterator) Value() uint64 {
	if it.cur == nil {
		return 0
	}
	return it.cur.value
}
