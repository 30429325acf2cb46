// Package trie implements a Patricia (radix) trie mapping byte strings to
// integer identifiers. It backs the term dictionary and provides the sorted
// key order every index is built from.
//
// A Trie is not safe for concurrent writers. Once construction is finished,
// any number of goroutines may read it without locking.
package trie

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned by Insert in strict mode for existing keys
	ErrDuplicateKey = errors.New("trie: duplicate key")
	// ErrIncompatibleNode is returned when a node would be linked under a
	// node of a different trie kind
	ErrIncompatibleNode = errors.New("trie: incompatible node kind")
)

// Trie is a compressed prefix tree with uint64 values
type Trie struct {
	root   *Node
	kind   Kind
	arena  *arena
	size   int
	strict bool
}

// Option configures a Trie
type Option func(*Trie)

// WithKind selects the child-slot backing of the trie's nodes
func WithKind(kind Kind) Option {
	return func(t *Trie) {
		if kind != 0 {
			t.kind = kind
		}
	}
}

// WithStrictInsert makes Insert fail on keys that are already present
func WithStrictInsert() Option {
	return func(t *Trie) {
		t.strict = true
	}
}

// New creates an empty trie. The default kind is KindArray.
func New(opts ...Option) *Trie {
	t := &Trie{kind: KindArray}
	for _, opt := range opts {
		opt(t)
	}
	if t.kind == KindPaged {
		t.arena = newArena()
	}
	t.root = t.newNode(nil)
	return t
}

// Kind returns the node kind of this trie
func (t *Trie) Kind() Kind {
	return t.kind
}

// Len returns the number of keys
func (t *Trie) Len() int {
	return t.size
}

// Root exposes the root node for read-only traversal
func (t *Trie) Root() *Node {
	return t.root
}

// Release frees arena memory. The trie must not be used afterwards.
func (t *Trie) Release() {
	if t.arena != nil {
		t.arena.release()
		t.arena = nil
	}
	t.root = nil
	t.size = 0
}

func (t *Trie) newNode(fragment []byte) *Node {
	n := &Node{fragment: fragment, kind: t.kind}
	if t.arena != nil {
		t.arena.register(n)
	}
	return n
}

func (t *Trie) freeNode(n *Node) {
	if t.arena != nil {
		t.arena.forget(n)
	}
}

// Insert maps key to value. An existing key has its value replaced, unless
// the trie was created with WithStrictInsert.
func (t *Trie) Insert(key []byte, value uint64) error {
	_, err := t.insert(key, value, !t.strict)
	return err
}

// InsertIfAbsent stores value only if key is not present yet. It returns
// the value now associated with key and whether it was inserted.
func (t *Trie) InsertIfAbsent(key []byte, value uint64) (uint64, bool) {
	n, err := t.insert(key, value, false)
	if err != nil {
		return n.value, false
	}
	return value, true
}

// insert returns the terminal node for key. When the key exists and
// overwrite is false, it returns the node together with ErrDuplicateKey.
func (t *Trie) insert(key []byte, value uint64, overwrite bool) (*Node, error) {
	key = append([]byte(nil), key...)
	n := t.root
	rest := key
	for {
		if len(rest) == 0 {
			if n.terminal {
				if !overwrite {
					return n, ErrDuplicateKey
				}
				n.value = value
				return n, nil
			}
			n.terminal = true
			n.value = value
			t.size++
			return n, nil
		}

		i, ok := n.find(rest[0])
		if !ok {
			leaf := t.newNode(rest[:len(rest):len(rest)])
			leaf.terminal = true
			leaf.value = value
			n.insertChild(i, leaf)
			t.size++
			return leaf, nil
		}

		c := n.Child(i)
		l := commonPrefix(c.fragment, rest)
		if l == len(c.fragment) {
			n = c
			rest = rest[l:]
			continue
		}

		// The key diverges inside c's fragment: split the edge.
		mid := t.newNode(c.fragment[:l:l])
		c.fragment = c.fragment[l:]
		n.children.Set(i, mid)
		mid.insertChild(0, c)
		n = mid
		rest = rest[l:]
	}
}

// Lookup returns the value stored for key
func (t *Trie) Lookup(key []byte) (uint64, bool) {
	n := t.root
	rest := key
	for len(rest) > 0 {
		i, ok := n.find(rest[0])
		if !ok {
			return 0, false
		}
		c := n.Child(i)
		if !bytes.HasPrefix(rest, c.fragment) {
			return 0, false
		}
		rest = rest[len(c.fragment):]
		n = c
	}
	if !n.terminal {
		return 0, false
	}
	return n.value, true
}

type step struct {
	parent *Node
	index  int
}

// Remove deletes key and compacts the path. It reports whether the key was
// present.
func (t *Trie) Remove(key []byte) bool {
	var path []step
	n := t.root
	rest := key
	for len(rest) > 0 {
		i, ok := n.find(rest[0])
		if !ok {
			return false
		}
		c := n.Child(i)
		if !bytes.HasPrefix(rest, c.fragment) {
			return false
		}
		path = append(path, step{parent: n, index: i})
		rest = rest[len(c.fragment):]
		n = c
	}
	if !n.terminal {
		return false
	}

	n.terminal = false
	n.value = 0
	t.size--

	if len(path) == 0 {
		// The root is never compacted.
		return true
	}

	last := path[len(path)-1]
	switch n.ChildCount() {
	case 0:
		last.parent.removeChild(last.index)
		t.freeNode(n)
		t.compact(path[:len(path)-1], last.parent)
	case 1:
		t.pullUp(last, n)
	}
	return true
}

// compact merges node into its only child when it no longer carries a
// value. up is the path leading to node.
func (t *Trie) compact(up []step, node *Node) {
	if len(up) == 0 || node.terminal || node.ChildCount() != 1 {
		return
	}
	t.pullUp(up[len(up)-1], node)
}

// pullUp replaces node (a non-terminal with one child) by that child,
// prefixing the child's fragment with node's.
func (t *Trie) pullUp(at step, node *Node) {
	child := node.Child(0)
	merged := make([]byte, 0, len(node.fragment)+len(child.fragment))
	merged = append(merged, node.fragment...)
	merged = append(merged, child.fragment...)
	child.fragment = merged
	at.parent.children.Set(at.index, child)
	node.children = nil
	t.freeNode(node)
}

func commonPrefix(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Clone deep-copies the trie into a new one of the given kind
func (t *Trie) Clone(opts ...Option) *Trie {
	c := New(append([]Option{WithKind(t.kind)}, opts...)...)
	it := t.Iterator()
	for it.Next() {
		c.insert(it.Key(), it.Value(), true)
	}
	return c
}

// Merge moves every key of src into t and leaves src empty. Values from
// src win on conflicts. When both tries share a node kind (and arena),
// subtrees of src whose first symbol is free in t are linked by reference;
// everything else is copied key by key.
func (t *Trie) Merge(src *Trie) error {
	if src == t {
		return nil
	}
	if src.root == nil {
		return fmt.Errorf("trie: merge from released trie")
	}
	if sameTrie(t.root, src.root) {
		t.graft(t.root, src.root)
	} else {
		it := src.Iterator()
		for it.Next() {
			t.insert(it.Key(), it.Value(), true)
		}
	}
	src.reset()
	return nil
}

func (t *Trie) graft(dst, from *Node) {
	if from.terminal {
		if !dst.terminal {
			t.size++
		}
		dst.terminal = true
		dst.value = from.value
	}
	for j := 0; j < from.ChildCount(); j++ {
		c := from.Child(j)
		i, ok := dst.find(c.fragment[0])
		if !ok {
			dst.insertChild(i, c)
			t.size += countKeys(c)
			continue
		}
		// Shared first symbol: copy the keys under c instead.
		walk(c, append([]byte(nil), c.fragment...), func(key []byte, v uint64) {
			t.insert(key, v, true)
		})
	}
}

func (t *Trie) reset() {
	if t.arena != nil {
		t.arena.release()
		t.arena = newArena()
	}
	t.root = t.newNode(nil)
	t.size = 0
}

func countKeys(n *Node) int {
	c := 0
	if n.terminal {
		c++
	}
	for i := 0; i < n.ChildCount(); i++ {
		c += countKeys(n.Child(i))
	}
	return c
}

func walk(n *Node, key []byte, fn func([]byte, uint64)) {
	if n.terminal {
		fn(key, n.value)
	}
	for i := 0; i < n.ChildCount(); i++ {
		c := n.Child(i)
		walk(c, append(key[:len(key):len(key)], c.fragment...), fn)
	}
}

// Validate checks the structural invariants of the trie: children sorted by
// unique first symbol, no empty child arrays, no value-less pass-through
// nodes below the root and a consistent key count.
func (t *Trie) Validate() error {
	count := 0
	var check func(n *Node, isRoot bool) error
	check = func(n *Node, isRoot bool) error {
		if n.kind != t.kind {
			return fmt.Errorf("%w: %s node in %s trie", ErrIncompatibleNode, n.kind, t.kind)
		}
		if n.terminal {
			count++
		}
		if n.children != nil && n.children.Len() == 0 {
			return fmt.Errorf("trie: node %q keeps an empty child array", n.fragment)
		}
		if !isRoot {
			if len(n.fragment) == 0 {
				return fmt.Errorf("trie: empty fragment below root")
			}
			if !n.terminal && n.ChildCount() < 2 {
				return fmt.Errorf("trie: uncompacted node %q with %d children", n.fragment, n.ChildCount())
			}
		}
		for i := 0; i < n.ChildCount(); i++ {
			c := n.Child(i)
			if c == nil {
				return fmt.Errorf("trie: nil child %d under %q", i, n.fragment)
			}
			if i > 0 && n.Child(i-1).fragment[0] >= c.fragment[0] {
				return fmt.Errorf("trie: children of %q not strictly ordered at %d", n.fragment, i)
			}
			if err := check(c, false); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(t.root, true); err != nil {
		return err
	}
	if count != t.size {
		return fmt.Errorf("trie: size %d but %d terminal nodes", t.size, count)
	}
	return nil
}
