package trie

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the backing store of a node's child slots. Nodes of
// different kinds never share structure.
type Kind uint8

const (
	// KindArray keeps child pointers in a Go slice per node
	KindArray Kind = iota + 1
	// KindPaged keeps child references in an arena of fixed-width slots
	KindPaged
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "array"
	case KindPaged:
		return "paged"
	default:
		return "unknown"
	}
}

// ParseKind parses a node kind name; the empty string selects KindArray
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "array":
		return KindArray, nil
	case "paged":
		return KindPaged, nil
	default:
		return 0, fmt.Errorf("unknown trie kind: %s", s)
	}
}

// slots is the fan-out capability every node kind provides. Children are
// ordered by the first byte of their fragment.
type slots interface {
	Len() int
	Child(i int) *Node
	Set(i int, n *Node)
	// grow opens a nil slot at i, shifting slots i.. one to the right
	grow(i int) slots
	// shrink drops slot i; it returns nil once no slot remains
	shrink(i int) slots
}

// Node is one vertex of the trie. The fragment is shared by every key below
// the node; terminal marks that a complete key ends here.
type Node struct {
	fragment []byte
	value    uint64
	terminal bool
	kind     Kind
	arena    *arena
	id       uint32
	children slots
}

// Fragment returns the key bytes on the edge leading to this node
func (n *Node) Fragment() []byte {
	return n.fragment
}

// Value returns the terminal value, if a key ends here
func (n *Node) Value() (uint64, bool) {
	return n.value, n.terminal
}

// Kind returns the backing kind of this node
func (n *Node) Kind() Kind {
	return n.kind
}

// ChildCount returns the number of children
func (n *Node) ChildCount() int {
	if n.children == nil {
		return 0
	}
	return n.children.Len()
}

// Child returns the i-th child in symbol order
func (n *Node) Child(i int) *Node {
	return n.children.Child(i)
}

// HasChild reports whether an edge starts with the given symbol
func (n *Node) HasChild(sym byte) bool {
	_, ok := n.find(sym)
	return ok
}

// SetChild replaces the i-th child. The replacement must come from the same
// kind of trie and keep the slot's first symbol.
func (n *Node) SetChild(i int, c *Node) error {
	if !sameTrie(n, c) {
		return fmt.Errorf("%w: %s node under %s node", ErrIncompatibleNode, c.kind, n.kind)
	}
	if i < 0 || i >= n.ChildCount() {
		return fmt.Errorf("child index %d out of range [0,%d)", i, n.ChildCount())
	}
	if len(c.fragment) == 0 || c.fragment[0] != n.children.Child(i).fragment[0] {
		return fmt.Errorf("%w: replacement changes first symbol", ErrIncompatibleNode)
	}
	n.children.Set(i, c)
	return nil
}

// find locates the child whose fragment starts with sym. When absent, the
// returned index is the insertion point.
func (n *Node) find(sym byte) (int, bool) {
	cnt := n.ChildCount()
	i := sort.Search(cnt, func(i int) bool {
		return n.children.Child(i).fragment[0] >= sym
	})
	return i, i < cnt && n.children.Child(i).fragment[0] == sym
}

func (n *Node) insertChild(i int, c *Node) {
	if n.children == nil {
		n.children = n.emptySlots()
	}
	n.children = n.children.grow(i)
	n.children.Set(i, c)
}

func (n *Node) removeChild(i int) {
	n.children = n.children.shrink(i)
}

func (n *Node) emptySlots() slots {
	if n.kind == KindPaged {
		return &pagedSlots{arena: n.arena}
	}
	return arraySlots(nil)
}

// sameTrie reports whether two nodes may share structure: same kind and,
// for arena-backed nodes, the same arena.
func sameTrie(a, b *Node) bool {
	return a.kind == b.kind && a.arena == b.arena
}

func (n *Node) String() string {
	return fmt.Sprintf("Node{fragment: %q, terminal: %t, value: %d, kind: %s, children: %d}",
		n.fragment, n.terminal, n.value, n.kind, n.ChildCount())
}

// arraySlots is the in-memory variant: one pointer per child
type arraySlots []*Node

func (s arraySlots) Len() int { return len(s) }

func (s arraySlots) Child(i int) *Node { return s[i] }

func (s arraySlots) Set(i int, n *Node) { s[i] = n }

func (s arraySlots) grow(i int) slots {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = nil
	return s
}

func (s arraySlots) shrink(i int) slots {
	if len(s) == 1 {
		return nil
	}
	copy(s[i:], s[i+1:])
	s[len(s)-1] = nil
	return s[:len(s)-1]
}
