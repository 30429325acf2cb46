package distribution

import (
	"fmt"
	"strings"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

// Kind is the distribution strategy variant
type Kind int

const (
	// OneKey places each triple once per single component: S, P and O
	OneKey Kind = iota + 1
	// TwoKeys places each triple once per component pair: SP, SO and PO
	TwoKeys
	// OneToThreeKeys places each triple under every non-empty component
	// subset
	OneToThreeKeys
	// Hierarchical maps S, P and O to the axes of a peer grid
	Hierarchical
)

func (k Kind) String() string {
	switch k {
	case OneKey:
		return "one-key"
	case TwoKeys:
		return "two-keys"
	case OneToThreeKeys:
		return "one-to-three-keys"
	case Hierarchical:
		return "hierarchical"
	default:
		return "unknown"
	}
}

// ParseKind parses a strategy kind name
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "_", "-")
	for _, k := range []Kind{OneKey, TwoKeys, OneToThreeKeys, Hierarchical} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownKind, s)
}

// Selector is a set of triple positions feeding one key, as a bit mask
type Selector uint8

const (
	S Selector = 1 << triple.Subject
	P Selector = 1 << triple.Predicate
	O Selector = 1 << triple.Object

	SP  = S | P
	SO  = S | O
	PO  = P | O
	SPO = S | P | O
)

func defaultSelectors(k Kind) []Selector {
	switch k {
	case OneKey:
		return []Selector{S, P, O}
	case TwoKeys:
		return []Selector{SP, SO, PO}
	case OneToThreeKeys:
		return []Selector{S, P, O, SP, SO, PO, SPO}
	default:
		return nil
	}
}

// Valid reports whether s selects at least one position
func (s Selector) Valid() bool {
	return s != 0 && s&^SPO == 0
}

// Has reports whether s selects pos
func (s Selector) Has(pos triple.Position) bool {
	return s&(1<<pos) != 0
}

// Arity returns the number of selected positions
func (s Selector) Arity() int {
	n := 0
	for _, pos := range triple.Positions {
		if s.Has(pos) {
			n++
		}
	}
	return n
}

// Positions returns the selected positions in S, P, O order
func (s Selector) Positions() []triple.Position {
	out := make([]triple.Position, 0, 3)
	for _, pos := range triple.Positions {
		if s.Has(pos) {
			out = append(out, pos)
		}
	}
	return out
}

// Covers reports whether every selected position is bound in the pattern
func (s Selector) Covers(p triple.Pattern) bool {
	for _, pos := range s.Positions() {
		if !p.IsBound(pos) {
			return false
		}
	}
	return true
}

func (s Selector) String() string {
	var b strings.Builder
	for _, pos := range s.Positions() {
		b.WriteString(pos.String())
	}
	return b.String()
}

// ParseSelector parses position letters such as "sp" or "O"
func ParseSelector(v string) (Selector, error) {
	var s Selector
	for _, r := range strings.ToUpper(strings.TrimSpace(v)) {
		var bit Selector
		switch r {
		case 'S':
			bit = S
		case 'P':
			bit = P
		case 'O':
			bit = O
		default:
			return 0, fmt.Errorf("%w: %q", ErrBadSelector, v)
		}
		if s&bit != 0 {
			return 0, fmt.Errorf("%w: %q repeats a position", ErrBadSelector, v)
		}
		s |= bit
	}
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrBadSelector, v)
	}
	return s, nil
}
