package triple

import (
	"fmt"
	"strings"
)

// ID is a dictionary-encoded RDF term. Zero is never assigned to a literal.
type ID uint64

// NoID marks an absent identifier
const NoID ID = 0

// Position addresses one component of a triple
type Position int

const (
	Subject Position = iota
	Predicate
	Object
)

func (p Position) String() string {
	switch p {
	case Subject:
		return "S"
	case Predicate:
		return "P"
	case Object:
		return "O"
	default:
		return "?"
	}
}

// Positions lists S, P, O in natural order
var Positions = [3]Position{Subject, Predicate, Object}

// Raw is a triple of literal terms as delivered by a reader, before
// dictionary encoding. Terms are kept in their N-Triples surface form.
type Raw [3]string

// Triple is a dictionary-encoded triple plus the provenance needed while
// blocks are consumed out of order.
type Triple struct {
	IDs   [3]ID
	Block int
	Run   int
}

// New builds an encoded triple without provenance
func New(s, p, o ID) Triple {
	return Triple{IDs: [3]ID{s, p, o}}
}

// At returns the component at the given position
func (t Triple) At(pos Position) ID {
	return t.IDs[pos]
}

func (t Triple) String() string {
	return fmt.Sprintf("(%d,%d,%d)", t.IDs[0], t.IDs[1], t.IDs[2])
}

// Component is one slot of a triple pattern: either a variable or a bound ID
type Component struct {
	Var   string
	Value ID
}

// Var creates a variable component
func Var(name string) Component {
	return Component{Var: name}
}

// Bound creates a constant component
func Bound(id ID) Component {
	return Component{Value: id}
}

// IsVar reports whether the component is a variable
func (c Component) IsVar() bool {
	return c.Var != ""
}

func (c Component) String() string {
	if c.IsVar() {
		return "?" + c.Var
	}
	return fmt.Sprintf("%d", c.Value)
}

// Pattern is a triple pattern with zero or more variables
type Pattern struct {
	Components [3]Component
}

// NewPattern creates a pattern from its three components
func NewPattern(s, p, o Component) Pattern {
	return Pattern{Components: [3]Component{s, p, o}}
}

// At returns the component at the given position
func (p Pattern) At(pos Position) Component {
	return p.Components[pos]
}

// IsBound reports whether the given position holds a constant
func (p Pattern) IsBound(pos Position) bool {
	return !p.Components[pos].IsVar()
}

// BoundCount returns how many positions are constants
func (p Pattern) BoundCount() int {
	n := 0
	for _, c := range p.Components {
		if !c.IsVar() {
			n++
		}
	}
	return n
}

// Vars returns the variable names used by the pattern in S, P, O order
func (p Pattern) Vars() []string {
	var vars []string
	for _, c := range p.Components {
		if c.IsVar() {
			vars = append(vars, c.Var)
		}
	}
	return vars
}

// Unbind returns a copy of the pattern with the given position replaced by
// a variable.
func (p Pattern) Unbind(pos Position, name string) Pattern {
	p.Components[pos] = Var(name)
	return p
}

// HasRepeatedVars reports whether a variable occurs at more than one
// position, as in (?x p ?x)
func (p Pattern) HasRepeatedVars() bool {
	c := p.Components
	return c[0].IsVar() && (c[0].Var == c[1].Var || c[0].Var == c[2].Var) ||
		c[1].IsVar() && c[1].Var == c[2].Var
}

// Matches reports whether an encoded triple satisfies the pattern: every
// constant is equal and positions sharing a variable hold the same ID.
func (p Pattern) Matches(t Triple) bool {
	for i, c := range p.Components {
		if !c.IsVar() {
			if c.Value != t.IDs[i] {
				return false
			}
			continue
		}
		for j := i + 1; j < len(p.Components); j++ {
			if p.Components[j].Var == c.Var && t.IDs[j] != t.IDs[i] {
				return false
			}
		}
	}
	return true
}

func (p Pattern) String() string {
	parts := make([]string, 3)
	for i, c := range p.Components {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}
