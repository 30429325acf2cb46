package index

import (
	"fmt"
	"strings"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

// Collation is the permutation of (S,P,O) used as a container's sort key
type Collation byte

const (
	SPO Collation = iota + 1
	SOP
	PSO
	POS
	OSP
	OPS
)

// AllCollations lists every permutation
var AllCollations = []Collation{SPO, SOP, PSO, POS, OSP, OPS}

// DefaultCollations are the three orders materialized when none are
// configured
var DefaultCollations = []Collation{SPO, POS, OSP}

var collationPositions = map[Collation][3]triple.Position{
	SPO: {triple.Subject, triple.Predicate, triple.Object},
	SOP: {triple.Subject, triple.Object, triple.Predicate},
	PSO: {triple.Predicate, triple.Subject, triple.Object},
	POS: {triple.Predicate, triple.Object, triple.Subject},
	OSP: {triple.Object, triple.Subject, triple.Predicate},
	OPS: {triple.Object, triple.Predicate, triple.Subject},
}

func (c Collation) String() string {
	switch c {
	case SPO:
		return "spo"
	case SOP:
		return "sop"
	case PSO:
		return "pso"
	case POS:
		return "pos"
	case OSP:
		return "osp"
	case OPS:
		return "ops"
	default:
		return "unknown"
	}
}

// ParseCollation parses names like "SPO" or "pos"
func ParseCollation(s string) (Collation, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCollations {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown collation order: %s", s)
}

// Valid reports whether c names a permutation
func (c Collation) Valid() bool {
	_, ok := collationPositions[c]
	return ok
}

// Positions returns the triple positions in key order
func (c Collation) Positions() [3]triple.Position {
	return collationPositions[c]
}

// Permute orders the components of a triple by this collation
func (c Collation) Permute(ids [3]triple.ID) Key {
	pos := c.Positions()
	return Key{ids[pos[0]], ids[pos[1]], ids[pos[2]]}
}

// Restore maps a full-width key in this collation back to S, P, O
func (c Collation) Restore(key Key) [3]triple.ID {
	var ids [3]triple.ID
	for i, p := range c.Positions() {
		ids[p] = key[i]
	}
	return ids
}

// BoundPrefix returns the IDs of the leading key positions of this
// collation that are bound in the pattern.
func (c Collation) BoundPrefix(p triple.Pattern) Key {
	var prefix Key
	for _, pos := range c.Positions() {
		if !p.IsBound(pos) {
			break
		}
		prefix = append(prefix, p.At(pos).Value)
	}
	return prefix
}

// Select picks the available collation whose key prefix covers the most
// bound positions of the pattern. Ties go to the earlier collation.
func Select(p triple.Pattern, available []Collation) (Collation, Key) {
	var (
		best       Collation
		bestPrefix Key
	)
	for _, c := range available {
		prefix := c.BoundPrefix(p)
		if best == 0 || len(prefix) > len(bestPrefix) {
			best = c
			bestPrefix = prefix
		}
	}
	return best, bestPrefix
}
