// Package planner scores triple patterns and orders them for joins
package planner

import (
	"context"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

// Score is a comparable pattern score
type Score float64

// Bound is the set of variable names already bound by earlier patterns
type Bound map[string]bool

// With returns a copy of b extended with the variables of p
func (b Bound) With(p triple.Pattern) Bound {
	out := make(Bound, len(b)+3)
	for v := range b {
		out[v] = true
	}
	for _, v := range p.Vars() {
		out[v] = true
	}
	return out
}

// Scorer scores a pattern given the variables bound by its context.
// Scorers must not modify the dataset.
type Scorer interface {
	Score(ctx context.Context, p triple.Pattern, bound Bound) (Score, error)
	// Ascending reports whether lower scores are preferred
	Ascending() bool
}

// Estimator estimates the number of triples matching a pattern in
// isolation
type Estimator interface {
	Estimate(ctx context.Context, p triple.Pattern) (float64, error)
}

// DistinctCounter is implemented by estimators that know how many distinct
// IDs occur at a position. It returns 0 when unknown.
type DistinctCounter interface {
	Distinct(ctx context.Context, pos triple.Position) (float64, error)
}

// contextSelectivity scales an estimate for each variable bound by the
// context when the distinct count at its position is unknown
const contextSelectivity = 0.1

// LeastEntries prefers patterns with the fewest estimated matches
type LeastEntries struct {
	est Estimator
}

var _ Scorer = (*LeastEntries)(nil)

func NewLeastEntries(est Estimator) *LeastEntries {
	return &LeastEntries{est: est}
}

func (s *LeastEntries) Ascending() bool { return true }

// Score estimates the pattern's cardinality. Each variable that the
// context already binds divides the estimate by the number of distinct
// values at its position.
func (s *LeastEntries) Score(ctx context.Context, p triple.Pattern, bound Bound) (Score, error) {
	n, err := s.est.Estimate(ctx, p)
	if err != nil {
		return 0, err
	}
	dc, hasDistinct := s.est.(DistinctCounter)
	for _, pos := range triple.Positions {
		c := p.At(pos)
		if !c.IsVar() || !bound[c.Var] {
			continue
		}
		d := 0.0
		if hasDistinct {
			if d, err = dc.Distinct(ctx, pos); err != nil {
				return 0, err
			}
		}
		if d > 1 {
			n /= d
		} else {
			n *= contextSelectivity
		}
	}
	return Score(n), nil
}
