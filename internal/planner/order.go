package planner

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

// Order arranges patterns for a left-deep join greedily: at each step the
// best scoring remaining pattern is taken and its variables become bound
// for the patterns after it. Ties keep the input order. bound holds
// variables bound before the first pattern runs and may be nil.
func Order(ctx context.Context, s Scorer, patterns []triple.Pattern, bound Bound) ([]triple.Pattern, error) {
	remaining := make([]triple.Pattern, len(patterns))
	copy(remaining, patterns)
	ordered := make([]triple.Pattern, 0, len(patterns))
	if bound == nil {
		bound = Bound{}
	}

	for len(remaining) > 0 {
		best := -1
		var bestScore Score
		for i, p := range remaining {
			score, err := s.Score(ctx, p, bound)
			if err != nil {
				return nil, fmt.Errorf("score %s: %w", p, err)
			}
			if best < 0 || better(s, score, bestScore) {
				best = i
				bestScore = score
			}
		}
		chosen := remaining[best]
		ordered = append(ordered, chosen)
		bound = bound.With(chosen)
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered, nil
}

func better(s Scorer, a, b Score) bool {
	if s.Ascending() {
		return a < b
	}
	return a > b
}
