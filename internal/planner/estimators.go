package planner

import (
	"context"
	"fmt"

	"github.com/aleksaelezovic/tristore/internal/build"
	"github.com/aleksaelezovic/tristore/internal/distribution"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

// StaticEstimator guesses cardinality from which positions are bound,
// without looking at data. Lower values mean fewer expected matches.
type StaticEstimator struct {
	// Total is the dataset size the selectivities are applied to
	Total float64
}

func (e StaticEstimator) Estimate(_ context.Context, p triple.Pattern) (float64, error) {
	return e.Total * staticSelectivity(p), nil
}

func staticSelectivity(p triple.Pattern) float64 {
	selectivity := 1.0

	// Bound subject is highly selective
	if p.IsBound(triple.Subject) {
		selectivity *= 0.01
	}
	if p.IsBound(triple.Predicate) {
		selectivity *= 0.1
	}
	if p.IsBound(triple.Object) {
		selectivity *= 0.1
	}
	return selectivity
}

// ProbeEstimator counts matches exactly by scanning a published index set.
// It only reads sealed containers, so probing never changes the data, but
// each estimate costs a range scan.
type ProbeEstimator struct {
	Set *build.IndexSet
}

var _ DistinctCounter = ProbeEstimator{}

func (e ProbeEstimator) Estimate(ctx context.Context, p triple.Pattern) (float64, error) {
	order, prefix := index.Select(p, e.Set.Collations())
	c, ok := e.Set.Container(order)
	if !ok {
		return 0, fmt.Errorf("planner: no container in index set %s", e.Set.Version)
	}
	// The prefix covers every bound position; no per-triple check needed
	// unless a variable repeats.
	if len(prefix) == p.BoundCount() && !p.HasRepeatedVars() {
		n, err := index.Count(c, prefix)
		return float64(n), err
	}

	it, err := c.Scan(prefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for i := 0; it.Next(); i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		ids := order.Restore(it.Key())
		if p.Matches(triple.Triple{IDs: ids}) {
			n++
		}
	}
	return float64(n), it.Err()
}

// Distinct uses a width-1 histogram when one exists for the position
func (e ProbeEstimator) Distinct(_ context.Context, pos triple.Position) (float64, error) {
	return distinctFromHistograms(e.Set, pos), nil
}

// HistogramEstimator answers from histogram containers. When no histogram
// covers every bound position, the longest covered prefix is looked up and
// the rest is scaled with static selectivities.
type HistogramEstimator struct {
	Set *build.IndexSet
}

var _ DistinctCounter = HistogramEstimator{}

func (e HistogramEstimator) Estimate(_ context.Context, p triple.Pattern) (float64, error) {
	total := float64(e.Set.Triples)
	if p.BoundCount() == 0 {
		return total, nil
	}

	var (
		best      index.Container
		bestOrder index.Collation
		bestKey   index.Key
	)
	for _, spec := range e.Set.Histograms() {
		prefix := spec.Order.BoundPrefix(p)
		if len(prefix) < spec.Width {
			continue
		}
		if best == nil || spec.Width > len(bestKey) {
			best, _ = e.Set.Histogram(spec.Order, spec.Width)
			bestOrder = spec.Order
			bestKey = prefix[:spec.Width]
		}
	}
	if best == nil {
		return total * staticSelectivity(p), nil
	}

	n, err := index.HistogramCount(best, bestKey)
	if err != nil {
		return 0, err
	}
	est := float64(n)
	// Scale for bound positions the histogram key does not cover.
	for i, pos := range bestOrder.Positions() {
		if i < len(bestKey) || !p.IsBound(pos) {
			continue
		}
		est *= staticSelectivity(onlyBound(p, pos))
	}
	return est, nil
}

func (e HistogramEstimator) Distinct(_ context.Context, pos triple.Position) (float64, error) {
	return distinctFromHistograms(e.Set, pos), nil
}

// onlyBound returns a pattern with just pos bound
func onlyBound(p triple.Pattern, pos triple.Position) triple.Pattern {
	out := triple.NewPattern(triple.Var("s"), triple.Var("p"), triple.Var("o"))
	out.Components[pos] = p.At(pos)
	return out
}

func distinctFromHistograms(set *build.IndexSet, pos triple.Position) float64 {
	for _, spec := range set.Histograms() {
		if spec.Width == 1 && spec.Order.Positions()[0] == pos {
			if h, ok := set.Histogram(spec.Order, 1); ok {
				return float64(h.Size())
			}
		}
	}
	return 0
}

// PeerEstimator asks the peers of a distribution strategy for live
// cardinalities. This costs a round trip per estimate. When a peer does not
// answer, Fallback is used if set; otherwise the partial sum is returned.
type PeerEstimator struct {
	Strategy  *distribution.Strategy
	Requester distribution.HistogramRequester
	Options   distribution.GatherOptions
	Fallback  Estimator
}

func (e PeerEstimator) Estimate(ctx context.Context, p triple.Pattern) (float64, error) {
	n, complete, err := e.Strategy.EstimateCardinality(ctx, e.Requester, p, e.Options)
	if err != nil {
		return 0, err
	}
	if !complete && e.Fallback != nil {
		return e.Fallback.Estimate(ctx, p)
	}
	return float64(n), nil
}
