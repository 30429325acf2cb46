package build

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aleksaelezovic/tristore/internal/dictionary"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

const (
	// checkEvery is how many items long loops handle between context checks
	checkEvery = 8192
	loadChunk  = 64 << 10
)

// generate builds one container per collation order in parallel, then the
// configured histograms. The triples slice is shared read-only.
func (p *Pipeline) generate(ctx context.Context, global *dictionary.GlobalIDs, triples [][3]triple.ID) (*IndexSet, error) {
	set := &IndexSet{
		Version:    p.id,
		Global:     global,
		containers: make(map[index.Collation]index.Container, len(p.cfg.Collations)),
		histograms: make(map[HistogramSpec]index.Container, len(p.cfg.Histograms)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, order := range p.cfg.Collations {
		g.Go(func() error {
			c, err := p.buildContainer(gctx, order, triples)
			if err != nil {
				return fmt.Errorf("%s container: %w", order, err)
			}
			mu.Lock()
			set.containers[order] = c
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	set.Triples = set.containers[p.cfg.Collations[0]].Size()

	g, gctx = errgroup.WithContext(ctx)
	for _, spec := range p.cfg.Histograms {
		src := histogramSource(set, p.cfg.Collations, spec.Order)
		if src == nil {
			return nil, fmt.Errorf("%w: %s/%d", ErrHistogramSource, spec.Order, spec.Width)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := src.CreateHistogramIndex(spec.Order, spec.Width)
			if err != nil {
				return fmt.Errorf("%s/%d histogram: %w", spec.Order, spec.Width, err)
			}
			p.metrics.containerEntries(spec.Order.String(), "histogram", h.Size())
			mu.Lock()
			set.histograms[spec] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func (p *Pipeline) buildContainer(ctx context.Context, order index.Collation, triples [][3]triple.ID) (index.Container, error) {
	entries := make([]index.Entry, len(triples))
	for i, t := range triples {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		entries[i] = index.Entry{Key: order.Permute(t)}
	}
	slices.SortFunc(entries, func(a, b index.Entry) int {
		return index.Compare(a.Key, b.Key)
	})
	entries = slices.CompactFunc(entries, func(a, b index.Entry) bool {
		return index.Compare(a.Key, b.Key) == 0
	})

	c, err := p.backend.NewContainer(p.id, order)
	if err != nil {
		return nil, err
	}
	for len(entries) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(len(entries), loadChunk)
		if err := index.Load(c, entries[:n]); err != nil {
			return nil, err
		}
		entries = entries[n:]
	}
	c.Seal()

	p.metrics.containerEntries(order.String(), "triples", c.Size())
	p.log.Debug("container sealed", zap.Stringer("order", order), zap.Int("entries", c.Size()))
	return c, nil
}

// histogramSource prefers the container already sorted in the histogram's
// order, which lets the counts stream.
func histogramSource(set *IndexSet, collations []index.Collation, order index.Collation) index.Container {
	if c, ok := set.containers[order]; ok && c.CreatesHistogramIndex() {
		return c
	}
	for _, o := range collations {
		if c := set.containers[o]; c.CreatesHistogramIndex() {
			return c
		}
	}
	return nil
}
