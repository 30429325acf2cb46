package distribution

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

// Fetcher retrieves the triples a peer holds for a pattern. Transport is
// up to the implementation.
type Fetcher interface {
	Fetch(ctx context.Context, peer PeerID, p triple.Pattern) ([]triple.Triple, error)
}

// HistogramRequester asks a peer for its live cardinality estimate of a
// pattern
type HistogramRequester interface {
	RequestHistogram(ctx context.Context, peer PeerID, p triple.Pattern) (uint64, error)
}

// GatherOptions controls a fan-out to peers
type GatherOptions struct {
	// Timeout bounds each peer request on its own; zero means no limit
	Timeout time.Duration
	// Strict fails the whole request when any peer fails
	Strict bool
	// Concurrency caps parallel requests; zero means one per peer
	Concurrency int
	Logger      *zap.Logger
	Metrics     *Metrics
}

// Result is the merged answer of a fan-out
type Result struct {
	Triples []triple.Triple
	// Incomplete is set when at least one peer did not answer
	Incomplete bool
	Failed     map[PeerID]error
}

// Metrics counts peer requests. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// NewMetrics creates peer request metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tristore",
			Subsystem: "distribution",
			Name:      "peer_requests_total",
			Help:      "Peer requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tristore",
			Subsystem: "distribution",
			Name:      "peer_request_seconds",
			Help:      "Peer request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

func (m *Metrics) observe(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.requests.WithLabelValues(kind, outcome).Inc()
	m.latency.Observe(time.Since(start).Seconds())
}

// fanOut calls fn for every peer concurrently, each under its own timeout.
// Failures are collected; in strict mode the first one cancels the rest.
func fanOut(ctx context.Context, peers []PeerID, opts GatherOptions, kind string, fn func(context.Context, PeerID) error) (map[PeerID]error, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var (
		mu     sync.Mutex
		failed = make(map[PeerID]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for _, peer := range peers {
		g.Go(func() error {
			pctx := gctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(gctx, opts.Timeout)
				defer cancel()
			}
			start := time.Now()
			err := fn(pctx, peer)
			opts.Metrics.observe(kind, start, err)
			if err == nil {
				return nil
			}
			log.Warn("peer request failed", zap.String("peer", string(peer)), zap.String("kind", kind), zap.Error(err))
			mu.Lock()
			failed[peer] = err
			mu.Unlock()
			if opts.Strict {
				return fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, peer, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return failed, nil
}

// Gather asks every peer returned by PeersFor for the pattern's triples.
// A failing or slow peer does not hold back the others; its absence is
// reported through Result.Incomplete unless opts.Strict is set, in which
// case ErrPeerUnreachable is returned.
func (s *Strategy) Gather(ctx context.Context, f Fetcher, p triple.Pattern, opts GatherOptions) (*Result, error) {
	var (
		mu      sync.Mutex
		triples []triple.Triple
	)
	failed, err := fanOut(ctx, s.PeersFor(p), opts, "fetch", func(ctx context.Context, peer PeerID) error {
		got, err := f.Fetch(ctx, peer, p)
		if err != nil {
			return err
		}
		mu.Lock()
		for _, t := range got {
			if p.Matches(t) {
				triples = append(triples, triple.New(t.IDs[0], t.IDs[1], t.IDs[2]))
			}
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Replicated triples come back from several peers.
	slices.SortFunc(triples, compareTriples)
	triples = slices.CompactFunc(triples, func(a, b triple.Triple) bool {
		return a.IDs == b.IDs
	})
	return &Result{Triples: triples, Incomplete: len(failed) > 0, Failed: failed}, nil
}

// EstimateCardinality sums the histogram answers of the peers responsible
// for the pattern. complete is false when a peer did not answer.
func (s *Strategy) EstimateCardinality(ctx context.Context, r HistogramRequester, p triple.Pattern, opts GatherOptions) (total uint64, complete bool, err error) {
	var mu sync.Mutex
	failed, err := fanOut(ctx, s.PeersFor(p), opts, "histogram", func(ctx context.Context, peer PeerID) error {
		n, err := r.RequestHistogram(ctx, peer, p)
		if err != nil {
			return err
		}
		mu.Lock()
		total += n
		mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return total, len(failed) == 0, nil
}

func compareTriples(a, b triple.Triple) int {
	for i := range a.IDs {
		switch {
		case a.IDs[i] < b.IDs[i]:
			return -1
		case a.IDs[i] > b.IDs[i]:
			return 1
		}
	}
	return 0
}
