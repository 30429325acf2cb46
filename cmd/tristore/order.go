package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aleksaelezovic/tristore/internal/build"
	"github.com/aleksaelezovic/tristore/internal/config"
	"github.com/aleksaelezovic/tristore/internal/dictionary"
	"github.com/aleksaelezovic/tristore/internal/distribution"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/ntriples"
	"github.com/aleksaelezovic/tristore/internal/planner"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

const (
	estimatorProbe     = "probe"
	estimatorHistogram = "histogram"
	estimatorStatic    = "static"
	estimatorPeer      = "peer"
)

func newOrderCommand(env *environment) *cobra.Command {
	var (
		data      []string
		estimator string
		bound     []string
	)
	cmd := &cobra.Command{
		Use:   "order --data <file.nt> <pattern>...",
		Short: "Order triple patterns for a left-deep join",
		Long: `Order triple patterns for a left-deep join.

The data files are indexed in memory first. Patterns use N-Triples syntax
with ?variables, for example "?s <http://xmlns.com/foaf/0.1/knows> ?o".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(data) == 0 {
				return errors.New("--data is required")
			}
			if estimator == "" {
				estimator = estimatorHistogram
				if env.cfg.Distribution.HistogramRequests {
					estimator = estimatorPeer
				}
			}

			// Ordering only needs a throwaway index.
			cfg := env.cfg
			cfg.Storage.Backend = config.BackendMemory
			reg := prometheus.NewRegistry()
			b, err := runBuild(cmd.Context(), cfg, data, env.log, build.NewMetrics(reg))
			if err != nil {
				return err
			}
			defer b.Close()

			patterns := make([]triple.Pattern, len(args))
			labels := make(map[triple.Pattern]string, len(args))
			for i, arg := range args {
				raw, err := ntriples.ParsePattern(arg)
				if err != nil {
					return fmt.Errorf("pattern %d: %w", i+1, err)
				}
				patterns[i] = resolvePattern(b.set.Global, raw)
				labels[patterns[i]] = arg
			}

			est, err := newEstimator(cmd.Context(), env, estimator, b.set, reg)
			if err != nil {
				return err
			}
			scorer := planner.NewLeastEntries(est)
			vars := boundVars(bound)
			ordered, err := planner.Order(cmd.Context(), scorer, patterns, vars)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Join order (%s estimates):\n", estimator)
			for i, p := range ordered {
				score, err := scorer.Score(cmd.Context(), p, vars)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "  %d. %s  [%s]\n", i+1, labels[p], humanize.CommafWithDigits(float64(score), 2))
				vars = vars.With(p)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&data, "data", nil, "N-Triples file to index (repeatable)")
	cmd.Flags().StringVar(&estimator, "estimator", "", "probe, histogram, static or peer")
	cmd.Flags().StringSliceVar(&bound, "bound", nil, "variables bound before the first pattern")
	return cmd
}

func boundVars(names []string) planner.Bound {
	b := planner.Bound{}
	for _, n := range names {
		b[strings.TrimPrefix(n, "?")] = true
	}
	return b
}

// resolvePattern maps bound terms to global IDs. Terms missing from the
// dictionary stay NoID and match nothing.
func resolvePattern(g *dictionary.GlobalIDs, raw triple.Raw) triple.Pattern {
	var cs [3]triple.Component
	for i, term := range raw {
		if strings.HasPrefix(term, "?") {
			cs[i] = triple.Var(term[1:])
			continue
		}
		id, _ := g.Lookup(term)
		cs[i] = triple.Bound(id)
	}
	return triple.NewPattern(cs[0], cs[1], cs[2])
}

func newEstimator(ctx context.Context, env *environment, name string, set *build.IndexSet, reg prometheus.Registerer) (planner.Estimator, error) {
	switch name {
	case estimatorProbe:
		return planner.ProbeEstimator{Set: set}, nil
	case estimatorHistogram:
		return planner.HistogramEstimator{Set: set}, nil
	case estimatorStatic:
		return planner.StaticEstimator{Total: float64(set.Triples)}, nil
	case estimatorPeer:
		s, err := env.cfg.Strategy()
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, errors.New("peer estimates need distribution.peers")
		}
		cluster, err := distribute(ctx, s, set)
		if err != nil {
			return nil, err
		}
		opts := env.cfg.GatherOptions()
		opts.Logger = env.log
		opts.Metrics = distribution.NewMetrics(reg)
		return planner.PeerEstimator{
			Strategy:  s,
			Requester: cluster,
			Options:   opts,
			Fallback:  planner.HistogramEstimator{Set: set},
		}, nil
	}
	return nil, fmt.Errorf("unknown estimator %q", name)
}

// distribute places every triple of set on an in-process cluster
func distribute(ctx context.Context, s *distribution.Strategy, set *build.IndexSet) (*distribution.LocalCluster, error) {
	order := set.Collations()[0]
	c, _ := set.Container(order)
	it, err := index.All(c)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	cluster := distribution.NewLocalCluster(s, set.Collations())
	for i := 0; it.Next(); i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := cluster.Add(triple.Triple{IDs: order.Restore(it.Key())}); err != nil {
			return nil, err
		}
	}
	return cluster, it.Err()
}
