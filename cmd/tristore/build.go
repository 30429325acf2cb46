package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aleksaelezovic/tristore/internal/build"
	"github.com/aleksaelezovic/tristore/internal/config"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/ntriples"
)

func newBuildCommand(env *environment) *cobra.Command {
	var (
		backend     string
		path        string
		exportDir   string
		blockSize   int
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "build <file.nt>...",
		Short: "Construct indices from N-Triples files, one run per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("backend") {
				env.cfg.Storage.Backend = backend
			}
			if flags.Changed("path") {
				env.cfg.Storage.Path = path
			}
			if flags.Changed("block-size") {
				env.cfg.Index.BlockSize = blockSize
			}
			if err := env.cfg.Validate(); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			b, err := runBuild(cmd.Context(), env.cfg, args, env.log, build.NewMetrics(reg))
			if err != nil {
				return err
			}
			defer b.Close()

			printSummary(cmd.OutOrStdout(), b.set)
			if exportDir != "" {
				if err := exportSet(b.set, exportDir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported containers to %s\n", exportDir)
			}
			if showMetrics {
				return writeMetrics(cmd.OutOrStdout(), reg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", config.BackendMemory, "container backend: memory or badger")
	cmd.Flags().StringVar(&path, "path", "", "badger directory (empty keeps badger in memory)")
	cmd.Flags().StringVar(&exportDir, "export", "", "write every container to this directory")
	cmd.Flags().IntVar(&blockSize, "block-size", ntriples.DefaultBlockSize, "triples per block")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print construction metrics")
	return cmd
}

// builtSet is a published index set plus the store backing it
type builtSet struct {
	set   *build.IndexSet
	store *index.BadgerStore
}

func (b *builtSet) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}

// runBuild feeds every file to its own producer and run, concurrently
func runBuild(ctx context.Context, cfg config.Config, files []string, log *zap.Logger, m *build.Metrics) (*builtSet, error) {
	bc, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	out := &builtSet{}
	var backend build.Backend = build.MemoryBackend{}
	if cfg.Storage.Backend == config.BackendBadger {
		store, err := index.OpenBadger(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		out.store = store
		backend = build.BadgerBackend{Store: store}
	}

	p, err := build.NewPipeline(bc,
		build.WithLogger(log),
		build.WithMetrics(m),
		build.WithBackend(backend),
	)
	if err != nil {
		out.Close()
		return nil, err
	}

	producers := make([]*build.Producer, len(files))
	for i := range files {
		if producers[i], err = p.Producer(); err != nil {
			out.Close()
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			if err := ingestFile(gctx, producers[i], file, i, cfg.Index.BlockSize); err != nil {
				p.Cancel()
				return err
			}
			return nil
		})
	}
	ingestErr := g.Wait()

	set, err := p.Wait(ctx)
	if ingestErr != nil {
		err = ingestErr
	}
	if err != nil {
		out.Close()
		return nil, err
	}
	out.set = set
	return out, nil
}

func ingestFile(ctx context.Context, pr *build.Producer, file string, run, blockSize int) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	r := ntriples.NewReader(f, ntriples.WithBlockSize(blockSize), ntriples.WithRun(run))
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if err := pr.ConsumeTriplesBlock(ctx, b); err != nil {
			return err
		}
	}
	pr.EndOfProcessing()
	return nil
}

func printSummary(w io.Writer, set *build.IndexSet) {
	fmt.Fprintf(w, "Index set %s\n", set.Version)
	fmt.Fprintf(w, "  triples:  %s\n", humanize.Comma(int64(set.Triples)))
	fmt.Fprintf(w, "  literals: %s\n", humanize.Comma(int64(set.Global.Len())))
	for _, order := range set.Collations() {
		c, _ := set.Container(order)
		fmt.Fprintf(w, "  %-14s %s entries\n", order.String()+":", humanize.Comma(int64(c.Size())))
	}
	for _, spec := range set.Histograms() {
		h, _ := set.Histogram(spec.Order, spec.Width)
		fmt.Fprintf(w, "  %-14s %s keys\n", fmt.Sprintf("%s/%d:", spec.Order, spec.Width), humanize.Comma(int64(h.Size())))
	}
}

// exportSet encodes each container into dir as ORDER.trix, histograms as
// ORDER.hWIDTH.trix
func exportSet(set *build.IndexSet, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	write := func(name string, c index.Container) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := index.Encode(f, c); err != nil {
			f.Close()
			return fmt.Errorf("export %s: %w", name, err)
		}
		return f.Close()
	}
	for _, order := range set.Collations() {
		c, _ := set.Container(order)
		if err := write(order.String()+".trix", c); err != nil {
			return err
		}
	}
	for _, spec := range set.Histograms() {
		h, _ := set.Histogram(spec.Order, spec.Width)
		if err := write(fmt.Sprintf("%s.h%d.trix", spec.Order, spec.Width), h); err != nil {
			return err
		}
	}
	return nil
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
