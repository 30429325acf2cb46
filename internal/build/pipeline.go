// Package build runs index construction: producers feed triple blocks into
// per-run dictionaries, the dictionaries are merged into one global ID
// space, and sorted containers plus histograms are generated for every
// configured collation order.
package build

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aleksaelezovic/tristore/internal/dictionary"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/trie"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

// Block is a batch of raw triples handed over by a producer. The pipeline
// takes ownership of the block. Blocks may arrive in any order and from
// several goroutines.
type Block struct {
	Triples []triple.Raw
	// Index is the block's position in the input
	Index int
	// MaxLocalID is an upper bound hint for the run's local IDs, 0 if unknown
	MaxLocalID int
	Run        int
}

// DictionaryConsumer receives each run dictionary once ingestion ends. The
// trie is read-only.
type DictionaryConsumer interface {
	GenerateDictionary(ctx context.Context, run int, dict *trie.Trie) error
}

// GlobalIDConsumer receives the merged global ID map
type GlobalIDConsumer interface {
	GenerateGlobalIDs(ctx context.Context, global *dictionary.GlobalIDs) error
}

// IndexConsumer is notified exactly once, after every container and
// histogram of a run is complete
type IndexConsumer interface {
	IndicesConstructed(ctx context.Context, set *IndexSet) error
}

// Config selects what a run materializes
type Config struct {
	Collations []index.Collation
	Histograms []HistogramSpec
	Mode       dictionary.Mode
	TrieKind   trie.Kind
}

// Validate checks the configuration
func (c Config) Validate() error {
	if len(c.Collations) == 0 {
		return ErrNoCollations
	}
	seen := make(map[index.Collation]bool, len(c.Collations))
	for _, order := range c.Collations {
		if !order.Valid() {
			return fmt.Errorf("build: invalid collation order %d", order)
		}
		if seen[order] {
			return fmt.Errorf("build: collation order %s listed twice", order)
		}
		seen[order] = true
	}
	for _, h := range c.Histograms {
		if !h.Order.Valid() || h.Width < 1 || h.Width > 3 {
			return fmt.Errorf("build: invalid histogram %s/%d", h.Order, h.Width)
		}
	}
	return nil
}

// Option configures a Pipeline
type Option func(*Pipeline)

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithBackend(b Backend) Option {
	return func(p *Pipeline) { p.backend = b }
}

// WithCatalog publishes the run's index set into c on success
func WithCatalog(c *Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

func WithDictionaryConsumer(c DictionaryConsumer) Option {
	return func(p *Pipeline) { p.dictConsumers = append(p.dictConsumers, c) }
}

func WithGlobalIDConsumer(c GlobalIDConsumer) Option {
	return func(p *Pipeline) { p.globalConsumers = append(p.globalConsumers, c) }
}

func WithIndexConsumer(c IndexConsumer) Option {
	return func(p *Pipeline) { p.indexConsumers = append(p.indexConsumers, c) }
}

// Pipeline is one index construction run
type Pipeline struct {
	cfg             Config
	id              string
	log             *zap.Logger
	metrics         *Metrics
	backend         Backend
	catalog         *Catalog
	dictConsumers   []DictionaryConsumer
	globalConsumers []GlobalIDConsumer
	indexConsumers  []IndexConsumer

	barrier  *barrier
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelCauseFunc

	mu         sync.Mutex
	phase      Phase
	phaseStart time.Time
	running    bool
	runs       map[int]*runState

	finish sync.Once
	done   chan struct{}
	result *IndexSet
	err    error
}

type runState struct {
	dict    *dictionary.Dictionary
	mu      sync.Mutex
	triples []triple.Triple
}

// NewPipeline creates an idle pipeline
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	p := &Pipeline{
		cfg:        cfg,
		id:         uuid.NewString(),
		log:        zap.NewNop(),
		backend:    MemoryBackend{},
		barrier:    newBarrier(),
		ctx:        ctx,
		cancel:     cancel,
		phase:      Idle,
		phaseStart: time.Now(),
		runs:       make(map[int]*runState),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("build", p.id))
	return p, nil
}

// ID returns the run identifier, also used as the version of its index set
func (p *Pipeline) ID() string {
	return p.id
}

// Phase returns the current phase
func (p *Pipeline) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Producer registers a logical producer. All producers must be registered
// before the first block is consumed.
func (p *Pipeline) Producer() (*Producer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != Idle || !p.barrier.add() {
		return nil, ErrLateProducer
	}
	return &Producer{p: p}, nil
}

// Producer feeds blocks into a pipeline. Its methods may be called from
// several goroutines, but EndOfProcessing must not race with a pending
// ConsumeTriplesBlock of the same producer.
type Producer struct {
	p        *Pipeline
	finished atomic.Bool
}

// ConsumeTriplesBlock interns the block's literals into the run dictionary.
// Cancelling ctx or passing an invalid block aborts the whole construction
// run.
func (pr *Producer) ConsumeTriplesBlock(ctx context.Context, b Block) error {
	p := pr.p
	if pr.finished.Load() {
		return ErrProducerDone
	}
	if err := ctx.Err(); err != nil {
		p.abort(err)
		return err
	}
	if err := checkBlock(b); err != nil {
		p.abort(err)
		return err
	}

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return context.Cause(p.ctx)
	}
	switch p.phase {
	case Idle:
		p.enterLocked(Ingesting)
	case Ingesting:
	default:
		phase := p.phase
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPhase, phase)
	}
	rs, ok := p.runs[b.Run]
	if !ok {
		rs = &runState{dict: dictionary.New(b.Run, trie.WithKind(p.cfg.TrieKind))}
		p.runs[b.Run] = rs
	}
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	if b.MaxLocalID > 0 {
		rs.dict.Reserve(b.MaxLocalID)
	}
	local := make([]triple.Triple, len(b.Triples))
	for i, raw := range b.Triples {
		local[i] = triple.Triple{IDs: rs.dict.InternTriple(raw), Block: b.Index, Run: b.Run}
	}

	rs.mu.Lock()
	rs.triples = append(rs.triples, local...)
	rs.mu.Unlock()

	p.metrics.block(len(b.Triples))
	return nil
}

func checkBlock(b Block) error {
	if b.Run < 0 || b.Index < 0 {
		return fmt.Errorf("%w: run %d, index %d", ErrInvalidBlock, b.Run, b.Index)
	}
	for _, raw := range b.Triples {
		for pos, term := range raw {
			if term == "" {
				return fmt.Errorf("%w: block %d has an empty %s", ErrInvalidBlock, b.Index, triple.Position(pos))
			}
		}
	}
	return nil
}

// EndOfProcessing marks the producer as finished. When the last producer
// finishes, the remaining phases start in the background.
func (pr *Producer) EndOfProcessing() {
	if !pr.finished.CompareAndSwap(false, true) {
		return
	}
	if pr.p.barrier.arrive() {
		go pr.p.run()
	}
}

// Wait blocks until the run is done and returns its index set. Cancelling
// ctx aborts the run.
func (p *Pipeline) Wait(ctx context.Context) (*IndexSet, error) {
	if p.barrier.size() == 0 {
		return nil, &PhaseError{Phase: p.Phase(), Err: ErrNoProducers}
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		p.abort(context.Cause(ctx))
		<-p.done
	}
	return p.result, p.err
}

// Cancel aborts the run
func (p *Pipeline) Cancel() {
	p.abort(context.Canceled)
}

func (p *Pipeline) abort(err error) {
	p.cancel(err)
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		p.fail(err)
	}
}

// enterLocked moves to the next phase. p.mu must be held.
func (p *Pipeline) enterLocked(next Phase) {
	now := time.Now()
	prev := p.phase
	if prev != Idle {
		p.metrics.phase(prev, now.Sub(p.phaseStart))
		p.log.Debug("phase finished", zap.Stringer("phase", prev), zap.Duration("took", now.Sub(p.phaseStart)))
	}
	p.phase = next
	p.phaseStart = now
	p.log.Info("phase started", zap.Stringer("phase", next))
}

func (p *Pipeline) enter(ctx context.Context, next Phase) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enterLocked(next)
	return nil
}

func (p *Pipeline) run() {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	set, err := p.construct(p.ctx)
	if err != nil {
		if cause := context.Cause(p.ctx); cause != nil {
			err = cause
		}
		p.fail(err)
		return
	}

	p.finish.Do(func() {
		p.mu.Lock()
		p.enterLocked(Done)
		p.mu.Unlock()
		p.result = set
		p.metrics.run(Done)
		p.log.Info("index construction finished",
			zap.String("triples", humanize.Comma(int64(set.Triples))),
			zap.Int("literals", set.Global.Len()))
		close(p.done)
	})
}

func (p *Pipeline) fail(err error) {
	p.finish.Do(func() {
		p.mu.Lock()
		phase := p.phase
		p.enterLocked(Failed)
		runs := p.runs
		p.runs = nil
		p.mu.Unlock()
		p.inflight.Wait()

		for _, rs := range runs {
			rs.dict.Release()
		}
		if derr := p.backend.Discard(p.id); derr != nil {
			p.log.Warn("failed to discard containers", zap.Error(derr))
		}
		p.err = &PhaseError{Phase: phase, Err: err}
		p.metrics.run(Failed)
		p.log.Error("index construction failed", zap.Stringer("phase", phase), zap.Error(err))
		close(p.done)
	})
}

func (p *Pipeline) construct(ctx context.Context) (*IndexSet, error) {
	if err := p.enter(ctx, DictionaryBuilding); err != nil {
		return nil, err
	}
	p.inflight.Wait()

	p.mu.Lock()
	runs := make([]*runState, 0, len(p.runs))
	for _, rs := range p.runs {
		runs = append(runs, rs)
	}
	p.mu.Unlock()
	slices.SortFunc(runs, func(a, b *runState) int {
		return a.dict.Run() - b.dict.Run()
	})

	dicts := make([]*dictionary.Dictionary, len(runs))
	for i, rs := range runs {
		dicts[i] = rs.dict
		p.log.Debug("run dictionary complete",
			zap.Int("run", rs.dict.Run()),
			zap.Int("literals", rs.dict.Len()),
			zap.Int("triples", len(rs.triples)))
		for _, c := range p.dictConsumers {
			if err := c.GenerateDictionary(ctx, rs.dict.Run(), rs.dict.Trie()); err != nil {
				return nil, fmt.Errorf("dictionary consumer: %w", err)
			}
		}
	}

	if err := p.enter(ctx, Globalizing); err != nil {
		return nil, err
	}
	global, err := dictionary.Globalize(ctx, dicts, p.cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("globalize: %w", err)
	}
	p.metrics.globalLiterals(global.Len())
	p.log.Info("global dictionary built",
		zap.Int("runs", global.Runs()),
		zap.String("literals", humanize.Comma(int64(global.Len()))))
	for _, c := range p.globalConsumers {
		if err := c.GenerateGlobalIDs(ctx, global); err != nil {
			return nil, fmt.Errorf("global id consumer: %w", err)
		}
	}

	triples, err := remap(ctx, global, runs)
	if err != nil {
		return nil, err
	}
	// Local state is no longer needed once triples carry global IDs.
	p.mu.Lock()
	p.runs = nil
	p.mu.Unlock()
	for _, d := range dicts {
		d.Release()
	}

	if err := p.enter(ctx, IndexGenerating); err != nil {
		return nil, err
	}
	set, err := p.generate(ctx, global, triples)
	if err != nil {
		return nil, err
	}
	for _, c := range p.indexConsumers {
		if err := c.IndicesConstructed(ctx, set); err != nil {
			return nil, fmt.Errorf("index consumer: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.catalog != nil {
		p.catalog.Publish(set)
	}
	return set, nil
}

func remap(ctx context.Context, global *dictionary.GlobalIDs, runs []*runState) ([][3]triple.ID, error) {
	n := 0
	for _, rs := range runs {
		n += len(rs.triples)
	}
	out := make([][3]triple.ID, 0, n)
	for _, rs := range runs {
		run := rs.dict.Run()
		for i, t := range rs.triples {
			if i%checkEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			var ids [3]triple.ID
			for pos, local := range t.IDs {
				id, ok := global.Remap(run, local)
				if !ok {
					return nil, fmt.Errorf("run %d block %d: local id %d has no global id", run, t.Block, local)
				}
				ids[pos] = id
			}
			out = append(out, ids)
		}
		rs.triples = nil
	}
	return out, nil
}
