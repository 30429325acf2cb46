package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/tristore/internal/dictionary"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/trie"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	fail   string
}

func (r *recorder) record(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if event == r.fail {
		return errors.New("consumer refused " + event)
	}
	return nil
}

func (r *recorder) GenerateDictionary(_ context.Context, run int, dict *trie.Trie) error {
	return r.record(fmt.Sprintf("dictionary:%d", run))
}

func (r *recorder) GenerateGlobalIDs(_ context.Context, global *dictionary.GlobalIDs) error {
	return r.record("global")
}

func (r *recorder) IndicesConstructed(_ context.Context, set *IndexSet) error {
	return r.record("indices")
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testConfig() Config {
	return Config{
		Collations: []index.Collation{index.SPO, index.POS, index.OSP},
		Histograms: []HistogramSpec{{Order: index.PSO, Width: 1}, {Order: index.SPO, Width: 2}},
	}
}

func raw(s, p, o string) triple.Raw {
	return triple.Raw{s, p, o}
}

func newPipeline(t *testing.T, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestPipelineBuildsAllOrders(t *testing.T) {
	rec := &recorder{}
	catalog := NewCatalog()
	p := newPipeline(t, testConfig(),
		WithDictionaryConsumer(rec),
		WithGlobalIDConsumer(rec),
		WithIndexConsumer(rec),
		WithCatalog(catalog),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
	)

	a, err := p.Producer()
	require.NoError(t, err)
	b, err := p.Producer()
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, a.ConsumeTriplesBlock(ctx, Block{Index: 1, Run: 0, Triples: []triple.Raw{
			raw("<b>", "<knows>", "<c>"),
		}}))
		assert.NoError(t, a.ConsumeTriplesBlock(ctx, Block{Index: 0, Run: 0, MaxLocalID: 8, Triples: []triple.Raw{
			raw("<a>", "<knows>", "<b>"),
			raw("<a>", "<name>", `"Alice"`),
		}}))
		a.EndOfProcessing()
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, b.ConsumeTriplesBlock(ctx, Block{Index: 0, Run: 1, Triples: []triple.Raw{
			raw("<a>", "<knows>", "<b>"),
			raw("<c>", "<name>", `"Carol"`),
		}}))
		b.EndOfProcessing()
	}()
	wg.Wait()

	set, err := p.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, Done, p.Phase())
	require.Same(t, set, catalog.Current())
	require.Equal(t, p.ID(), set.Version)

	// The duplicate (<a> <knows> <b>) across runs collapses to one key.
	require.Equal(t, 4, set.Triples)
	require.Equal(t, []index.Collation{index.SPO, index.POS, index.OSP}, set.Collations())
	for _, order := range set.Collations() {
		c, ok := set.Container(order)
		require.True(t, ok)
		require.Equal(t, 4, c.Size())
	}

	global := set.Global
	id := func(lit string) triple.ID {
		v, ok := global.Lookup(lit)
		require.True(t, ok, lit)
		return v
	}
	spo, _ := set.Container(index.SPO)
	_, ok, err := spo.Get(index.Key{id("<a>"), id("<knows>"), id("<b>")})
	require.NoError(t, err)
	require.True(t, ok)

	pso, ok := set.Histogram(index.PSO, 1)
	require.True(t, ok)
	n, err := index.HistogramCount(pso, index.Key{id("<knows>")})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	events := rec.Events()
	require.ElementsMatch(t, []string{"dictionary:0", "dictionary:1"}, events[:2])
	require.Equal(t, []string{"global", "indices"}, events[2:])
}

func TestPipelineRejectsLateProducer(t *testing.T) {
	p := newPipeline(t, testConfig())
	a, err := p.Producer()
	require.NoError(t, err)
	require.NoError(t, a.ConsumeTriplesBlock(context.Background(), Block{Triples: []triple.Raw{raw("<a>", "<b>", "<c>")}}))

	_, err = p.Producer()
	require.ErrorIs(t, err, ErrLateProducer)

	a.EndOfProcessing()
	require.ErrorIs(t, a.ConsumeTriplesBlock(context.Background(), Block{}), ErrProducerDone)
	_, err = p.Wait(context.Background())
	require.NoError(t, err)
}

func TestPipelineWithoutProducers(t *testing.T) {
	p := newPipeline(t, testConfig())
	_, err := p.Wait(context.Background())
	require.ErrorIs(t, err, ErrNoProducers)
}

func TestPipelineRejectsInvalidBlock(t *testing.T) {
	p := newPipeline(t, testConfig())
	a, err := p.Producer()
	require.NoError(t, err)

	err = a.ConsumeTriplesBlock(context.Background(), Block{Triples: []triple.Raw{raw("<a>", "", "<c>")}})
	require.ErrorIs(t, err, ErrInvalidBlock)
	err = a.ConsumeTriplesBlock(context.Background(), Block{Run: -1})
	require.ErrorIs(t, err, ErrInvalidBlock)
}

func TestPipelineInvalidBlockAbortsRun(t *testing.T) {
	catalog := NewCatalog()
	p := newPipeline(t, testConfig(), WithCatalog(catalog))
	a, _ := p.Producer()
	ctx := context.Background()

	require.NoError(t, a.ConsumeTriplesBlock(ctx, Block{Triples: []triple.Raw{raw("<a>", "<b>", "<c>")}}))
	// The caller drops the error and keeps going.
	_ = a.ConsumeTriplesBlock(ctx, Block{Index: 1, Triples: []triple.Raw{raw("<d>", "<e>", "")}})
	a.EndOfProcessing()

	set, err := p.Wait(ctx)
	require.Nil(t, set)
	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, Ingesting, perr.Phase)
	require.ErrorIs(t, err, ErrInvalidBlock)
	require.Equal(t, Failed, p.Phase())
	require.Nil(t, catalog.Current())
}

func TestPipelineConsumerFailureAborts(t *testing.T) {
	rec := &recorder{fail: "global"}
	catalog := NewCatalog()
	p := newPipeline(t, testConfig(), WithGlobalIDConsumer(rec), WithIndexConsumer(rec), WithCatalog(catalog))

	a, _ := p.Producer()
	require.NoError(t, a.ConsumeTriplesBlock(context.Background(), Block{Triples: []triple.Raw{raw("<a>", "<b>", "<c>")}}))
	a.EndOfProcessing()

	_, err := p.Wait(context.Background())
	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, Globalizing, perr.Phase)
	require.Equal(t, Failed, p.Phase())
	require.Nil(t, catalog.Current())
	require.NotContains(t, rec.Events(), "indices")
}

// failingBackend hands out containers that fail on write for one order
type failingBackend struct {
	order     index.Collation
	mu        sync.Mutex
	discarded []string
}

type brokenContainer struct {
	*index.Memory
}

func (brokenContainer) Put(index.Key, index.Value) error {
	return errors.New("disk full")
}

func (brokenContainer) BulkLoad([]index.Entry) error {
	return errors.New("disk full")
}

func (b *failingBackend) NewContainer(version string, order index.Collation) (index.Container, error) {
	if order == b.order {
		return brokenContainer{index.NewMemory(order)}, nil
	}
	return index.NewMemory(order), nil
}

func (b *failingBackend) Discard(version string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discarded = append(b.discarded, version)
	return nil
}

func TestPipelineContainerFailureKeepsPublishedSet(t *testing.T) {
	catalog := NewCatalog()
	ctx := context.Background()

	first := newPipeline(t, testConfig(), WithCatalog(catalog))
	a, _ := first.Producer()
	require.NoError(t, a.ConsumeTriplesBlock(ctx, Block{Triples: []triple.Raw{raw("<a>", "<b>", "<c>")}}))
	a.EndOfProcessing()
	published, err := first.Wait(ctx)
	require.NoError(t, err)

	backend := &failingBackend{order: index.POS}
	second := newPipeline(t, testConfig(), WithCatalog(catalog), WithBackend(backend))
	b, _ := second.Producer()
	require.NoError(t, b.ConsumeTriplesBlock(ctx, Block{Triples: []triple.Raw{raw("<x>", "<y>", "<z>")}}))
	b.EndOfProcessing()

	_, err = second.Wait(ctx)
	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, IndexGenerating, perr.Phase)
	require.ErrorContains(t, err, "disk full")

	require.Same(t, published, catalog.Current())
	require.Equal(t, []string{first.ID()}, catalog.Versions())
	spo, _ := published.Container(index.SPO)
	require.Equal(t, 1, spo.Size())
	require.Equal(t, []string{second.ID()}, backend.discarded)
}

func TestPipelineCancelDuringIngestion(t *testing.T) {
	catalog := NewCatalog()
	p := newPipeline(t, testConfig(), WithCatalog(catalog))
	a, _ := p.Producer()
	require.NoError(t, a.ConsumeTriplesBlock(context.Background(), Block{Triples: []triple.Raw{raw("<a>", "<b>", "<c>")}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx)
	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, Ingesting, perr.Phase)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Late blocks and the last arrival do not resurrect the run.
	err = a.ConsumeTriplesBlock(context.Background(), Block{Triples: []triple.Raw{raw("<d>", "<e>", "<f>")}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	a.EndOfProcessing()
	require.Equal(t, Failed, p.Phase())
	require.Nil(t, catalog.Current())
}

func TestPipelineProducerContextCancelled(t *testing.T) {
	p := newPipeline(t, testConfig())
	a, _ := p.Producer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.ConsumeTriplesBlock(ctx, Block{Triples: []triple.Raw{raw("<a>", "<b>", "<c>")}})
	require.ErrorIs(t, err, context.Canceled)

	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipelineEmptyInput(t *testing.T) {
	p := newPipeline(t, testConfig())
	a, _ := p.Producer()
	a.EndOfProcessing()
	a.EndOfProcessing()

	set, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Zero(t, set.Triples)
	require.Zero(t, set.Global.Len())
}

func TestPipelineBadgerBackend(t *testing.T) {
	store, err := index.OpenBadger("")
	require.NoError(t, err)
	defer store.Close()

	cfg := testConfig()
	cfg.Mode = dictionary.NoCodeMap
	cfg.TrieKind = trie.KindPaged
	p := newPipeline(t, cfg, WithBackend(BadgerBackend{Store: store}))
	a, _ := p.Producer()
	require.NoError(t, a.ConsumeTriplesBlock(context.Background(), Block{Triples: []triple.Raw{
		raw("<a>", "<b>", "<c>"),
		raw("<a>", "<b>", "<d>"),
	}}))
	a.EndOfProcessing()

	set, err := p.Wait(context.Background())
	require.NoError(t, err)
	osp, ok := set.Container(index.OSP)
	require.True(t, ok)
	require.Equal(t, 2, osp.Size())

	lit, ok := set.Global.Literal(1)
	require.True(t, ok)
	require.Equal(t, "<a>", lit)
}

// brokenBadger fails writes for one order and drops through the store
type brokenBadger struct {
	BadgerBackend
	order index.Collation
}

func (b brokenBadger) NewContainer(version string, order index.Collation) (index.Container, error) {
	if order == b.order {
		return brokenContainer{index.NewMemory(order)}, nil
	}
	return b.BadgerBackend.NewContainer(version, order)
}

func TestPipelineBadgerFailureSparesConcurrentRun(t *testing.T) {
	store, err := index.OpenBadger("")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	var triples []triple.Raw
	for i := 0; i < 500; i++ {
		triples = append(triples, raw(fmt.Sprintf("<s%d>", i%40), fmt.Sprintf("<p%d>", i%5), fmt.Sprintf("<o%d>", i)))
	}
	start := func(backend Backend) *Pipeline {
		p := newPipeline(t, testConfig(), WithBackend(backend))
		a, err := p.Producer()
		require.NoError(t, err)
		require.NoError(t, a.ConsumeTriplesBlock(ctx, Block{Triples: triples}))
		a.EndOfProcessing()
		return p
	}

	for round := 0; round < 5; round++ {
		good := start(BadgerBackend{Store: store})
		bad := start(brokenBadger{BadgerBackend: BadgerBackend{Store: store}, order: index.OSP})

		_, err := bad.Wait(ctx)
		require.ErrorContains(t, err, "disk full")

		set, err := good.Wait(ctx)
		require.NoError(t, err, "round %d", round)
		for _, order := range set.Collations() {
			c, _ := set.Container(order)
			require.Equal(t, 500, c.Size())
		}
		h, ok := set.Histogram(index.PSO, 1)
		require.True(t, ok)
		n, err := index.Count(h, nil)
		require.NoError(t, err)
		require.Equal(t, 5, n)
	}
}

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, Config{}.Validate(), ErrNoCollations)
	require.Error(t, Config{Collations: []index.Collation{index.SPO, index.SPO}}.Validate())
	require.Error(t, Config{
		Collations: []index.Collation{index.SPO},
		Histograms: []HistogramSpec{{Order: index.SPO, Width: 4}},
	}.Validate())
}
