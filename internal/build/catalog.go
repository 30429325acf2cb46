package build

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aleksaelezovic/tristore/internal/dictionary"
	"github.com/aleksaelezovic/tristore/internal/index"
)

// HistogramSpec names a histogram container: counts of width-long key
// prefixes in the given order
type HistogramSpec struct {
	Order index.Collation
	Width int
}

// IndexSet is the output of one successful construction run. All
// containers are sealed; the set is safe for concurrent readers.
type IndexSet struct {
	Version    string
	Global     *dictionary.GlobalIDs
	Triples    int
	containers map[index.Collation]index.Container
	histograms map[HistogramSpec]index.Container
}

// Container returns the triple container for order
func (s *IndexSet) Container(order index.Collation) (index.Container, bool) {
	c, ok := s.containers[order]
	return c, ok
}

// Histogram returns the histogram container for order and width
func (s *IndexSet) Histogram(order index.Collation, width int) (index.Container, bool) {
	h, ok := s.histograms[HistogramSpec{Order: order, Width: width}]
	return h, ok
}

// Collations returns the materialized orders, sorted
func (s *IndexSet) Collations() []index.Collation {
	out := make([]index.Collation, 0, len(s.containers))
	for c := range s.containers {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Histograms returns the materialized histogram specs
func (s *IndexSet) Histograms() []HistogramSpec {
	out := make([]HistogramSpec, 0, len(s.histograms))
	for h := range s.histograms {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b HistogramSpec) int {
		if a.Order != b.Order {
			return int(a.Order) - int(b.Order)
		}
		return a.Width - b.Width
	})
	return out
}

// Catalog publishes index sets. Readers always see a complete set: the
// current set is swapped atomically and failed runs never reach the catalog.
type Catalog struct {
	current atomic.Pointer[IndexSet]

	mu       sync.RWMutex
	versions map[string]*IndexSet
	order    []string
}

func NewCatalog() *Catalog {
	return &Catalog{versions: make(map[string]*IndexSet)}
}

// Publish makes set the current one
func (c *Catalog) Publish(set *IndexSet) {
	c.mu.Lock()
	if _, ok := c.versions[set.Version]; !ok {
		c.order = append(c.order, set.Version)
	}
	c.versions[set.Version] = set
	c.mu.Unlock()
	c.current.Store(set)
}

// Current returns the last published set, or nil
func (c *Catalog) Current() *IndexSet {
	return c.current.Load()
}

// Get returns a published set by version
func (c *Catalog) Get(version string) (*IndexSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.versions[version]
	return s, ok
}

// Versions lists published versions in publication order
func (c *Catalog) Versions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}
