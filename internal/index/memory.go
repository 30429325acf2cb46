package index

import (
	"sync/atomic"

	"github.com/google/btree"
)

const (
	btreeDegree  = 32
	scanPageSize = 256
)

// Memory is a RAM-resident container backed by a B-tree. Writes must not
// run concurrently with anything else; once sealed, it serves any number of
// concurrent readers.
type Memory struct {
	order     Collation
	width     int
	histogram bool
	sealed    atomic.Bool
	tree      *btree.BTreeG[Entry]
}

var _ Container = (*Memory)(nil)
var _ BulkLoader = (*Memory)(nil)

// NewMemory creates an empty container for full triple keys in the given
// order
func NewMemory(order Collation) *Memory {
	return newMemory(order, 3, false)
}

func newMemory(order Collation, width int, histogram bool) *Memory {
	return &Memory{
		order:     order,
		width:     width,
		histogram: histogram,
		tree: btree.NewG(btreeDegree, func(a, b Entry) bool {
			return Compare(a.Key, b.Key) < 0
		}),
	}
}

func (m *Memory) Order() Collation { return m.order }

func (m *Memory) Width() int { return m.width }

// IsHistogram reports whether this container was derived as a histogram
func (m *Memory) IsHistogram() bool { return m.histogram }

func (m *Memory) Put(key Key, value Value) error {
	if m.sealed.Load() {
		return ErrSealed
	}
	if err := checkWidth(m, key); err != nil {
		return err
	}
	m.tree.ReplaceOrInsert(Entry{
		Key:   append(Key(nil), key...),
		Value: append(Value(nil), value...),
	})
	return nil
}

func (m *Memory) BulkLoad(entries []Entry) error {
	for _, e := range entries {
		if err := m.Put(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Get(key Key) (Value, bool, error) {
	e, ok := m.tree.Get(Entry{Key: key})
	if !ok {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (m *Memory) Size() int {
	return m.tree.Len()
}

func (m *Memory) Seal() {
	m.sealed.Store(true)
}

func (m *Memory) CreatesHistogramIndex() bool {
	return !m.histogram && m.width == 3
}

func (m *Memory) CreateHistogramIndex(order Collation, width int) (Container, error) {
	if !m.CreatesHistogramIndex() {
		return nil, ErrNoSupport
	}
	entries, err := histogramEntries(m, order, width)
	if err != nil {
		return nil, err
	}
	h := newMemory(order, width, true)
	if err := h.BulkLoad(entries); err != nil {
		return nil, err
	}
	h.Seal()
	return h, nil
}

// Scan pages through the tree lazily, resuming after the last key seen, so
// an iterator never holds the whole result.
func (m *Memory) Scan(prefix Key) (Iterator, error) {
	return &memoryIterator{
		tree:   m.tree,
		prefix: append(Key(nil), prefix...),
		from:   append(Key(nil), prefix...),
	}, nil
}

type memoryIterator struct {
	tree   *btree.BTreeG[Entry]
	prefix Key
	from   Key
	page   []Entry
	pos    int
	done   bool
	cur    *Entry
}

func (it *memoryIterator) fill() {
	it.page = it.page[:0]
	it.pos = 0
	skip := it.cur != nil
	it.tree.AscendGreaterOrEqual(Entry{Key: it.from}, func(e Entry) bool {
		if skip && Compare(e.Key, it.from) == 0 {
			return true
		}
		if !e.Key.HasPrefix(it.prefix) {
			it.done = true
			return false
		}
		it.page = append(it.page, e)
		return len(it.page) < scanPageSize
	})
	if len(it.page) < scanPageSize {
		it.done = true
	}
}

func (it *memoryIterator) Next() bool {
	if it.pos >= len(it.page) {
		if it.done {
			it.cur = nil
			return false
		}
		it.fill()
		if len(it.page) == 0 {
			it.cur = nil
			return false
		}
	}
	it.cur = &it.page[it.pos]
	it.pos++
	it.from = it.cur.Key
	return true
}

func (it *memoryIterator) Key() Key {
	if it.cur == nil {
		return nil
	}
	return it.cur.Key
}

func (it *memoryIterator) Value() Value {
	if it.cur == nil {
		return nil
	}
	return it.cur.Value
}

func (it *memoryIterator) Err() error { return nil }

func (it *memoryIterator) Close() error {
	it.page = nil
	it.done = true
	return nil
}
