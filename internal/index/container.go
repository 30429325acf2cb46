// Package index provides the sorted containers produced by index
// construction: one container per collation order, plus derived histogram
// containers used for cardinality estimation.
package index

import (
	"errors"
	"fmt"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

var (
	ErrNotFound   = errors.New("index: key not found")
	ErrSealed     = errors.New("index: container is sealed")
	ErrKeyWidth   = errors.New("index: key width mismatch")
	ErrNoSupport  = errors.New("index: histogram index not supported")
	ErrCorrupt    = errors.New("index: corrupt container encoding")
	ErrBadVersion = errors.New("index: unsupported encoding version")
)

// Key is an ordered tuple of IDs
type Key []triple.ID

// Value holds the IDs stored with a key
type Value []triple.ID

// Compare orders keys component-wise; a proper prefix sorts first
func Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// HasPrefix reports whether k starts with prefix
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Entry is one key/value pair of a container
type Entry struct {
	Key   Key
	Value Value
}

// Container is a sorted associative structure keyed by ID tuples.
// Keys are unique and iterate in ascending order.
type Container interface {
	// Order returns the collation order of the keys
	Order() Collation

	// Width returns the number of IDs per key
	Width() int

	// Put stores a key/value pair, replacing an existing value
	Put(key Key, value Value) error

	// Get returns the value for key. A miss is reported as ok == false.
	Get(key Key) (value Value, ok bool, err error)

	// Size returns the number of keys
	Size() int

	// Scan iterates over keys starting with prefix in ascending order.
	// A nil prefix scans the whole container.
	Scan(prefix Key) (Iterator, error)

	// CreatesHistogramIndex reports whether CreateHistogramIndex is supported
	CreatesHistogramIndex() bool

	// CreateHistogramIndex derives a container mapping width-long key
	// prefixes in the given order to occurrence counts. The receiver is
	// not modified.
	CreateHistogramIndex(order Collation, width int) (Container, error)

	// Seal marks the container read-only
	Seal()
}

// BulkLoader is implemented by containers that accept sorted batches faster
// than individual puts
type BulkLoader interface {
	BulkLoad(entries []Entry) error
}

// Iterator iterates over container entries
type Iterator interface {
	// Next advances to the next entry
	Next() bool

	// Key returns the current key
	Key() Key

	// Value returns the current value
	Value() Value

	// Err returns the first error hit while iterating
	Err() error

	// Close releases resources held by the iterator
	Close() error
}

// All returns an ascending iterator over the whole container
func All(c Container) (Iterator, error) {
	return c.Scan(nil)
}

// Load stores entries into c, using BulkLoad when available
func Load(c Container, entries []Entry) error {
	if bl, ok := c.(BulkLoader); ok {
		return bl.BulkLoad(entries)
	}
	for _, e := range entries {
		if err := c.Put(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of keys starting with prefix
func Count(c Container, prefix Key) (int, error) {
	it, err := c.Scan(prefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// HistogramCount returns the occurrence count a histogram container holds
// for prefix, or 0 when the prefix never occurred.
func HistogramCount(h Container, prefix Key) (uint64, error) {
	v, ok, err := h.Get(prefix)
	if err != nil {
		return 0, err
	}
	if !ok || len(v) == 0 {
		return 0, nil
	}
	return uint64(v[0]), nil
}

func checkWidth(c Container, key Key) error {
	if len(key) != c.Width() {
		return fmt.Errorf("%w: got %d, container %s holds %d", ErrKeyWidth, len(key), c.Order(), c.Width())
	}
	return nil
}
