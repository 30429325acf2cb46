package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

const idSize = 8

// BadgerStore holds persisted containers in one BadgerDB. Each container
// lives under its own key namespace, so a run can build a new version while
// readers scan an older one.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a BadgerDB-backed store. An empty path keeps the
// database in memory.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Sync flushes writes to disk
func (s *BadgerStore) Sync() error {
	return s.db.Sync()
}

func versionPrefix(version string) []byte {
	return []byte("ix/" + version + "/")
}

func containerPrefix(version string, order Collation, width int, histogram bool) []byte {
	kind := "t"
	if histogram {
		kind = fmt.Sprintf("h%d", width)
	}
	return append(versionPrefix(version), []byte(order.String()+"/"+kind+"/")...)
}

// Container opens the triple container of the given version and order,
// counting any keys already persisted under it.
func (s *BadgerStore) Container(version string, order Collation) (*Badger, error) {
	if !order.Valid() {
		return nil, fmt.Errorf("invalid collation order %d", order)
	}
	c := &Badger{
		store:   s,
		version: version,
		prefix:  containerPrefix(version, order, 3, false),
		order:   order,
		width:   3,
	}
	if err := c.recount(); err != nil {
		return nil, err
	}
	return c, nil
}

// Drop removes every container of a version. Writes to other versions
// keep going while it runs.
func (s *BadgerStore) Drop(version string) error {
	if err := s.deletePrefix(versionPrefix(version)); err != nil {
		return fmt.Errorf("failed to drop version %s: %w", version, err)
	}
	return nil
}

// dropBatch bounds how many keys one pass of deletePrefix collects
const dropBatch = 4096

// deletePrefix removes every key under prefix with a keys-only scan and a
// write batch. Unlike DropPrefix it leaves writes elsewhere in the DB
// unblocked.
func (s *BadgerStore) deletePrefix(prefix []byte) error {
	for {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < dropBatch; it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		wb := s.db.NewWriteBatch()
		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				wb.Cancel()
				return err
			}
		}
		if err := wb.Flush(); err != nil {
			return err
		}
		if len(keys) < dropBatch {
			return nil
		}
	}
}

// Badger is a container persisted in a BadgerStore. Storage failures are
// returned to the caller unchanged apart from wrapping; nothing is retried.
type Badger struct {
	store     *BadgerStore
	version   string
	prefix    []byte
	order     Collation
	width     int
	histogram bool
	size      atomic.Int64
	sealed    atomic.Bool
}

var _ Container = (*Badger)(nil)
var _ BulkLoader = (*Badger)(nil)

func (c *Badger) Order() Collation { return c.order }

func (c *Badger) Width() int { return c.width }

// IsHistogram reports whether this container was derived as a histogram
func (c *Badger) IsHistogram() bool { return c.histogram }

func (c *Badger) recount() error {
	return c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = c.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		var n int64
		for it.Seek(c.prefix); it.ValidForPrefix(c.prefix); it.Next() {
			n++
		}
		c.size.Store(n)
		return nil
	})
}

func (c *Badger) encodeKey(key Key) []byte {
	buf := make([]byte, len(c.prefix)+len(key)*idSize)
	copy(buf, c.prefix)
	for i, id := range key {
		binary.BigEndian.PutUint64(buf[len(c.prefix)+i*idSize:], uint64(id))
	}
	return buf
}

func decodeIDs(b []byte) ([]triple.ID, error) {
	if len(b)%idSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of IDs", ErrCorrupt, len(b))
	}
	ids := make([]triple.ID, len(b)/idSize)
	for i := range ids {
		ids[i] = triple.ID(binary.BigEndian.Uint64(b[i*idSize:]))
	}
	return ids, nil
}

func encodeValue(v Value) []byte {
	buf := make([]byte, len(v)*idSize)
	for i, id := range v {
		binary.BigEndian.PutUint64(buf[i*idSize:], uint64(id))
	}
	return buf
}

func (c *Badger) Put(key Key, value Value) error {
	if c.sealed.Load() {
		return ErrSealed
	}
	if err := checkWidth(c, key); err != nil {
		return err
	}
	k := c.encodeKey(key)
	added := false
	err := c.store.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			added = true
		case err != nil:
			return err
		}
		return txn.Set(k, encodeValue(value))
	})
	if err != nil {
		return fmt.Errorf("index: put into %s: %w", c.order, err)
	}
	if added {
		c.size.Add(1)
	}
	return nil
}

// BulkLoad writes entries with a write batch. Keys must not be present yet.
func (c *Badger) BulkLoad(entries []Entry) error {
	if c.sealed.Load() {
		return ErrSealed
	}
	wb := c.store.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := checkWidth(c, e.Key); err != nil {
			return err
		}
		if err := wb.Set(c.encodeKey(e.Key), encodeValue(e.Value)); err != nil {
			return fmt.Errorf("index: bulk load into %s: %w", c.order, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("index: bulk load into %s: %w", c.order, err)
	}
	c.size.Add(int64(len(entries)))
	return nil
}

func (c *Badger) Get(key Key) (Value, bool, error) {
	if len(key) != c.width {
		return nil, false, nil
	}
	var value Value
	err := c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.encodeKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ids, err := decodeIDs(val)
			value = ids
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("index: get from %s: %w", c.order, err)
	}
	return value, true, nil
}

func (c *Badger) Size() int {
	return int(c.size.Load())
}

func (c *Badger) Seal() {
	c.sealed.Store(true)
}

func (c *Badger) CreatesHistogramIndex() bool {
	return !c.histogram && c.width == 3
}

func (c *Badger) CreateHistogramIndex(order Collation, width int) (Container, error) {
	if !c.CreatesHistogramIndex() {
		return nil, ErrNoSupport
	}
	entries, err := histogramEntries(c, order, width)
	if err != nil {
		return nil, err
	}
	h := &Badger{
		store:     c.store,
		version:   c.version,
		prefix:    containerPrefix(c.version, order, width, true),
		order:     order,
		width:     width,
		histogram: true,
	}
	if err := c.store.deletePrefix(h.prefix); err != nil {
		return nil, fmt.Errorf("index: reset histogram %s/%d: %w", order, width, err)
	}
	if err := h.BulkLoad(entries); err != nil {
		return nil, err
	}
	h.Seal()
	return h, nil
}

// Scan iterates lazily inside one read-only transaction
func (c *Badger) Scan(prefix Key) (Iterator, error) {
	seek := c.encodeKey(prefix)
	txn := c.store.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = seek
	return &badgerIterator{
		txn:     txn,
		it:      txn.NewIterator(opts),
		strip:   len(c.prefix),
		seekKey: seek,
	}, nil
}

type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	strip   int
	seekKey []byte
	started bool
	closed  bool
	key     Key
	value   Value
	err     error
}

func (i *badgerIterator) Next() bool {
	if i.closed || i.err != nil {
		return false
	}
	if !i.started {
		i.it.Seek(i.seekKey)
		i.started = true
	} else {
		i.it.Next()
	}
	if !i.it.ValidForPrefix(i.seekKey) {
		i.key, i.value = nil, nil
		return false
	}

	item := i.it.Item()
	raw := item.Key()
	if !bytes.HasPrefix(raw, i.seekKey) || len(raw) < i.strip {
		i.err = fmt.Errorf("%w: key outside container namespace", ErrCorrupt)
		return false
	}
	key, err := decodeIDs(raw[i.strip:])
	if err != nil {
		i.err = err
		return false
	}
	var value []triple.ID
	err = item.Value(func(val []byte) error {
		ids, err := decodeIDs(val)
		value = ids
		return err
	})
	if err != nil {
		i.err = fmt.Errorf("index: read value: %w", err)
		return false
	}
	i.key, i.value = key, value
	return true
}

func (i *badgerIterator) Key() Key { return i.key }

func (i *badgerIterator) Value() Value { return i.value }

func (i *badgerIterator) Err() error { return i.err }

func (i *badgerIterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.it.Close()
	i.txn.Discard()
	return nil
}
