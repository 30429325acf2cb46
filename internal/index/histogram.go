package index

import (
	"fmt"
	"slices"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

// histogramEntries counts, for every width-long key prefix in the given
// order, how many triples of src carry it. src must hold full triple keys.
func histogramEntries(src Container, order Collation, width int) ([]Entry, error) {
	if src.Width() != 3 {
		return nil, fmt.Errorf("%w: %s container of width %d", ErrNoSupport, src.Order(), src.Width())
	}
	if !order.Valid() {
		return nil, fmt.Errorf("invalid collation order %d", order)
	}
	if width < 1 || width > 3 {
		return nil, fmt.Errorf("histogram prefix width %d out of range [1,3]", width)
	}

	it, err := src.Scan(nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	if order == src.Order() {
		// Keys already arrive grouped by prefix.
		var entries []Entry
		for it.Next() {
			prefix := it.Key()[:width]
			if n := len(entries); n > 0 && Compare(entries[n-1].Key, prefix) == 0 {
				entries[n-1].Value[0]++
				continue
			}
			entries = append(entries, Entry{Key: append(Key(nil), prefix...), Value: Value{1}})
		}
		return entries, it.Err()
	}

	counts := make(map[[3]triple.ID]triple.ID)
	for it.Next() {
		full := order.Permute(src.Order().Restore(it.Key()))
		var k [3]triple.ID
		copy(k[:], full[:width])
		counts[k]++
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(counts))
	for k, n := range counts {
		entries = append(entries, Entry{Key: append(Key(nil), k[:width]...), Value: Value{n}})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return Compare(a.Key, b.Key)
	})
	return entries, nil
}
