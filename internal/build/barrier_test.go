package build

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBarrierOpensOnLastArrival(t *testing.T) {
	b := newBarrier()
	for i := 0; i < 3; i++ {
		require.True(t, b.add())
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		openers int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.arrive() {
				mu.Lock()
				openers++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, openers)
	select {
	case <-b.Done():
	default:
		t.Fatal("barrier still closed")
	}

	// Extra arrivals and registrations are refused.
	require.False(t, b.arrive())
	require.False(t, b.add())
}

func TestBarrierStaysClosedUntilAllArrive(t *testing.T) {
	b := newBarrier()
	b.add()
	b.add()
	require.False(t, b.arrive())
	require.False(t, b.add())

	select {
	case <-b.Done():
		t.Fatal("barrier opened early")
	default:
	}
}

func TestCatalogKeepsVersions(t *testing.T) {
	c := NewCatalog()
	require.Nil(t, c.Current())

	a := &IndexSet{Version: "a"}
	b := &IndexSet{Version: "b"}
	c.Publish(a)
	c.Publish(b)
	c.Publish(a)

	require.Same(t, a, c.Current())
	require.Equal(t, []string{"a", "b"}, c.Versions())
	got, ok := c.Get("b")
	require.True(t, ok)
	require.Same(t, b, got)
	_, ok = c.Get("c")
	require.False(t, ok)
}
