package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

func TestPermuteRestoreAllOrders(t *testing.T) {
	tr := [3]triple.ID{7, 8, 9}
	for _, c := range AllCollations {
		require.Equal(t, tr, c.Restore(c.Permute(tr)), c.String())
	}
}

func TestParseCollation(t *testing.T) {
	c, err := ParseCollation(" OSP ")
	require.NoError(t, err)
	require.Equal(t, OSP, c)

	_, err = ParseCollation("spx")
	require.Error(t, err)
	require.False(t, Collation(0).Valid())
}

func TestSelectPrefersLongestBoundPrefix(t *testing.T) {
	// ?s <p> <o>
	p := triple.NewPattern(triple.Var("s"), triple.Bound(2), triple.Bound(3))

	c, prefix := Select(p, DefaultCollations)
	require.Equal(t, POS, c)
	require.Equal(t, Key{2, 3}, prefix)

	// Nothing bound: first available order wins.
	c, prefix = Select(triple.NewPattern(triple.Var("s"), triple.Var("p"), triple.Var("o")), DefaultCollations)
	require.Equal(t, SPO, c)
	require.Empty(t, prefix)
}
