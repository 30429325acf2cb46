package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/tristore/internal/build"
	"github.com/aleksaelezovic/tristore/internal/dictionary"
	"github.com/aleksaelezovic/tristore/internal/distribution"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/trie"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bc, err := cfg.Build()
	require.NoError(t, err)
	require.Equal(t, index.DefaultCollations, bc.Collations)
	require.Equal(t, dictionary.CodeMap, bc.Mode)
	require.Equal(t, trie.KindArray, bc.TrieKind)
	require.Len(t, bc.Histograms, 3)

	s, err := cfg.Strategy()
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tristore.yaml")
	data := `
index:
  collations: [spo, pso]
  histograms: ["PSO/2", OSP]
  dictionary: no-code-map
  trie: paged
storage:
  backend: badger
  path: /var/lib/tristore
distribution:
  kind: hierarchical
  peers: [a, b, c, d]
  dimensions: [2, 2, 1]
  seed: 7
  timeout: 250ms
  strict: true
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendBadger, cfg.Storage.Backend)
	require.Equal(t, 250*time.Millisecond, cfg.Distribution.Timeout)
	// Unset keys keep their defaults.
	require.Equal(t, Default().Index.BlockSize, cfg.Index.BlockSize)

	bc, err := cfg.Build()
	require.NoError(t, err)
	require.Equal(t, []index.Collation{index.SPO, index.PSO}, bc.Collations)
	require.Equal(t, []build.HistogramSpec{{Order: index.PSO, Width: 2}, {Order: index.OSP, Width: 1}}, bc.Histograms)
	require.Equal(t, dictionary.NoCodeMap, bc.Mode)
	require.Equal(t, trie.KindPaged, bc.TrieKind)

	s, err := cfg.Strategy()
	require.NoError(t, err)
	require.Equal(t, distribution.Hierarchical, s.Kind())
	require.Equal(t, [3]int{2, 2, 1}, s.Dimensions())

	opts := cfg.GatherOptions()
	require.True(t, opts.Strict)
	require.Equal(t, 250*time.Millisecond, opts.Timeout)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":      "index:\n  colations: [spo]\n",
		"bad collation":    "index:\n  collations: [xyz]\n",
		"duplicate order":  "index:\n  collations: [spo, spo]\n",
		"no collations":    "index:\n  collations: []\n",
		"bad histogram":    "index:\n  histograms: [SPO/4]\n",
		"bad mode":         "index:\n  dictionary: sometimes\n",
		"bad trie":         "index:\n  trie: hashed\n",
		"bad block size":   "index:\n  block_size: 0\n",
		"bad backend":      "storage:\n  backend: s3\n",
		"bad kind":         "distribution:\n  kind: random\n",
		"bad selector":     "distribution:\n  selectors: [SX]\n",
		"bad dimensions":   "distribution:\n  dimensions: [2, 2]\n",
		"negative timeout": "distribution:\n  timeout: -1s\n",
		"bad log level":    "log:\n  level: loud\n",
		"malformed yaml":   "index: [\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParseHistogram(t *testing.T) {
	spec, err := ParseHistogram(" pos/3 ")
	require.NoError(t, err)
	require.Equal(t, build.HistogramSpec{Order: index.POS, Width: 3}, spec)

	_, err = ParseHistogram("pos/x")
	require.Error(t, err)
}
