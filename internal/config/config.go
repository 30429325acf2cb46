// Package config loads the YAML configuration shared by the tristore
// commands
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aleksaelezovic/tristore/internal/build"
	"github.com/aleksaelezovic/tristore/internal/dictionary"
	"github.com/aleksaelezovic/tristore/internal/distribution"
	"github.com/aleksaelezovic/tristore/internal/index"
	"github.com/aleksaelezovic/tristore/internal/logging"
	"github.com/aleksaelezovic/tristore/internal/ntriples"
	"github.com/aleksaelezovic/tristore/internal/trie"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config is the root of the configuration file
type Config struct {
	Index        IndexConfig        `yaml:"index"`
	Storage      StorageConfig      `yaml:"storage"`
	Distribution DistributionConfig `yaml:"distribution"`
	Log          LogConfig          `yaml:"log"`
}

// IndexConfig selects what a construction run materializes
type IndexConfig struct {
	// Collations are order names such as "SPO"
	Collations []string `yaml:"collations"`
	// Histograms are "ORDER/WIDTH" pairs such as "PSO/1"
	Histograms []string `yaml:"histograms"`
	Dictionary string   `yaml:"dictionary"`
	Trie       string   `yaml:"trie"`
	BlockSize  int      `yaml:"block_size"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Path of the badger directory; empty keeps badger in memory
	Path string `yaml:"path"`
}

type DistributionConfig struct {
	Kind         string        `yaml:"kind"`
	Selectors    []string      `yaml:"selectors"`
	Peers        []string      `yaml:"peers"`
	Dimensions   []int         `yaml:"dimensions"`
	Seed         uint64        `yaml:"seed"`
	VirtualNodes int           `yaml:"virtual_nodes"`
	Timeout      time.Duration `yaml:"timeout"`
	Strict       bool          `yaml:"strict"`
	// HistogramRequests lets the planner ask peers for cardinalities
	HistogramRequests bool `yaml:"histogram_requests"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Index: IndexConfig{
			Collations: []string{"SPO", "POS", "OSP"},
			Histograms: []string{"SPO/1", "PSO/1", "OSP/1"},
			Dictionary: dictionary.CodeMap.String(),
			Trie:       trie.KindArray.String(),
			BlockSize:  ntriples.DefaultBlockSize,
		},
		Storage: StorageConfig{Backend: BackendMemory},
		Distribution: DistributionConfig{
			Kind:         distribution.OneKey.String(),
			VirtualNodes: distribution.DefaultVirtualNodes,
			Timeout:      5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field that has a fixed vocabulary
func (c Config) Validate() error {
	if _, err := c.Build(); err != nil {
		return err
	}
	if c.Index.BlockSize < 1 {
		return fmt.Errorf("index.block_size must be positive, got %d", c.Index.BlockSize)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if _, err := distribution.ParseKind(c.Distribution.Kind); err != nil {
		return err
	}
	if _, err := c.selectors(); err != nil {
		return err
	}
	if n := len(c.Distribution.Dimensions); n != 0 && n != 3 {
		return fmt.Errorf("distribution.dimensions needs 3 values, got %d", n)
	}
	if c.Distribution.Timeout < 0 {
		return fmt.Errorf("distribution.timeout must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Build converts the index section into a pipeline configuration
func (c Config) Build() (build.Config, error) {
	var out build.Config
	for _, name := range c.Index.Collations {
		order, err := index.ParseCollation(name)
		if err != nil {
			return build.Config{}, err
		}
		out.Collations = append(out.Collations, order)
	}
	for _, h := range c.Index.Histograms {
		spec, err := ParseHistogram(h)
		if err != nil {
			return build.Config{}, err
		}
		out.Histograms = append(out.Histograms, spec)
	}
	var err error
	if out.Mode, err = dictionary.ParseMode(c.Index.Dictionary); err != nil {
		return build.Config{}, err
	}
	if out.TrieKind, err = trie.ParseKind(c.Index.Trie); err != nil {
		return build.Config{}, err
	}
	if err := out.Validate(); err != nil {
		return build.Config{}, err
	}
	return out, nil
}

// ParseHistogram parses an "ORDER/WIDTH" histogram name. A bare order
// means width 1.
func ParseHistogram(s string) (build.HistogramSpec, error) {
	name, width, found := strings.Cut(strings.TrimSpace(s), "/")
	order, err := index.ParseCollation(name)
	if err != nil {
		return build.HistogramSpec{}, err
	}
	spec := build.HistogramSpec{Order: order, Width: 1}
	if found {
		if spec.Width, err = strconv.Atoi(width); err != nil {
			return build.HistogramSpec{}, fmt.Errorf("histogram %q: %w", s, err)
		}
	}
	if spec.Width < 1 || spec.Width > 3 {
		return build.HistogramSpec{}, fmt.Errorf("histogram %q: width must be 1..3", s)
	}
	return spec, nil
}

// Strategy builds the distribution strategy. It returns nil without error
// when no peers are configured.
func (c Config) Strategy() (*distribution.Strategy, error) {
	d := c.Distribution
	if len(d.Peers) == 0 {
		return nil, nil
	}
	kind, err := distribution.ParseKind(d.Kind)
	if err != nil {
		return nil, err
	}
	peers := make([]distribution.PeerID, len(d.Peers))
	for i, p := range d.Peers {
		peers[i] = distribution.PeerID(p)
	}

	opts := []distribution.Option{distribution.WithSeed(d.Seed)}
	if d.VirtualNodes > 0 {
		opts = append(opts, distribution.WithVirtualNodes(d.VirtualNodes))
	}
	sel, err := c.selectors()
	if err != nil {
		return nil, err
	}
	if len(sel) > 0 {
		opts = append(opts, distribution.WithSelectors(sel...))
	}
	if len(d.Dimensions) == 3 {
		opts = append(opts, distribution.WithDimensions(d.Dimensions[0], d.Dimensions[1], d.Dimensions[2]))
	}
	return distribution.New(kind, peers, opts...)
}

func (c Config) selectors() ([]distribution.Selector, error) {
	var out []distribution.Selector
	for _, v := range c.Distribution.Selectors {
		s, err := distribution.ParseSelector(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// GatherOptions returns the peer request options without logger or metrics
func (c Config) GatherOptions() distribution.GatherOptions {
	return distribution.GatherOptions{
		Timeout: c.Distribution.Timeout,
		Strict:  c.Distribution.Strict,
	}
}
