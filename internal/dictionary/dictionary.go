// Package dictionary interns RDF terms into dense integer identifiers and
// merges per-run dictionaries into one global, sort-consistent ID space.
package dictionary

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aleksaelezovic/tristore/internal/trie"
	"github.com/aleksaelezovic/tristore/internal/triple"
)

// Mode selects whether the global dictionary keeps an ID-to-literal table
type Mode int

const (
	// CodeMap keeps a reverse table so Literal is O(1)
	CodeMap Mode = iota
	// NoCodeMap keeps only the literal-to-ID tree; Literal walks it
	NoCodeMap
)

func (m Mode) String() string {
	switch m {
	case CodeMap:
		return "codemap"
	case NoCodeMap:
		return "nocodemap"
	default:
		return "unknown"
	}
}

// ParseMode parses a dictionary mode name
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "codemap", "code-map":
		return CodeMap, nil
	case "nocodemap", "no-code-map":
		return NoCodeMap, nil
	default:
		return 0, fmt.Errorf("unknown dictionary mode: %s", s)
	}
}

// Dictionary interns the literals of one construction run. Local IDs are
// dense, start at 1 and follow discovery order. Producers of the same run
// share one Dictionary; inserts are serialized by its mutex.
type Dictionary struct {
	mu    sync.Mutex
	run   int
	trie  *trie.Trie
	terms []string
}

// New creates an empty dictionary for the given run
func New(run int, opts ...trie.Option) *Dictionary {
	return &Dictionary{
		run:  run,
		trie: trie.New(opts...),
	}
}

// Run returns the run number this dictionary belongs to
func (d *Dictionary) Run() int {
	return d.run
}

// Reserve grows the reverse table for at least maxLocalID entries
func (d *Dictionary) Reserve(maxLocalID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if maxLocalID > cap(d.terms) {
		terms := make([]string, len(d.terms), maxLocalID)
		copy(terms, d.terms)
		d.terms = terms
	}
}

// Intern returns the local ID of literal, assigning the next one if needed
func (d *Dictionary) Intern(literal string) triple.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.intern(literal)
}

// InternTriple interns the three terms of a raw triple under one lock
func (d *Dictionary) InternTriple(raw triple.Raw) [3]triple.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids [3]triple.ID
	for i, term := range raw {
		ids[i] = d.intern(term)
	}
	return ids
}

func (d *Dictionary) intern(literal string) triple.ID {
	next := uint64(len(d.terms) + 1)
	id, inserted := d.trie.InsertIfAbsent([]byte(literal), next)
	if inserted {
		d.terms = append(d.terms, literal)
	}
	return triple.ID(id)
}

// Lookup returns the local ID of literal
func (d *Dictionary) Lookup(literal string) (triple.ID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.trie.Lookup([]byte(literal))
	return triple.ID(id), ok
}

// Literal returns the literal with the given local ID
func (d *Dictionary) Literal(id triple.ID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == triple.NoID || int(id) > len(d.terms) {
		return "", false
	}
	return d.terms[id-1], true
}

// Len returns the number of distinct literals
func (d *Dictionary) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.terms)
}

// Trie returns the backing trie. Callers must not mutate it and must only
// read it once interning has finished.
func (d *Dictionary) Trie() *trie.Trie {
	return d.trie
}

// Release frees the backing trie
func (d *Dictionary) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trie.Release()
	d.terms = nil
}
