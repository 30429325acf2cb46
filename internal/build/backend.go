package build

import (
	"github.com/aleksaelezovic/tristore/internal/index"
)

// Backend creates the containers of one construction run. Every container
// of a run shares the run's version, so a failed run can be discarded in one
// call.
type Backend interface {
	NewContainer(version string, order index.Collation) (index.Container, error)
	Discard(version string) error
}

// MemoryBackend keeps containers in RAM
type MemoryBackend struct{}

func (MemoryBackend) NewContainer(_ string, order index.Collation) (index.Container, error) {
	return index.NewMemory(order), nil
}

// Discard is a no-op; unreferenced memory containers are collected
func (MemoryBackend) Discard(string) error { return nil }

// BadgerBackend persists containers in a BadgerStore
type BadgerBackend struct {
	Store *index.BadgerStore
}

func (b BadgerBackend) NewContainer(version string, order index.Collation) (index.Container, error) {
	return b.Store.Container(version, order)
}

func (b BadgerBackend) Discard(version string) error {
	return b.Store.Drop(version)
}
