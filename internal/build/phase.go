package build

import (
	"errors"
	"fmt"
)

// Phase is a state of the construction pipeline. Phases only move forward;
// Failed is terminal and reachable from every other phase except Done.
type Phase int

const (
	Idle Phase = iota
	Ingesting
	DictionaryBuilding
	Globalizing
	IndexGenerating
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Ingesting:
		return "ingesting"
	case DictionaryBuilding:
		return "dictionary-building"
	case Globalizing:
		return "globalizing"
	case IndexGenerating:
		return "index-generating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	ErrNoProducers     = errors.New("build: no producers registered")
	ErrLateProducer    = errors.New("build: producers must register before ingestion starts")
	ErrProducerDone    = errors.New("build: producer already reached end of processing")
	ErrPhase           = errors.New("build: operation not allowed in current phase")
	ErrInvalidBlock    = errors.New("build: invalid triples block")
	ErrNoCollations    = errors.New("build: no collation orders configured")
	ErrHistogramSource = errors.New("build: no container can derive histogram")
)

// PhaseError reports the phase a construction run failed in
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("build: %s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
