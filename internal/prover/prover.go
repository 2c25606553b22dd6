// Package prover defines the boundary between a worker and the proof engine.
//
// The engine itself is opaque. A worker only needs something that turns a
// program identifier and a public input into proof bytes, optionally
// reporting progress while it runs. Proving is CPU bound and may take
// seconds to minutes, so every worker owns an Executor that runs it on a
// dedicated OS thread away from the goroutines doing network I/O.
package prover

import (
	"errors"
	"fmt"
)

// ProgressFunc receives human readable progress lines such as throughput
// figures. It may be called from the executor thread and must not block for
// long.
type ProgressFunc func(message string)

// Prover produces a proof for one task. Implementations must be safe to call
// from several executors at once.
type Prover interface {
	Compute(programID string, input []byte, progress ProgressFunc) ([]byte, error)
}

// Func adapts a plain function to Prover.
type Func func(programID string, input []byte, progress ProgressFunc) ([]byte, error)

func (f Func) Compute(programID string, input []byte, progress ProgressFunc) ([]byte, error) {
	return f(programID, input, progress)
}

// ErrorKind classifies a prover failure. All kinds are scoped to the task
// that produced them.
type ErrorKind int

const (
	// KindExitCode means the engine finished with a non-zero status.
	KindExitCode ErrorKind = iota + 1
	// KindInternal covers engine crashes, panics and launch failures.
	KindInternal
	// KindUnexpected means the engine reported success without usable output.
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindExitCode:
		return "exit_code"
	case KindInternal:
		return "internal"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Error is returned for every failed Compute call made through an Executor.
type Error struct {
	Err       error
	ProgramID string
	Kind      ErrorKind
	ExitCode  int
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindExitCode:
		return fmt.Sprintf("prover %s exited with code %d", e.ProgramID, e.ExitCode)
	case KindUnexpected:
		return fmt.Sprintf("prover %s: unexpected completion: %v", e.ProgramID, e.Err)
	default:
		return fmt.Sprintf("prover %s: %v", e.ProgramID, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrEmptyProof is reported when an engine claims success but returns nothing.
var ErrEmptyProof = errors.New("empty proof")

// classify turns whatever a Prover returned into an *Error.
func classify(programID string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.ProgramID == "" {
			pe.ProgramID = programID
		}
		return pe
	}
	return &Error{ProgramID: programID, Kind: KindInternal, Err: err}
}

// KindOf returns the kind of err, or 0 if err is not a prover error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if !errors.As(err, &pe) {
		return 0
	}
	return pe.Kind
}
