package prover

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrExecutorClosed is returned by Run after Close.
var ErrExecutorClosed = errors.New("executor closed")

type job struct {
	programID string
	input     []byte
	progress  ProgressFunc
	done      chan result
}

type result struct {
	err   error
	proof []byte
}

// Executor runs one proving job at a time on a goroutine locked to its own
// OS thread. Each worker creates one at spawn time and reuses it for every
// task, so one worker's proving cannot take another worker's thread.
type Executor struct {
	prover Prover
	jobs   chan job
	quit   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewExecutor starts the executor thread.
func NewExecutor(p Prover) *Executor {
	e := &Executor{
		prover: p,
		jobs:   make(chan job),
		quit:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.closed)

	for {
		select {
		case <-e.quit:
			return
		case j := <-e.jobs:
			proof, err := e.compute(j)
			j.done <- result{proof: proof, err: err}
		}
	}
}

func (e *Executor) compute(j job) (proof []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			proof = nil
			err = &Error{ProgramID: j.programID, Kind: KindInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	proof, err = e.prover.Compute(j.programID, j.input, j.progress)
	if err != nil {
		return nil, classify(j.programID, err)
	}
	if len(proof) == 0 {
		return nil, &Error{ProgramID: j.programID, Kind: KindUnexpected, Err: ErrEmptyProof}
	}
	return proof, nil
}

// Run hands a job to the executor thread and waits for its result.
//
// ctx only governs the hand-off: once the prover has started, Run waits for
// it to finish even if ctx is cancelled, since the engine gives no guarantee
// that it can be interrupted safely.
func (e *Executor) Run(ctx context.Context, programID string, input []byte, progress ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = func(string) {}
	}
	j := job{programID: programID, input: input, progress: progress, done: make(chan result, 1)}

	select {
	case e.jobs <- j:
	case <-e.quit:
		return nil, ErrExecutorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r := <-j.done
	return r.proof, r.err
}

// Close stops the executor thread after any running job completes.
func (e *Executor) Close() {
	e.once.Do(func() { close(e.quit) })
	<-e.closed
}
