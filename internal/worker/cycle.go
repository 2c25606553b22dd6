package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/proofnode/internal/analytics"
	"github.com/dreamware/proofnode/internal/backoff"
	"github.com/dreamware/proofnode/internal/metrics"
	"github.com/dreamware/proofnode/internal/orchestrator"
	"github.com/dreamware/proofnode/internal/progress"
	"github.com/dreamware/proofnode/internal/prover"
)

const (
	// DefaultFetchTimeout bounds a single fetch attempt.
	DefaultFetchTimeout = 5 * time.Second
	// DefaultCooldown is the pause between a finished cycle and the next fetch.
	DefaultCooldown = 2 * time.Second
)

// Task used when the node runs without an identity.
const (
	AnonymousProgramID = "fib"
	AnonymousTaskID    = 0
)

// AnonymousInput is the public input of the anonymous task.
var AnonymousInput = []byte{9}

var (
	// ErrExhausted means an operation ran out of retry attempts.
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrFatalDecode stops a worker under DecodeFailFast.
	ErrFatalDecode = errors.New("undecodable orchestrator response")

	errAbandoned = errors.New("operation abandoned")
)

// DecodePolicy decides what a malformed orchestrator response does to a
// worker.
type DecodePolicy int

const (
	// DecodeContinue abandons the operation and restarts the cycle after
	// the cooldown.
	DecodeContinue DecodePolicy = iota
	// DecodeFailFast stops the worker and, through the pool, the node.
	DecodeFailFast
)

// ParseDecodePolicy accepts "continue" and "fail-fast".
func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch s {
	case "", "continue":
		return DecodeContinue, nil
	case "fail-fast", "failfast":
		return DecodeFailFast, nil
	default:
		return DecodeContinue, fmt.Errorf("unknown decode policy %q", s)
	}
}

func (p DecodePolicy) String() string {
	if p == DecodeFailFast {
		return "fail-fast"
	}
	return "continue"
}

// Orchestrator is the part of *orchestrator.Client a cycle needs.
type Orchestrator interface {
	FetchTask(ctx context.Context, nodeID string) (orchestrator.ProofTask, error)
	SubmitProof(ctx context.Context, s orchestrator.ProofSubmission) error
}

// Runner proves a task. *prover.Executor implements it.
type Runner interface {
	Run(ctx context.Context, programID string, input []byte, progress prover.ProgressFunc) ([]byte, error)
}

// Config holds the per-node settings every cycle shares.
type Config struct {
	NodeID       string
	Anonymous    bool
	JustOnce     bool
	FetchTimeout time.Duration
	Cooldown     time.Duration
	Backoff      backoff.Policy
	Decode       DecodePolicy
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff = backoff.Default()
	}
	return c
}

// Deps are the collaborators shared by the cycles of one pool.
type Deps struct {
	Client    Orchestrator
	Status    chan<- progress.Status
	Telemetry analytics.Telemetry
	Metrics   *metrics.Node
	Logger    zerolog.Logger
	// NodeTelemetry fills the telemetry attached to each submission.
	NodeTelemetry func() orchestrator.NodeTelemetry
	// Sleep waits for d or until ctx is done. Nil means a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now stamps status events. Nil means time.Now.
	Now func() time.Time
}

// Cycle is the task loop of one worker.
type Cycle struct {
	deps      Deps
	runner    Runner
	logger    zerolog.Logger
	cfg       Config
	id        int
	successes int
}

// NewCycle builds the loop for worker id, proving on runner.
func NewCycle(id int, cfg Config, deps Deps, runner Runner) *Cycle {
	if deps.Telemetry == nil {
		deps.Telemetry = analytics.Noop{}
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NodeTelemetry == nil {
		deps.NodeTelemetry = func() orchestrator.NodeTelemetry { return orchestrator.NodeTelemetry{} }
	}
	return &Cycle{
		id:     id,
		cfg:    cfg.withDefaults(),
		deps:   deps,
		runner: runner,
		logger: deps.Logger.With().Int("worker", id).Logger(),
	}
}

// Successes is the number of proofs this worker completed.
func (c *Cycle) Successes() int { return c.successes }

// Run loops until ctx is cancelled, the single cycle of JustOnce finished,
// or a fatal error occurred. Only fatal errors are returned.
func (c *Cycle) Run(ctx context.Context) error {
	defer c.emit(progress.PhaseStopped, false, "Worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := c.runOnce(ctx)
		switch {
		case errors.Is(err, ErrFatalDecode):
			c.logger.Error().Err(err).Msg("worker stopping on fatal error")
			return err
		case err != nil && ctx.Err() == nil:
			c.logger.Debug().Err(err).Msg("cycle ended early")
		}
		if c.cfg.JustOnce {
			return nil
		}
	}
}

// runOnce walks the phases once. A nil or non-fatal error means "start over".
func (c *Cycle) runOnce(ctx context.Context) error {
	var task orchestrator.ProofTask
	if c.cfg.Anonymous {
		task = orchestrator.ProofTask{
			ProgramID:   AnonymousProgramID,
			PublicInput: AnonymousInput,
			TaskID:      AnonymousTaskID,
		}
	} else {
		var err error
		if task, err = c.fetch(ctx); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	proof, err := c.compute(ctx, task)
	if err != nil {
		return err
	}

	if c.cfg.Anonymous {
		c.successes++
		c.emitCompleted(progress.PhaseComputing, fmt.Sprintf("Proof computed for %s (anonymous, not submitted)", task.ProgramID))
	} else {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.submit(ctx, task, proof); err != nil {
			return err
		}
	}
	return c.pause(ctx, progress.PhaseCooldown)
}

func (c *Cycle) fetch(ctx context.Context) (orchestrator.ProofTask, error) {
	c.emit(progress.PhaseFetching, false, "Fetching a task")

	var task orchestrator.ProofTask
	err := c.retry(ctx, metrics.OpFetch, progress.PhaseFetching, func(ctx context.Context) error {
		fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()

		t, err := c.deps.Client.FetchTask(fctx, c.cfg.NodeID)
		if err != nil {
			c.deps.Metrics.FetchFailed(kindLabel(err))
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return task, err
	}

	c.deps.Metrics.TaskFetched()
	c.deps.Telemetry.Emit(analytics.EventTaskFetched, analytics.Properties{
		"worker":     c.id,
		"task_id":    task.TaskID,
		"program_id": task.ProgramID,
	})
	c.emit(progress.PhaseFetching, false,
		fmt.Sprintf("Received task %d (program %s)", task.TaskID, task.ProgramID))
	return task, nil
}

func (c *Cycle) compute(ctx context.Context, task orchestrator.ProofTask) ([]byte, error) {
	c.emit(progress.PhaseComputing, false, fmt.Sprintf("Computing proof for task %d", task.TaskID))

	start := c.deps.Now()
	proof, err := c.runner.Run(ctx, task.ProgramID, task.PublicInput, func(msg string) {
		c.emit(progress.PhaseComputing, false, msg)
	})
	if err != nil {
		if ctx.Err() != nil && !isProverError(err) {
			return nil, ctx.Err()
		}
		c.deps.Metrics.ProverFailed(prover.KindOf(err).String())
		c.deps.Telemetry.Emit(analytics.EventTaskFailed, analytics.Properties{
			"worker":  c.id,
			"task_id": task.TaskID,
			"phase":   string(progress.PhaseComputing),
			"error":   err.Error(),
		})
		c.emit(progress.PhaseComputing, true, fmt.Sprintf("Proof failed for task %d: %v", task.TaskID, err))
		return nil, err
	}

	elapsed := c.deps.Now().Sub(start)
	c.deps.Metrics.ObserveProve(elapsed)
	c.deps.Telemetry.Emit(analytics.EventProofComputed, analytics.Properties{
		"worker":     c.id,
		"task_id":    task.TaskID,
		"program_id": task.ProgramID,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return proof, nil
}

func (c *Cycle) submit(ctx context.Context, task orchestrator.ProofTask, proof []byte) error {
	sum := sha256.Sum256(proof)
	sub := orchestrator.ProofSubmission{
		NodeID:    c.cfg.NodeID,
		ProofHash: hex.EncodeToString(sum[:]),
		Proof:     proof,
		TaskID:    task.TaskID,
		Telemetry: c.deps.NodeTelemetry(),
	}
	c.emit(progress.PhaseSubmitting, false, fmt.Sprintf("Submitting proof for task %d", task.TaskID))

	err := c.retry(ctx, metrics.OpSubmit, progress.PhaseSubmitting, func(ctx context.Context) error {
		if err := c.deps.Client.SubmitProof(ctx, sub); err != nil {
			c.deps.Metrics.SubmitFailed(kindLabel(err))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.successes++
	c.deps.Metrics.ProofSubmitted()
	c.deps.Telemetry.Emit(analytics.EventProofSubmitted, analytics.Properties{
		"worker":     c.id,
		"task_id":    task.TaskID,
		"proof_hash": sub.ProofHash,
	})
	c.emitCompleted(progress.PhaseSubmitting, fmt.Sprintf("Proof for task %d accepted (%d total)", task.TaskID, c.successes))
	return nil
}

// retry runs op until it succeeds, is abandoned, or ctx ends. The status
// for a failure is emitted before the wait that follows it, and the wait
// after the last permitted failure happens before the operation is given up.
func (c *Cycle) retry(ctx context.Context, op string, phase progress.Phase, fn func(context.Context) error) error {
	policy := c.cfg.Backoff
	state := policy.NewState()

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if orchestrator.KindOf(err) == orchestrator.KindDecode {
			c.failed(op, phase, err)
			if c.cfg.Decode == DecodeFailFast {
				c.emit(phase, true, fmt.Sprintf("%s failed: %v", opTitle(op), err))
				return fmt.Errorf("%w: %v", ErrFatalDecode, err)
			}
			c.emit(phase, true, fmt.Sprintf("%s failed: %v. Restarting in %s", opTitle(op), err, c.cfg.Cooldown))
			if err := c.deps.Sleep(ctx, c.cfg.Cooldown); err != nil {
				return err
			}
			return errAbandoned
		}

		if !orchestrator.IsRetryable(err) {
			c.failed(op, phase, err)
			c.emit(phase, true, fmt.Sprintf("%s failed: %v. Restarting in %s", opTitle(op), err, c.cfg.Cooldown))
			if err := c.deps.Sleep(ctx, c.cfg.Cooldown); err != nil {
				return err
			}
			return errAbandoned
		}

		attempt := state.Fail()
		delay := policy.Delay(attempt)
		c.deps.Metrics.BackoffWait(op)

		if policy.Exhausted(attempt) {
			c.failed(op, phase, err)
			c.emit(phase, true, fmt.Sprintf("%s failed (attempt %d/%d): %v. Giving up, restarting in %s",
				opTitle(op), attempt, state.MaxAttempts, err, delay))
			if err := c.deps.Sleep(ctx, delay); err != nil {
				return err
			}
			return fmt.Errorf("%s: %w", op, ErrExhausted)
		}

		c.emit(phase, true, fmt.Sprintf("%s failed (attempt %d/%d): %v. Retrying in %s",
			opTitle(op), attempt, state.MaxAttempts, err, delay))
		if err := c.deps.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// failed reports an abandoned operation to analytics.
func (c *Cycle) failed(op string, phase progress.Phase, err error) {
	c.logger.Warn().Err(err).Str("op", op).Msg("operation abandoned")
	c.deps.Telemetry.Emit(analytics.EventTaskFailed, analytics.Properties{
		"worker": c.id,
		"phase":  string(phase),
		"error":  err.Error(),
	})
}

func (c *Cycle) pause(ctx context.Context, phase progress.Phase) error {
	c.emit(phase, false, fmt.Sprintf("Waiting %s before the next task", c.cfg.Cooldown))
	return c.deps.Sleep(ctx, c.cfg.Cooldown)
}

func (c *Cycle) emit(phase progress.Phase, isErr bool, msg string) {
	c.deps.Status <- progress.Status{
		At:       c.deps.Now(),
		Phase:    phase,
		Message:  msg,
		WorkerID: c.id,
		IsError:  isErr,
	}
}

func (c *Cycle) emitCompleted(phase progress.Phase, msg string) {
	c.deps.Status <- progress.Status{
		At:        c.deps.Now(),
		Phase:     phase,
		Message:   msg,
		WorkerID:  c.id,
		Completed: true,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func kindLabel(err error) string {
	if k := orchestrator.KindOf(err); k != 0 {
		return k.String()
	}
	return "other"
}

func isProverError(err error) bool {
	var pe *prover.Error
	return errors.As(err, &pe)
}

func opTitle(op string) string {
	if op == metrics.OpSubmit {
		return "Submit"
	}
	return "Fetch"
}
