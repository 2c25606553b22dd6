package worker

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/proofnode/internal/prover"
)

// Speed selects the share of available cores used when no explicit worker
// count is configured.
type Speed string

const (
	SpeedLow    Speed = "low"
	SpeedMedium Speed = "medium"
	SpeedHigh   Speed = "high"
)

// ParseSpeed accepts low, medium and high, case-insensitively. Empty means
// medium.
func ParseSpeed(s string) (Speed, error) {
	switch Speed(strings.ToLower(strings.TrimSpace(s))) {
	case "", SpeedMedium:
		return SpeedMedium, nil
	case SpeedLow:
		return SpeedLow, nil
	case SpeedHigh:
		return SpeedHigh, nil
	default:
		return SpeedMedium, fmt.Errorf("unknown speed %q (want low, medium or high)", s)
	}
}

func (s Speed) percent() int {
	switch s {
	case SpeedLow:
		return 25
	case SpeedHigh:
		return 75
	default:
		return 50
	}
}

// ResolveWorkerCount picks how many workers to run on a machine with
// available cores. A positive maxThreads wins, capped at available;
// otherwise speed decides. The result is at least 1.
func ResolveWorkerCount(speed Speed, maxThreads, available int) int {
	if available < 1 {
		available = 1
	}
	n := available * speed.percent() / 100
	if maxThreads > 0 {
		n = min(maxThreads, available)
	}
	return max(n, 1)
}

// Pool is a fixed set of running cycles.
type Pool struct {
	group  *errgroup.Group
	cancel context.CancelFunc
	cycles []*Cycle
}

// Spawn starts count workers with ids 0..count-1. Each gets its own
// executor thread around p. The first worker to return a fatal error
// cancels the others.
func Spawn(ctx context.Context, count int, cfg Config, deps Deps, p prover.Prover) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	pool := &Pool{group: g, cancel: cancel, cycles: make([]*Cycle, count)}
	for id := 0; id < count; id++ {
		exec := prover.NewExecutor(p)
		cycle := NewCycle(id, cfg, deps, exec)
		pool.cycles[id] = cycle

		g.Go(func() error {
			defer exec.Close()
			deps.Metrics.WorkerStarted()
			defer deps.Metrics.WorkerStopped()

			if err := cycle.Run(gctx); err != nil {
				return fmt.Errorf("worker %d: %w", cycle.id, err)
			}
			return nil
		})
	}
	return pool
}

// Size is the number of workers in the pool.
func (p *Pool) Size() int { return len(p.cycles) }

// Successes sums the completed proofs of every worker. Only meaningful
// after Join.
func (p *Pool) Successes() int {
	total := 0
	for _, c := range p.cycles {
		total += c.Successes()
	}
	return total
}

// Join waits for every worker to stop and returns the first fatal error.
func (p *Pool) Join() error {
	defer p.cancel()
	return p.group.Wait()
}
