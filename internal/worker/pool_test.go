package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/proofnode/internal/metrics"
	"github.com/dreamware/proofnode/internal/orchestrator"
	"github.com/dreamware/proofnode/internal/progress"
	"github.com/dreamware/proofnode/internal/prover"
)

func TestResolveWorkerCount(t *testing.T) {
	tests := []struct {
		name       string
		speed      Speed
		maxThreads int
		available  int
		want       int
	}{
		{"medium default", SpeedMedium, 0, 8, 4},
		{"low", SpeedLow, 0, 8, 2},
		{"high", SpeedHigh, 0, 8, 6},
		{"low on one core", SpeedLow, 0, 1, 1},
		{"medium on three cores", SpeedMedium, 0, 3, 1},
		{"explicit", SpeedLow, 3, 8, 3},
		{"explicit capped", SpeedMedium, 64, 8, 8},
		{"unknown available", SpeedHigh, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveWorkerCount(tt.speed, tt.maxThreads, tt.available))
		})
	}
}

func TestParseSpeed(t *testing.T) {
	s, err := ParseSpeed("HIGH")
	require.NoError(t, err)
	assert.Equal(t, SpeedHigh, s)

	s, err = ParseSpeed("")
	require.NoError(t, err)
	assert.Equal(t, SpeedMedium, s)

	_, err = ParseSpeed("ludicrous")
	assert.Error(t, err)
}

// TestPoolDistinctStreams spawns four single-shot workers and checks each
// one reports under its own id and finishes with a stopped status.
func TestPoolDistinctStreams(t *testing.T) {
	status := make(chan progress.Status, 1024)
	var tasks atomic.Uint64
	client := &countingOrchestrator{next: &tasks}
	m := metrics.New()

	p := prover.Func(func(programID string, input []byte, progress prover.ProgressFunc) ([]byte, error) {
		progress("working")
		return []byte("proof-" + programID), nil
	})

	pool := Spawn(context.Background(), 4, Config{NodeID: "n", JustOnce: true}, Deps{
		Client:  client,
		Status:  status,
		Metrics: m,
		Logger:  zerolog.Nop(),
		Sleep:   func(context.Context, time.Duration) error { return nil },
	}, p)
	require.Equal(t, 4, pool.Size())
	require.NoError(t, pool.Join())
	close(status)

	perWorker := map[int][]progress.Status{}
	for s := range status {
		perWorker[s.WorkerID] = append(perWorker[s.WorkerID], s)
	}
	require.Len(t, perWorker, 4)
	for id := 0; id < 4; id++ {
		events := perWorker[id]
		require.NotEmpty(t, events, "worker %d", id)
		assert.Equal(t, progress.PhaseStopped, events[len(events)-1].Phase)
	}

	assert.Equal(t, 4, pool.Successes())
	assert.Equal(t, int32(4), client.submits.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Workers))
}

func TestPoolFailFastCancelsOthers(t *testing.T) {
	status := make(chan progress.Status, 4096)
	go func() {
		for range status {
		}
	}()
	defer close(status)

	client := &fakeOrchestrator{fallback: fetchResult{err: malformed()}}
	pool := Spawn(context.Background(), 3, Config{NodeID: "n", Decode: DecodeFailFast}, Deps{
		Client: client,
		Status: status,
		Logger: zerolog.Nop(),
		Sleep:  func(context.Context, time.Duration) error { return nil },
	}, prover.Func(func(string, []byte, prover.ProgressFunc) ([]byte, error) { return []byte("p"), nil }))

	done := make(chan error, 1)
	go func() { done <- pool.Join() }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrFatalDecode)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	status := make(chan progress.Status, 4096)
	go func() {
		for range status {
		}
	}()
	defer close(status)

	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeOrchestrator{fallback: fetchResult{err: tooManyRequests()}}
	pool := Spawn(ctx, 2, Config{NodeID: "n"}, Deps{
		Client: client,
		Status: status,
		Logger: zerolog.Nop(),
		Sleep:  sleep,
	}, prover.Func(func(string, []byte, prover.ProgressFunc) ([]byte, error) { return []byte("p"), nil }))

	cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Join() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

type countingOrchestrator struct {
	next    *atomic.Uint64
	submits atomic.Int32
}

func (c *countingOrchestrator) FetchTask(ctx context.Context, nodeID string) (orchestrator.ProofTask, error) {
	id := c.next.Add(1)
	return orchestrator.ProofTask{TaskID: id, ProgramID: "fib", PublicInput: []byte{byte(id)}}, nil
}

func (c *countingOrchestrator) SubmitProof(ctx context.Context, s orchestrator.ProofSubmission) error {
	c.submits.Add(1)
	return nil
}

// TestPoolIsolatesProverPanic checks a panicking prover only fails the
// worker it ran on.
func TestPoolIsolatesProverPanic(t *testing.T) {
	const workers = 3
	status := make(chan progress.Status, 1024)
	var tasks atomic.Uint64
	client := &countingOrchestrator{next: &tasks}

	var calls atomic.Int32
	p := prover.Func(func(programID string, input []byte, progress prover.ProgressFunc) ([]byte, error) {
		if calls.Add(1) == 1 {
			panic("engine crashed")
		}
		return []byte("proof-" + programID), nil
	})

	pool := Spawn(context.Background(), workers, Config{NodeID: "n", JustOnce: true}, Deps{
		Client: client,
		Status: status,
		Logger: zerolog.Nop(),
		Sleep:  func(context.Context, time.Duration) error { return nil },
	}, p)
	require.NoError(t, pool.Join())
	close(status)

	perWorker := map[int][]progress.Status{}
	for s := range status {
		perWorker[s.WorkerID] = append(perWorker[s.WorkerID], s)
	}
	require.Len(t, perWorker, workers)

	failed := -1
	for id, events := range perWorker {
		var errs, completed int
		for _, s := range events {
			if s.IsError {
				errs++
				assert.Contains(t, s.Message, "engine crashed", "worker %d", id)
			}
			if s.Completed {
				completed++
			}
		}
		switch {
		case errs > 0:
			assert.Equal(t, -1, failed, "more than one worker reported an error")
			failed = id
			assert.Equal(t, 1, errs)
			assert.Zero(t, completed)
		default:
			assert.Equal(t, 1, completed, "worker %d", id)
		}
		assert.Equal(t, progress.PhaseStopped, events[len(events)-1].Phase)
	}
	require.NotEqual(t, -1, failed)

	assert.Equal(t, workers-1, pool.Successes())
	assert.Equal(t, int32(workers-1), client.submits.Load())
}
