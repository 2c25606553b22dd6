package prover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRun(t *testing.T) {
	var progress []string
	e := NewExecutor(Func(func(programID string, input []byte, report ProgressFunc) ([]byte, error) {
		report("1.5 cycles/sec")
		report("3.0 cycles/sec")
		return append([]byte(programID+":"), input...), nil
	}))
	defer e.Close()

	proof, err := e.Run(context.Background(), "fib", []byte{9}, func(m string) {
		progress = append(progress, m)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("fib:\x09"), proof)
	assert.Equal(t, []string{"1.5 cycles/sec", "3.0 cycles/sec"}, progress)
}

func TestExecutorErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		prover Func
		kind   ErrorKind
	}{
		{
			name: "plain error is internal",
			prover: func(string, []byte, ProgressFunc) ([]byte, error) {
				return nil, errors.New("out of memory")
			},
			kind: KindInternal,
		},
		{
			name: "exit code passes through",
			prover: func(string, []byte, ProgressFunc) ([]byte, error) {
				return nil, &Error{Kind: KindExitCode, ExitCode: 3}
			},
			kind: KindExitCode,
		},
		{
			name: "empty proof is unexpected",
			prover: func(string, []byte, ProgressFunc) ([]byte, error) {
				return nil, nil
			},
			kind: KindUnexpected,
		},
		{
			name: "panic is internal",
			prover: func(string, []byte, ProgressFunc) ([]byte, error) {
				panic("engine bug")
			},
			kind: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(tt.prover)
			defer e.Close()

			proof, err := e.Run(context.Background(), "fib", nil, nil)
			require.Error(t, err)
			assert.Nil(t, proof)
			assert.Equal(t, tt.kind, KindOf(err))

			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "fib", pe.ProgramID)
		})
	}
}

// TestExecutorSurvivesFailure checks the thread keeps serving after a panic.
func TestExecutorSurvivesFailure(t *testing.T) {
	calls := 0
	e := NewExecutor(Func(func(string, []byte, ProgressFunc) ([]byte, error) {
		calls++
		if calls == 1 {
			panic("first call")
		}
		return []byte{1}, nil
	}))
	defer e.Close()

	_, err := e.Run(context.Background(), "fib", nil, nil)
	require.Error(t, err)

	proof, err := e.Run(context.Background(), "fib", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, proof)
}

// TestExecutorIgnoresCancelMidProof verifies an in-flight job runs to
// completion after its context is cancelled.
func TestExecutorIgnoresCancelMidProof(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	e := NewExecutor(Func(func(string, []byte, ProgressFunc) ([]byte, error) {
		close(started)
		<-release
		return []byte("done"), nil
	}))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var (
		proof []byte
		err   error
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		proof, err = e.Run(ctx, "fib", nil, nil)
	}()

	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, []byte("done"), proof)
}

func TestExecutorClosed(t *testing.T) {
	e := NewExecutor(Func(func(string, []byte, ProgressFunc) ([]byte, error) { return []byte{1}, nil }))
	e.Close()
	e.Close()

	_, err := e.Run(context.Background(), "fib", nil, nil)
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestExecutorCancelledBeforeHandOff(t *testing.T) {
	block := make(chan struct{})
	e := NewExecutor(Func(func(string, []byte, ProgressFunc) ([]byte, error) {
		<-block
		return []byte{1}, nil
	}))
	defer e.Close()
	defer close(block)

	go func() { _, _ = e.Run(context.Background(), "busy", nil, nil) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, "fib", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
