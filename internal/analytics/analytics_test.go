package analytics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []event
}

func (c *collector) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var batch []event
		require.NoError(t, json.Unmarshal(body, &batch))
		c.mu.Lock()
		c.events = append(c.events, batch...)
		c.mu.Unlock()
		w.Write([]byte("1"))
	}
}

func TestNewWithoutTokenIsNoop(t *testing.T) {
	tel := New(Config{}, zerolog.Nop())
	assert.IsType(t, Noop{}, tel)
	assert.NotPanics(t, func() { tel.Emit(EventNodeStarted, nil) })
}

func TestTrackerDeliversDecoratedEvents(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler(t))
	defer srv.Close()

	tr := NewTracker(Config{
		Token:       "tok",
		Endpoint:    srv.URL,
		DistinctID:  "node-7",
		Environment: "local",
		PerSecond:   100,
	}, srv.Client(), zerolog.Nop())

	tr.Emit(EventProofSubmitted, Properties{"task_id": 42})
	tr.Emit(EventTaskFailed, Properties{"reason": "429"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.events, 2)

	first := c.events[0]
	assert.Equal(t, EventProofSubmitted, first.Event)
	assert.Equal(t, "tok", first.Properties["token"])
	assert.Equal(t, "node-7", first.Properties["distinct_id"])
	assert.Equal(t, "local", first.Properties["environment"])
	assert.EqualValues(t, 42, first.Properties["task_id"])
	assert.NotEmpty(t, first.Properties["$insert_id"])
	assert.NotEqual(t, first.Properties["$insert_id"], c.events[1].Properties["$insert_id"])
}

func TestEmitAfterCloseDoesNotPanic(t *testing.T) {
	tr := NewTracker(Config{Token: "tok", Endpoint: "http://127.0.0.1:1"}, http.DefaultClient, zerolog.Nop())
	require.NoError(t, tr.Close(context.Background()))
	assert.NotPanics(t, func() { tr.Emit(EventNodeStopped, nil) })
}

// TestEmitNeverBlocks fills the queue against a server that never answers.
func TestEmitNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	tr := NewTracker(Config{Token: "tok", Endpoint: srv.URL, PerSecond: 1000}, srv.Client(), zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize*3; i++ {
			tr.Emit(EventTaskFetched, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked")
	}
}

func TestEmitRacingCloseDropsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tr := NewTracker(Config{Token: "tok", Endpoint: srv.URL, PerSecond: 1000}, srv.Client(), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Emit(EventTaskFetched, nil)
			}
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))
	wg.Wait()
	require.NoError(t, tr.Close(ctx))
}

func TestSendReportsRejectedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewTracker(Config{Token: "bad", Endpoint: srv.URL}, srv.Client(), zerolog.Nop())
	defer tr.Close(context.Background())

	err := tr.send(event{Event: EventNodeStarted, Properties: Properties{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
