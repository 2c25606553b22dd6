package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilNodeIsNoop(t *testing.T) {
	var n *Node
	assert.NotPanics(t, func() {
		n.TaskFetched()
		n.FetchFailed("status")
		n.ProofSubmitted()
		n.SubmitFailed("unreachable")
		n.ProverFailed("exit_code")
		n.ObserveProve(time.Second)
		n.BackoffWait(OpFetch)
		n.WorkerStarted()
		n.WorkerStopped()
	})
}

func TestCounters(t *testing.T) {
	n := New()

	n.TaskFetched()
	n.TaskFetched()
	n.FetchFailed("status")
	n.BackoffWait(OpFetch)
	n.BackoffWait(OpSubmit)
	n.BackoffWait(OpSubmit)
	n.WorkerStarted()
	n.WorkerStarted()
	n.WorkerStopped()

	assert.Equal(t, 2.0, testutil.ToFloat64(n.TasksFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(n.FetchFailures.WithLabelValues("status")))
	assert.Equal(t, 2.0, testutil.ToFloat64(n.BackoffWaits.WithLabelValues(OpSubmit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(n.Workers))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ProofSubmitted()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ProofsSubmitted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ProofsSubmitted))
}

func TestHandlerExposition(t *testing.T) {
	n := New()
	n.ProverFailed("internal")
	n.ObserveProve(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	n.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `proofnode_prover_failures_total{kind="internal"} 1`)
	assert.Contains(t, string(body), "proofnode_prove_duration_seconds_count 1")
}
