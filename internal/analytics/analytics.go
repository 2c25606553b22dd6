// Package analytics sends fire-and-forget usage events.
//
// Emit never blocks the caller: events go onto a bounded queue drained by a
// background sender, and are dropped when the queue is full. Delivery
// failures are logged at debug level and otherwise ignored.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Event names emitted by the node.
const (
	EventNodeStarted    = "node_started"
	EventNodeStopped    = "node_stopped"
	EventTaskFetched    = "task_fetched"
	EventProofComputed  = "proof_computed"
	EventProofSubmitted = "proof_submitted"
	EventTaskFailed     = "task_failed"
)

// DefaultEndpoint is the ingestion URL used when none is configured.
const DefaultEndpoint = "https://api.mixpanel.com/track?ip=1"

const (
	queueSize   = 256
	sendTimeout = 10 * time.Second
)

// Properties is the free-form payload of an event.
type Properties map[string]any

// Telemetry is the sink for analytics events.
type Telemetry interface {
	Emit(event string, props Properties)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Emit(string, Properties) {}

// Config configures a Tracker.
type Config struct {
	Token    string
	Endpoint string
	// DistinctID identifies the node in every event.
	DistinctID string
	// Environment is reported with each event.
	Environment string
	// PerSecond caps outgoing requests. Zero means 5/s.
	PerSecond float64
}

type event struct {
	Event      string     `json:"event"`
	Properties Properties `json:"properties"`
}

// Tracker posts events to a Mixpanel-compatible endpoint.
type Tracker struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	queue   chan event
	done    chan struct{}
	now     func() time.Time

	// mu guards closed; senders hold it shared so Close cannot close
	// queue under them.
	mu     sync.RWMutex
	closed bool
}

// New returns Noop when cfg has no token, otherwise a running Tracker.
func New(cfg Config, logger zerolog.Logger) Telemetry {
	if cfg.Token == "" {
		return Noop{}
	}
	return NewTracker(cfg, &http.Client{Timeout: sendTimeout}, logger)
}

// NewTracker starts the background sender. Call Close to flush and stop.
func NewTracker(cfg Config, client *http.Client, logger zerolog.Logger) *Tracker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	perSec := cfg.PerSecond
	if perSec <= 0 {
		perSec = 5
	}
	t := &Tracker{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
		logger:  logger.With().Str("component", "analytics").Logger(),
		queue:   make(chan event, queueSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go t.run()
	return t
}

// Emit enqueues an event. It drops the event if the queue is full or the
// tracker is closed.
func (t *Tracker) Emit(name string, props Properties) {
	ev := event{Event: name, Properties: t.decorate(props)}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- ev:
	default:
		t.logger.Debug().Str("event", name).Msg("analytics queue full, dropping event")
	}
}

func (t *Tracker) decorate(props Properties) Properties {
	now := t.now()
	out := Properties{
		"token":            t.cfg.Token,
		"time":             now.UnixMilli(),
		"distinct_id":      t.cfg.DistinctID,
		"$insert_id":       uuid.NewString(),
		"client_type":      "cli",
		"prover_type":      "volunteer",
		"operating_system": runtime.GOOS,
		"environment":      t.cfg.Environment,
		"time_zone":        now.Location().String(),
		"local_hour":       now.Hour(),
	}
	for k, v := range props {
		out[k] = v
	}
	return out
}

func (t *Tracker) run() {
	defer close(t.done)
	for ev := range t.queue {
		if err := t.limiter.Wait(context.Background()); err != nil {
			continue
		}
		if err := t.send(ev); err != nil {
			t.logger.Debug().Err(err).Str("event", ev.Event).Msg("analytics delivery failed")
		}
	}
}

func (t *Tracker) send(ev event) error {
	body, err := json.Marshal([]event{ev})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("analytics endpoint rejected event: %s", resp.Status)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be sent or ctx
// to expire.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
