package progress

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// Renderer displays a status event. Errors are logged by the sink and
// otherwise ignored.
type Renderer interface {
	Render(Status) error
}

// WorkerView is the sink's latest knowledge of one worker.
type WorkerView struct {
	Last      Status
	Events    int
	Errors    int
	Successes int
}

// Snapshot is a copy of the sink state at one instant.
type Snapshot struct {
	Workers      []WorkerView
	RecentErrors []Status
}

// Sink folds status events into per-worker state and a bounded error
// history. It is the only consumer of the status channel.
type Sink struct {
	renderer  Renderer
	logger    zerolog.Logger
	workers   map[int]*WorkerView
	errors    []Status
	maxErrors int
	mu        sync.RWMutex
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithRenderer sets where events are displayed.
func WithRenderer(r Renderer) SinkOption {
	return func(s *Sink) { s.renderer = r }
}

// WithErrorHistory overrides the number of remembered errors.
func WithErrorHistory(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.maxErrors = n
		}
	}
}

// NewSink builds a sink that logs through logger.
func NewSink(logger zerolog.Logger, opts ...SinkOption) *Sink {
	s := &Sink{
		logger:    logger,
		workers:   make(map[int]*WorkerView),
		maxErrors: DefaultErrorHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes events until the channel is closed or ctx is done. Events
// still buffered when ctx ends are drained without blocking.
func (s *Sink) Run(ctx context.Context, events <-chan Status) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Observe(ev)
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					s.Observe(ev)
				default:
					return
				}
			}
		}
	}
}

// Observe folds one event. Run calls it for every received event; tests may
// call it directly.
func (s *Sink) Observe(ev Status) {
	s.mu.Lock()
	w, ok := s.workers[ev.WorkerID]
	if !ok {
		w = &WorkerView{}
		s.workers[ev.WorkerID] = w
	}
	w.Last = ev
	w.Events++
	if ev.Completed {
		w.Successes++
	}
	if ev.IsError {
		w.Errors++
		s.errors = append(s.errors, ev)
		if over := len(s.errors) - s.maxErrors; over > 0 {
			s.errors = slices.Delete(s.errors, 0, over)
		}
	}
	s.mu.Unlock()

	s.render(ev)
}

func (s *Sink) render(ev Status) {
	if s.renderer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().Interface("panic", r).Int("worker", ev.WorkerID).Msg("status renderer panicked")
		}
	}()
	if err := s.renderer.Render(ev); err != nil {
		s.logger.Warn().Err(err).Int("worker", ev.WorkerID).Msg("status render failed")
	}
}

// Snapshot returns a copy of the current state, workers ordered by id.
func (s *Sink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	snap := Snapshot{
		Workers:      make([]WorkerView, 0, len(ids)),
		RecentErrors: slices.Clone(s.errors),
	}
	for _, id := range ids {
		snap.Workers = append(snap.Workers, *s.workers[id])
	}
	return snap
}
