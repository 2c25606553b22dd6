// Package progress collects status events from every worker into one view.
//
// Workers send Status values on a bounded channel; a single Sink goroutine
// owns the receive side. Delivery order is preserved per worker because each
// worker is the only producer of its own events. Nothing here feeds back into
// the workers: the sink is a pure observer.
package progress

import "time"

// DefaultBuffer is the capacity of the status channel. A full channel makes
// producers wait rather than drop events.
const DefaultBuffer = 100

// DefaultErrorHistory is how many recent errors the sink remembers.
const DefaultErrorHistory = 7

// Phase is the step of the task cycle a worker is in.
type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseComputing  Phase = "computing"
	PhaseSubmitting Phase = "submitting"
	PhaseCooldown   Phase = "cooldown"
	PhaseStopped    Phase = "stopped"
)

// Status is one event emitted by a worker.
type Status struct {
	At       time.Time
	Phase    Phase
	Message  string
	WorkerID int
	IsError  bool
	// Completed marks the event reporting an accepted proof.
	Completed bool
}

// NewChannel returns the shared status channel with the default capacity.
func NewChannel() chan Status {
	return make(chan Status, DefaultBuffer)
}
