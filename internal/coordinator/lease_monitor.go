// Package coordinator provides the local orchestrator that hands out proof tasks.
// This file implements periodic reclamation of expired task leases.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LeaseMonitor periodically reclaims expired task leases so a node that
// vanished mid-proof does not hold its quota forever.
// Thread-safe: Start and Stop may be called from different goroutines.
type LeaseMonitor struct {
	registry  *TaskRegistry          // Registry whose leases are swept
	onReclaim func(taskIDs []uint64) // Invoked after each non-empty sweep
	now       func() time.Time       // Clock, replaceable in tests
	logger    zerolog.Logger         // Component logger
	ctx       context.Context        // Internal context, cancelled by Stop
	cancel    context.CancelFunc     // Cancel function for shutdown
	wg        sync.WaitGroup         // Tracks the sweep loop goroutine
	interval  time.Duration          // How often to sweep
	mu        sync.Mutex             // Protects reclaimed
	reclaimed int                    // Total leases reclaimed since start
}

// NewLeaseMonitor creates a monitor sweeping registry every interval.
// The monitor does nothing until Start is called.
//
// Parameters:
//   - registry: Task registry to sweep (required)
//   - interval: How often to look for expired leases (recommended: TTL/4)
//   - logger: Parent logger; the monitor adds its own component field
//
// Returns:
//   - *LeaseMonitor: Configured monitor ready to start
//
// Example:
//
//	monitor := NewLeaseMonitor(registry, 30*time.Second, logger)
//	monitor.Start(ctx)
//	defer monitor.Stop()
func NewLeaseMonitor(registry *TaskRegistry, interval time.Duration, logger zerolog.Logger) *LeaseMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaseMonitor{
		registry: registry,
		interval: interval,
		logger:   logger.With().Str("component", "lease-monitor").Logger(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnReclaim sets a callback invoked with the ids of reclaimed tasks.
// It must be set before Start.
//
// Parameters:
//   - callback: Function receiving the reclaimed task ids in ascending order
//
// Example:
//
//	monitor.SetOnReclaim(func(ids []uint64) {
//	    logger.Warn().Uints64("tasks", ids).Msg("tasks returned to the pool")
//	})
func (m *LeaseMonitor) SetOnReclaim(callback func(taskIDs []uint64)) {
	m.onReclaim = callback
}

// Start launches the sweep loop in its own goroutine and returns at once.
// The loop ends when ctx is done or Stop is called.
//
// Parameters:
//   - ctx: Context for cancellation; nil uses the monitor's internal context
//
// Example:
//
//	monitor.Start(ctx)
//	<-ctx.Done()
//	monitor.Wait()
func (m *LeaseMonitor) Start(ctx context.Context) {
	if ctx == nil {
		ctx = m.ctx
	}
	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *LeaseMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("lease monitor started")

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			m.logger.Debug().Msg("lease monitor stopping: context cancelled")
			return
		case <-m.ctx.Done():
			m.logger.Debug().Msg("lease monitor stopping: stopped")
			return
		}
	}
}

// Wait blocks until the sweep loop has exited.
func (m *LeaseMonitor) Wait() {
	m.wg.Wait()
}

// Stop cancels the monitor and waits for the loop to exit.
func (m *LeaseMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Sweep reclaims expired leases once and returns their task ids.
// The loop calls it on every tick; tests call it directly.
//
// Returns:
//   - []uint64: Reclaimed task ids in ascending order, nil if none expired
func (m *LeaseMonitor) Sweep() []uint64 {
	ids := m.registry.Reclaim(m.now())
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	m.reclaimed += len(ids)
	m.mu.Unlock()

	m.logger.Warn().Int("count", len(ids)).Uints64("tasks", ids).Msg("reclaimed expired leases")
	if m.onReclaim != nil {
		m.onReclaim(ids)
	}
	return ids
}

// Reclaimed is the total number of leases reclaimed so far.
func (m *LeaseMonitor) Reclaimed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reclaimed
}
