// Package sysinfo measures the node figures attached to proof submissions.
package sysinfo

import (
	"math"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/proofnode/internal/orchestrator"
)

const (
	flopsIterations = 1_000_000
	// sin, add, multiply, divide
	opsPerIteration = 4
)

// MeasureFlops runs a short floating point loop on every core and returns
// the aggregate rate in operations per second.
func MeasureFlops() float64 {
	return measureFlops(runtime.GOMAXPROCS(0), flopsIterations)
}

func measureFlops(cores, iterations int) float64 {
	if cores < 1 {
		cores = 1
	}
	var g errgroup.Group
	sinks := make([]float64, cores)

	start := time.Now()
	for i := 0; i < cores; i++ {
		i := i
		g.Go(func() error {
			x := 1.0
			for n := 0; n < iterations; n++ {
				x = (math.Sin(x) + 1.0) * 0.5 / 1.1
			}
			sinks[i] = x
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}

	total := float64(cores) * float64(iterations) * opsPerIteration
	return total / elapsed
}

// EncodeMB converts bytes to the wire encoding of memory figures:
// megabytes times 1000, rounded, saturating at the int32 range.
func EncodeMB(bytes uint64) int32 {
	v := math.Round(float64(bytes) * 1000 / (1 << 20))
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

// DecodeMB is the inverse of EncodeMB.
func DecodeMB(v int32) float64 {
	return float64(v) / 1000
}

// Probe produces NodeTelemetry for submissions. The FLOPS figure is
// measured once; memory is sampled on every call.
type Probe struct {
	location string
	flops    int32
	once     sync.Once
	measure  func() float64
	memory   func() (used, total uint64, ok bool)
}

// NewProbe returns a probe reporting location, which may be empty.
func NewProbe(location string) *Probe {
	return &Probe{location: location, measure: MeasureFlops, memory: memoryInfo}
}

// Telemetry samples the current figures.
func (p *Probe) Telemetry() orchestrator.NodeTelemetry {
	p.once.Do(func() {
		f := p.measure()
		if f > math.MaxInt32 {
			f = math.MaxInt32
		}
		p.flops = int32(f)
	})

	t := orchestrator.NodeTelemetry{FlopsPerSec: orchestrator.Int32(p.flops)}
	if used, total, ok := p.memory(); ok {
		t.MemoryUsedMB = orchestrator.Int32(EncodeMB(used))
		if total > 0 {
			t.MemoryCapacityMB = orchestrator.Int32(EncodeMB(total))
		}
	}
	if p.location != "" {
		t.Location = orchestrator.String(p.location)
	}
	return t
}
