// Package resource implements the Resource Monitor: a smoothed sampler of
// CPU, memory, and IO pressure that the Task Scheduler consults for
// admission decisions and throttling.
package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/eventbus"
)

// defaultAlpha is the exponential-moving-average smoothing factor (§4.1).
const defaultAlpha = 0.3

// throttleThreshold is the per-dimension usage level that, sustained for two
// consecutive samples, trips [Monitor.ShouldThrottle].
const throttleThreshold = 0.8

// Sampler reads instantaneous, unsmoothed resource usage. Implementations
// are injected so the core never depends on a specific OS sampling library;
// production deployments typically wrap gopsutil or /proc readers.
type Sampler interface {
	// Sample returns the current {cpu, mem, io} usage fractions in [0,1],
	// or an error if the read failed.
	Sample(ctx context.Context) (Reading, error)
}

// Reading is a single resource usage observation.
type Reading struct {
	CPUUsage float64
	MemUsage float64
	IOPress  float64
}

// clamp01 constrains x to [0,1], protecting against a misbehaving Sampler.
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Monitor samples a [Sampler] on a fixed cadence, smooths readings with an
// exponential moving average, and exposes [Monitor.ShouldThrottle]. On
// sampling failure the last known reading is retained and a degraded signal
// is published to the [eventbus.Bus].
//
// Monitor is safe for concurrent use.
type Monitor struct {
	sampler Sampler
	clock   clock.Clock
	bus     *eventbus.Bus
	alpha   float64
	hz      float64

	mu               sync.RWMutex
	smoothed         Reading
	overThreshold    [3]bool // cpu, mem, io — true if the last two samples were >= threshold
	consecutiveOver  [3]int
	degraded         bool
	lastSampleFailed bool
}

// Config configures a [Monitor]. Zero values take the documented defaults.
type Config struct {
	// Hz is the sampling cadence. Must be >= 10 per §4.1. Default: 10.
	Hz float64

	// Alpha is the EMA smoothing factor. Default: 0.3.
	Alpha float64
}

// New creates a [Monitor] that samples sampler at cfg.Hz, publishing degraded
// signals to bus. clk supplies time for the sampling loop.
func New(sampler Sampler, bus *eventbus.Bus, clk clock.Clock, cfg Config) *Monitor {
	hz := cfg.Hz
	if hz < 10 {
		hz = 10
	}
	alpha := cfg.Alpha
	if alpha <= 0 {
		alpha = defaultAlpha
	}
	return &Monitor{
		sampler: sampler,
		clock:   clk,
		bus:     bus,
		alpha:   alpha,
		hz:      hz,
	}
}

// Run drives the sampling loop until ctx is cancelled. It is intended to be
// launched in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	period := time.Duration(float64(time.Second) / m.hz)
	ticker := m.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.tick(ctx)
		}
	}
}

// tick performs a single sample-and-smooth step.
func (m *Monitor) tick(ctx context.Context) {
	reading, err := m.sampler.Sample(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if !m.lastSampleFailed {
			slog.Warn("resource monitor: sample failed, retaining last reading", "error", err)
		}
		m.lastSampleFailed = true
		if !m.degraded {
			m.degraded = true
			m.publishDegraded(true, err)
		}
		// Retain last known smoothed reading; do not update over-threshold
		// streaks on a failed sample.
		return
	}

	if m.lastSampleFailed {
		m.degraded = false
		m.lastSampleFailed = false
		m.publishDegraded(false, nil)
	}

	reading.CPUUsage = clamp01(reading.CPUUsage)
	reading.MemUsage = clamp01(reading.MemUsage)
	reading.IOPress = clamp01(reading.IOPress)

	if m.smoothed == (Reading{}) {
		m.smoothed = reading
	} else {
		m.smoothed.CPUUsage = ema(m.smoothed.CPUUsage, reading.CPUUsage, m.alpha)
		m.smoothed.MemUsage = ema(m.smoothed.MemUsage, reading.MemUsage, m.alpha)
		m.smoothed.IOPress = ema(m.smoothed.IOPress, reading.IOPress, m.alpha)
	}

	dims := [3]float64{m.smoothed.CPUUsage, m.smoothed.MemUsage, m.smoothed.IOPress}
	for i, v := range dims {
		if v >= throttleThreshold {
			m.consecutiveOver[i]++
		} else {
			m.consecutiveOver[i] = 0
		}
		m.overThreshold[i] = m.consecutiveOver[i] >= 2
	}
}

func ema(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

// publishDegraded emits a degraded-state event on the bus. Must not be
// called while m.mu is held by the caller for longer than necessary; it is
// called here under the write lock, which is acceptable since Publish never
// blocks (see eventbus.Bus).
func (m *Monitor) publishDegraded(degraded bool, cause error) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Kind:     eventbus.KindResourceDegraded,
		Degraded: &eventbus.DegradedInfo{Degraded: degraded, Cause: cause},
	})
}

// Current returns the latest smoothed [Reading].
func (m *Monitor) Current() Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.smoothed
}

// ShouldThrottle reports whether any dimension has been at or above 0.8 for
// two consecutive samples (§4.1).
func (m *Monitor) ShouldThrottle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overThreshold[0] || m.overThreshold[1] || m.overThreshold[2]
}

// WouldExceed reports whether admitting a task using additionalCPU of CPU
// share would push predicted CPU usage above the admission ceiling
// (§4.6 Admission, condition ii: cpu_usage + task.cpu_share <= 0.95).
func (m *Monitor) WouldExceed(additionalCPU float64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.smoothed.CPUUsage+additionalCPU > 0.95
}

// IsDegraded reports whether the most recent sample failed.
func (m *Monitor) IsDegraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}
