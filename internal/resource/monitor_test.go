package resource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxveil/corona/internal/clock"
	"github.com/nyxveil/corona/internal/eventbus"
)

type fakeSampler struct {
	readings []Reading
	errs     []error
	idx      int
}

func (f *fakeSampler) Sample(ctx context.Context) (Reading, error) {
	if f.idx >= len(f.readings) {
		f.idx = len(f.readings) - 1
	}
	r := f.readings[f.idx]
	var err error
	if f.idx < len(f.errs) {
		err = f.errs[f.idx]
	}
	f.idx++
	return r, err
}

func TestTickSmoothsReadingsWithEMA(t *testing.T) {
	sampler := &fakeSampler{readings: []Reading{
		{CPUUsage: 1.0, MemUsage: 0, IOPress: 0},
		{CPUUsage: 0.0, MemUsage: 0, IOPress: 0},
	}}
	clk := clock.NewFake(time.Unix(0, 0))
	m := New(sampler, nil, clk, Config{Alpha: 0.3})

	m.tick(context.Background())
	assert.Equal(t, 1.0, m.Current().CPUUsage)

	m.tick(context.Background())
	assert.InDelta(t, 0.7, m.Current().CPUUsage, 1e-9)
}

func TestShouldThrottleAfterTwoConsecutiveOverThreshold(t *testing.T) {
	sampler := &fakeSampler{readings: []Reading{
		{CPUUsage: 0.9}, {CPUUsage: 0.9}, {CPUUsage: 0.9},
	}}
	clk := clock.NewFake(time.Unix(0, 0))
	m := New(sampler, nil, clk, Config{Alpha: 1.0})

	m.tick(context.Background())
	assert.False(t, m.ShouldThrottle(), "a single over-threshold sample must not trip throttling")

	m.tick(context.Background())
	assert.True(t, m.ShouldThrottle())
}

func TestShouldThrottleResetsOnDrop(t *testing.T) {
	sampler := &fakeSampler{readings: []Reading{
		{CPUUsage: 0.9}, {CPUUsage: 0.9}, {CPUUsage: 0.1}, {CPUUsage: 0.9},
	}}
	clk := clock.NewFake(time.Unix(0, 0))
	m := New(sampler, nil, clk, Config{Alpha: 1.0})

	for i := 0; i < 3; i++ {
		m.tick(context.Background())
	}
	assert.False(t, m.ShouldThrottle(), "a below-threshold sample must reset the streak")

	m.tick(context.Background())
	assert.False(t, m.ShouldThrottle(), "only one consecutive over-threshold sample since the reset")
}

func TestWouldExceedAdmissionCeiling(t *testing.T) {
	sampler := &fakeSampler{readings: []Reading{{CPUUsage: 0.5}}}
	clk := clock.NewFake(time.Unix(0, 0))
	m := New(sampler, nil, clk, Config{})
	m.tick(context.Background())

	assert.False(t, m.WouldExceed(0.3))
	assert.True(t, m.WouldExceed(0.5))
}

func TestTickPublishesDegradedOnSampleFailure(t *testing.T) {
	sampler := &fakeSampler{
		readings: []Reading{{}, {}},
		errs:     []error{errors.New("read failed"), nil},
	}
	bus := eventbus.New(4)
	sub := bus.Subscribe()
	clk := clock.NewFake(time.Unix(0, 0))
	m := New(sampler, bus, clk, Config{})

	m.tick(context.Background())
	assert.True(t, m.IsDegraded())

	ev := <-sub.Events()
	require.NotNil(t, ev.Degraded)
	assert.True(t, ev.Degraded.Degraded)

	m.tick(context.Background())
	assert.False(t, m.IsDegraded())

	ev = <-sub.Events()
	require.NotNil(t, ev.Degraded)
	assert.False(t, ev.Degraded.Degraded)
}

func TestNewClampsLowHzToMinimum(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m := New(&fakeSampler{readings: []Reading{{}}}, nil, clk, Config{Hz: 1})
	assert.Equal(t, 10.0, m.hz)
}
