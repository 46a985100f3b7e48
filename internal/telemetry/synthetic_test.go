package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/settings"
	"github.com/banshee-data/ultrasonic.radar/internal/timeutil"
)

type collector struct {
	mu      sync.Mutex
	samples []sensor.Sample
}

func (c *collector) ApplySample(s sensor.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func TestSyntheticSource_AngleTrajectory(t *testing.T) {
	s := NewSyntheticSource(SyntheticConfig{ArcMin: 0, ArcMax: 90, Step: 2.5, Seed: 1})

	var angles []float64
	for i := 0; i < 74; i++ {
		angles = append(angles, s.Next().Angle)
	}

	// Out to 90 in 36 steps, back to 0 in 36, then forward again.
	assert.Equal(t, 2.5, angles[0])
	assert.Equal(t, 90.0, angles[35])
	assert.Equal(t, 87.5, angles[36])
	assert.Equal(t, 0.0, angles[71])
	assert.Equal(t, 2.5, angles[72])
	for _, a := range angles {
		assert.GreaterOrEqual(t, a, 0.0)
		assert.LessOrEqual(t, a, 90.0)
	}
}

func TestSyntheticSource_EndpointClampOnUnevenStep(t *testing.T) {
	s := NewSyntheticSource(SyntheticConfig{ArcMin: 0, ArcMax: 10, Step: 4, Seed: 1})

	var angles []float64
	for i := 0; i < 6; i++ {
		angles = append(angles, s.Next().Angle)
	}
	assert.Equal(t, []float64{4, 8, 10, 6, 2, 0}, angles)
}

func TestSyntheticSource_DistanceWalkBounded(t *testing.T) {
	s := NewSyntheticSource(SyntheticConfig{Seed: 42})

	prev := 0.0
	for i := 0; i < 5000; i++ {
		d := s.Next().Distance
		require.GreaterOrEqual(t, d, 0.0)
		require.LessOrEqual(t, d, 100.0)

		delta := d - prev
		if prev > 30 {
			require.True(t, delta >= -3 && delta <= 2, "far step %v out of range", delta)
		} else {
			require.True(t, delta >= -2 && delta <= 3, "near step %v out of range", delta)
		}
		prev = d
	}
}

func TestSyntheticSource_SeedIsDeterministic(t *testing.T) {
	a := NewSyntheticSource(SyntheticConfig{Seed: 7})
	b := NewSyntheticSource(SyntheticConfig{Seed: 7})
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestSyntheticSource_SettingsEcho(t *testing.T) {
	s := NewSyntheticSource(SyntheticConfig{Echo: sensor.ConfigEcho{MotorSpeed: 1}})
	first := s.Next()
	require.NotNil(t, first.Config)
	assert.Equal(t, int32(1), first.Config.MotorSpeed)

	want := settings.Values{MotorSpeed: 300, DistanceThreshold: 40, MaxDetectionDistance: 120, SleepTimeout: 15}
	require.NoError(t, s.SendSettings(context.Background(), settings.EncodeFrame(want)))

	next := s.Next()
	require.NotNil(t, next.Config)
	assert.Equal(t, want, *next.Config)

	assert.ErrorIs(t, s.SendSettings(context.Background(), []byte{1, 2}), settings.ErrInvalid)
}

func TestSyntheticSource_RunFollowsClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSyntheticSource(SyntheticConfig{Interval: 100 * time.Millisecond, Clock: clock})
	dst := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, dst) }()

	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	for i := 1; i <= 3; i++ {
		clock.Advance(100 * time.Millisecond)
		want := i
		require.Eventually(t, func() bool { return dst.len() == want }, time.Second, time.Millisecond)
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 3, dst.len())
}

func TestSyntheticSource_FeedsState(t *testing.T) {
	s := NewSyntheticSource(SyntheticConfig{Seed: 3})
	state := sensor.NewState()
	for i := 0; i < 36; i++ {
		state.ApplySample(s.Next())
	}

	// First sample jumps 0 -> 2.5; every subsequent grid point is kept.
	snap := state.Snapshot()
	assert.Len(t, snap.Angles, 36)
	assert.Equal(t, 2.5, snap.Angles[0])
	assert.Equal(t, 90.0, snap.Angles[len(snap.Angles)-1])
}
