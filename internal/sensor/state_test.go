package sensor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrasonic.radar/internal/sweep"
)

// oscillation returns n samples sweeping back and forth over [0, 90] in
// 2.5 degree steps with distinct distances.
func oscillation(n int) []Sample {
	out := make([]Sample, 0, n)
	angle, forward := 0.0, true
	for i := 0; i < n; i++ {
		out = append(out, Sample{Angle: angle, Distance: float64(i%50) + 0.25})
		if forward {
			angle += 2.5
			if angle >= 90 {
				angle, forward = 90, false
			}
		} else {
			angle -= 2.5
			if angle <= 0 {
				angle, forward = 0, true
			}
		}
	}
	return out
}

func TestState_StartsZeroed(t *testing.T) {
	s := NewState()
	snap := s.Snapshot()

	assert.Empty(t, snap.Angles)
	assert.Empty(t, snap.Distances)
	assert.NotNil(t, snap.Angles, "empty snapshot should encode as [] not null")
	assert.Equal(t, sweep.Reading{}, snap.Current)
	assert.Equal(t, ConfigEcho{}, snap.Config)
	assert.Zero(t, snap.Samples)
}

func TestState_ApplySampleTracksPreviousAngle(t *testing.T) {
	s := NewState()
	s.ApplySample(Sample{Angle: 10, Distance: 20})
	s.ApplySample(Sample{Angle: 15, Distance: 25})

	snap := s.Snapshot()
	assert.Equal(t, 10.0, snap.PreviousAngle)
	assert.Equal(t, sweep.Reading{Angle: 15, Distance: 25}, snap.Current)
	assert.Equal(t, []float64{10, 15}, snap.Angles)
	assert.Equal(t, []float64{20, 25}, snap.Distances)
	assert.Equal(t, uint64(2), snap.Samples)
}

func TestState_ConfigEchoOnlyFromExtendedFrames(t *testing.T) {
	s := NewState()
	echo := &ConfigEcho{MotorSpeed: 300, DistanceThreshold: 50, MaxDetectionDistance: 200, SleepTimeout: 30}

	s.ApplySample(Sample{Angle: 1, Distance: 2, Config: echo})
	s.ApplySample(Sample{Angle: 2, Distance: 3})

	assert.Equal(t, *echo, s.Snapshot().Config, "minimal frame must not clear the echo")
}

func TestState_NegativeDistanceStoredByDefault(t *testing.T) {
	s := NewState()
	s.ApplySample(Sample{Angle: 30, Distance: -1})

	snap := s.Snapshot()
	require.Len(t, snap.Angles, 1)
	assert.Equal(t, -1.0, snap.Distances[0])
}

func TestState_OutOfRangeFilter(t *testing.T) {
	s := NewState(WithOutOfRangeFilter(true))
	s.ApplySample(Sample{Angle: 10, Distance: 5})
	s.ApplySample(Sample{Angle: 20, Distance: -1})
	s.ApplySample(Sample{Angle: 30, Distance: 7})

	snap := s.Snapshot()
	assert.Equal(t, []float64{10, 30}, snap.Angles)
	assert.Equal(t, 20.0, snap.PreviousAngle)
	assert.Equal(t, sweep.Reading{Angle: 30, Distance: 7}, snap.Current)
}

func TestState_SnapshotIsACopy(t *testing.T) {
	s := NewState()
	s.ApplySample(Sample{Angle: 5, Distance: 5})
	snap := s.Snapshot()
	snap.Angles[0] = 100
	snap.Distances[0] = 100

	again := s.Snapshot()
	assert.Equal(t, []float64{5}, again.Angles)
	assert.Equal(t, []float64{5}, again.Distances)
}

func TestState_ConcurrentApplyAndSnapshot(t *testing.T) {
	samples := oscillation(2000)

	want := NewState()
	for _, sm := range samples {
		want.ApplySample(sm)
	}

	s := NewState()
	ctx, cancel := context.WithCancel(context.Background())
	var readers sync.WaitGroup
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for ctx.Err() == nil {
				snap := s.Snapshot()
				if len(snap.Angles) != len(snap.Distances) {
					t.Errorf("mismatched snapshot: %d angles, %d distances", len(snap.Angles), len(snap.Distances))
					return
				}
			}
		}()
	}

	// Single producer, so submission order is arrival order.
	for _, sm := range samples {
		s.ApplySample(sm)
	}
	cancel()
	readers.Wait()

	assert.Equal(t, want.Snapshot(), s.Snapshot())
}

func TestOwner_MatchesSequentialState(t *testing.T) {
	samples := oscillation(500)

	want := NewState()
	for _, sm := range samples {
		want.ApplySample(sm)
	}

	o := NewOwner(NewState())
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx) }()

	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 200; j++ {
				snap := o.Snapshot()
				if len(snap.Angles) != len(snap.Distances) {
					t.Errorf("mismatched snapshot: %d angles, %d distances", len(snap.Angles), len(snap.Distances))
					return
				}
			}
		}()
	}
	for _, sm := range samples {
		o.ApplySample(sm)
	}
	readers.Wait()

	assert.Equal(t, want.Snapshot(), o.Snapshot())

	cancel()
	require.ErrorIs(t, <-runErr, context.Canceled)

	// After Run exits, calls return instead of blocking.
	o.ApplySample(Sample{Angle: 1, Distance: 1})
	assert.Equal(t, want.Snapshot(), o.Snapshot())
}

func TestOwnerAndStateSatisfyInterfaces(t *testing.T) {
	var _ Applier = (*State)(nil)
	var _ Snapshotter = (*State)(nil)
	var _ Applier = (*Owner)(nil)
	var _ Snapshotter = (*Owner)(nil)
}
