// Package sensor holds the process-wide view of the range sensor: the sweep
// buffer, the latest sample and the configuration the device reports back.
package sensor

import (
	"sync"

	"github.com/banshee-data/ultrasonic.radar/internal/sweep"
)

// ConfigEcho is the device configuration reported inside extended telemetry
// frames. It reflects what the device is running, not what a settings panel
// may have staged.
type ConfigEcho struct {
	MotorSpeed           int32 `json:"motor_speed"`
	DistanceThreshold    int32 `json:"distance_threshold"`
	MaxDetectionDistance int32 `json:"max_detection_distance"`
	SleepTimeout         int32 `json:"sleep_timeout"`
}

// Sample is one decoded telemetry frame. Config is nil for minimal frames.
type Sample struct {
	Angle    float64
	Distance float64
	Config   *ConfigEcho
}

// Snapshot is an immutable copy of the sensor state for rendering. Angles
// and Distances are parallel and always the same length.
type Snapshot struct {
	Angles        []float64     `json:"angles"`
	Distances     []float64     `json:"distances"`
	Current       sweep.Reading `json:"current"`
	PreviousAngle float64       `json:"previous_angle"`
	Config        ConfigEcho    `json:"config"`
	Samples       uint64        `json:"samples"`
}

// Applier accepts decoded samples in arrival order.
type Applier interface {
	ApplySample(Sample)
}

// Snapshotter serves consistent copies of the sensor state.
type Snapshotter interface {
	Snapshot() Snapshot
}

// Option configures a State.
type Option func(*State)

// WithOutOfRangeFilter skips the buffer update for negative ("no target")
// distances. The current point and config echo are still updated.
func WithOutOfRangeFilter(enabled bool) Option {
	return func(s *State) {
		s.filterOutOfRange = enabled
	}
}

// State guards the sweep buffer and latest sample behind a single mutex. All
// methods are safe for concurrent use and hold the lock only for in-memory
// work.
type State struct {
	mu sync.Mutex

	previousAngle   float64
	currentAngle    float64
	currentDistance float64
	config          ConfigEcho
	buffer          sweep.Buffer
	samples         uint64

	filterOutOfRange bool
}

// NewState returns a State with zeroed fields and an empty buffer.
func NewState(opts ...Option) *State {
	s := &State{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplySample records a new sample and advances the sweep buffer from the
// previous angle to the sample's angle.
func (s *State) ApplySample(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.previousAngle = s.currentAngle
	s.currentAngle = sample.Angle
	s.currentDistance = sample.Distance
	if sample.Config != nil {
		s.config = *sample.Config
	}
	s.samples++

	if s.filterOutOfRange && sample.Distance < 0 {
		return
	}
	s.buffer.Advance(s.previousAngle, s.currentAngle, s.currentDistance)
}

// Snapshot returns a copy of the buffer and latest sample.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	angles := s.buffer.Angles()
	distances := s.buffer.Distances()
	if angles == nil {
		angles, distances = []float64{}, []float64{}
	}
	return Snapshot{
		Angles:        angles,
		Distances:     distances,
		Current:       sweep.Reading{Angle: s.currentAngle, Distance: s.currentDistance},
		PreviousAngle: s.previousAngle,
		Config:        s.config,
		Samples:       s.samples,
	}
}
