package telemetry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/settings"
	"github.com/banshee-data/ultrasonic.radar/internal/timeutil"
)

// Source feeds samples to dst until ctx is cancelled or the link fails.
type Source interface {
	Run(ctx context.Context, dst sensor.Applier) error
}

// Synthetic generator defaults, matching the bench rig the dashboard was
// first tuned against.
const (
	DefaultSyntheticStep     = 2.5
	DefaultSyntheticInterval = 125 * time.Millisecond
	syntheticMaxDistance     = 100
	syntheticNearDistance    = 30
)

// SyntheticConfig configures a SyntheticSource.
type SyntheticConfig struct {
	ArcMin   float64
	ArcMax   float64
	Step     float64
	Interval time.Duration
	Seed     uint64
	Echo     sensor.ConfigEcho
	Clock    timeutil.Clock
}

// SyntheticSource stands in for a live sensor. The angle oscillates over the
// arc in fixed steps, clamping to the endpoints before reversing, and the
// distance performs a bounded random walk in [0, 100] that drifts down when
// far and up when near. Every sample carries the config echo, and settings
// sent to it are echoed back on the next sample like the real device.
type SyntheticSource struct {
	cfg SyntheticConfig

	mu       sync.Mutex
	angle    float64
	distance float64
	forward  bool
	echo     sensor.ConfigEcho
	steps    distuv.Categorical
}

// NewSyntheticSource returns a generator positioned at the start of the arc.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.ArcMax <= cfg.ArcMin {
		cfg.ArcMin, cfg.ArcMax = 0, 90
	}
	if cfg.Step <= 0 {
		cfg.Step = DefaultSyntheticStep
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyntheticInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	return &SyntheticSource{
		cfg:     cfg,
		angle:   cfg.ArcMin,
		forward: true,
		echo:    cfg.Echo,
		// Six equally likely outcomes, shifted into {-3..2} or {-2..3}.
		steps: distuv.NewCategorical([]float64{1, 1, 1, 1, 1, 1}, src),
	}
}

// Next advances the generator by one tick and returns the new sample.
func (s *SyntheticSource) Next() sensor.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.steps.Rand()
	delta := k - 2
	if s.distance > syntheticNearDistance {
		delta = k - 3
	}
	s.distance = min(max(s.distance+delta, 0), syntheticMaxDistance)

	if s.forward {
		s.angle += s.cfg.Step
		if s.angle >= s.cfg.ArcMax {
			s.angle = s.cfg.ArcMax
			s.forward = false
		}
	} else {
		s.angle -= s.cfg.Step
		if s.angle <= s.cfg.ArcMin {
			s.angle = s.cfg.ArcMin
			s.forward = true
		}
	}

	echo := s.echo
	return sensor.Sample{Angle: s.angle, Distance: s.distance, Config: &echo}
}

// Run emits one sample per interval.
func (s *SyntheticSource) Run(ctx context.Context, dst sensor.Applier) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			dst.ApplySample(s.Next())
		}
	}
}

// SendSettings accepts a settings frame and reports it in subsequent samples.
func (s *SyntheticSource) SendSettings(_ context.Context, frame []byte) error {
	values, err := settings.DecodeFrame(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.echo = values
	s.mu.Unlock()
	return nil
}
