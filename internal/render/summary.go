package render

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/sweep"
)

// Summary is a compact description of a snapshot for dashboards and logs.
// Distance statistics only consider in-range (non-negative) readings and are
// nil when there are none.
type Summary struct {
	Points       int           `json:"points"`
	InRange      int           `json:"in_range"`
	MinDistance  *float64      `json:"min_distance"`
	MeanDistance *float64      `json:"mean_distance"`
	MinAngle     *float64      `json:"min_angle"`
	MaxAngle     *float64      `json:"max_angle"`
	Current      sweep.Reading `json:"current"`
	Samples      uint64        `json:"samples"`
}

// Summarize computes the summary of snap.
func Summarize(snap sensor.Snapshot) Summary {
	s := Summary{
		Points:  len(snap.Angles),
		Current: snap.Current,
		Samples: snap.Samples,
	}
	if len(snap.Angles) > 0 {
		lo, hi := snap.Angles[0], snap.Angles[len(snap.Angles)-1]
		s.MinAngle, s.MaxAngle = &lo, &hi
	}

	inRange := make([]float64, 0, len(snap.Distances))
	for _, d := range snap.Distances {
		if d >= 0 {
			inRange = append(inRange, d)
		}
	}
	s.InRange = len(inRange)
	if len(inRange) == 0 {
		return s
	}
	lo := floats.Min(inRange)
	mean := stat.Mean(inRange, nil)
	s.MinDistance, s.MeanDistance = &lo, &mean
	return s
}
