// Package sweep maintains the angle-sorted reading buffer behind the polar
// point cloud. Each new sample clears the arc the beam just travelled across
// and is then inserted at its sorted position, so readings outside that arc
// persist until the beam comes back for them.
package sweep

import (
	"slices"
	"sort"
)

// Reading is a single angle/distance observation. Angles are in degrees. A
// negative distance is the sensor's "no target" sentinel and is stored like
// any other value.
type Reading struct {
	Angle    float64 `json:"angle"`
	Distance float64 `json:"distance"`
}

// Buffer holds at most one reading per angle, ordered by ascending angle.
// The zero value is an empty buffer ready for use. Buffer is not safe for
// concurrent use; the sensor state serialises access to it.
type Buffer struct {
	angles    []float64
	distances []float64
}

// Advance removes every stored reading in the arc swept from previous to
// current and inserts (current, distance) at its sorted position.
//
// The arc excludes previous and includes current in both directions:
//
//	previous < current: (previous, current]
//	previous > current: [current, previous)
//	previous == current: only the reading at current
//
// After removal no reading remains at current, so the insert never creates a
// duplicate angle.
func (b *Buffer) Advance(previous, current, distance float64) {
	lo, hi := b.sweptRange(previous, current)
	b.angles = slices.Delete(b.angles, lo, hi)
	b.distances = slices.Delete(b.distances, lo, hi)

	i := lowerBound(b.angles, current)
	b.angles = slices.Insert(b.angles, i, current)
	b.distances = slices.Insert(b.distances, i, distance)
}

// sweptRange returns the half-open index range [lo, hi) of stored readings
// covered by the move from previous to current.
func (b *Buffer) sweptRange(previous, current float64) (lo, hi int) {
	switch {
	case previous < current:
		return upperBound(b.angles, previous), upperBound(b.angles, current)
	case previous > current:
		return lowerBound(b.angles, current), lowerBound(b.angles, previous)
	default:
		return lowerBound(b.angles, current), upperBound(b.angles, current)
	}
}

// lowerBound returns the first index whose angle is >= x.
func lowerBound(angles []float64, x float64) int {
	return sort.SearchFloat64s(angles, x)
}

// upperBound returns the first index whose angle is > x.
func upperBound(angles []float64, x float64) int {
	return sort.Search(len(angles), func(i int) bool { return angles[i] > x })
}

// Len returns the number of stored readings.
func (b *Buffer) Len() int {
	return len(b.angles)
}

// Angles returns a copy of the stored angles in ascending order.
func (b *Buffer) Angles() []float64 {
	return slices.Clone(b.angles)
}

// Distances returns a copy of the stored distances, parallel to Angles.
func (b *Buffer) Distances() []float64 {
	return slices.Clone(b.distances)
}

// Readings returns a copy of the buffer as angle/distance pairs.
func (b *Buffer) Readings() []Reading {
	out := make([]Reading, len(b.angles))
	for i := range b.angles {
		out[i] = Reading{Angle: b.angles[i], Distance: b.distances[i]}
	}
	return out
}

// At returns the distance stored at exactly angle, if any.
func (b *Buffer) At(angle float64) (float64, bool) {
	i := lowerBound(b.angles, angle)
	if i < len(b.angles) && b.angles[i] == angle {
		return b.distances[i], true
	}
	return 0, false
}
