// Package telemetry decodes sensor frames and feeds them to the sensor state
// from a serial link, an MQTT broker or a synthetic generator.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/ultrasonic.radar/internal/monitoring"
	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
)

// Frame sizes in bytes. A minimal frame carries the angle and distance; an
// extended frame appends four int32 config echo values.
const (
	MinimalFrameSize  = 8
	ExtendedFrameSize = 24
)

var (
	ErrFrameLength = errors.New("unexpected telemetry frame length")
	ErrNonFinite   = errors.New("non-finite value in telemetry frame")
)

// AngleEncoding selects how the first four bytes of a frame are read.
// Firmware revisions differ: some send whole degrees as int32, others a
// float32.
type AngleEncoding int

const (
	AngleInt32 AngleEncoding = iota
	AngleFloat32
)

// ParseAngleEncoding accepts "int32" or "float32" (case-insensitive).
func ParseAngleEncoding(s string) (AngleEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "int", "int32":
		return AngleInt32, nil
	case "float", "float32":
		return AngleFloat32, nil
	default:
		return 0, fmt.Errorf("unsupported angle encoding %q: expected int32 or float32", s)
	}
}

func (e AngleEncoding) String() string {
	if e == AngleFloat32 {
		return "float32"
	}
	return "int32"
}

// Decoder converts little-endian telemetry frames into samples.
type Decoder struct {
	Angle AngleEncoding
}

// Decode parses a minimal or extended frame. Frames of any other length
// return an error wrapping ErrFrameLength.
func (d Decoder) Decode(frame []byte) (sensor.Sample, error) {
	if len(frame) != MinimalFrameSize && len(frame) != ExtendedFrameSize {
		return sensor.Sample{}, fmt.Errorf("%w: got %d bytes, want %d or %d",
			ErrFrameLength, len(frame), MinimalFrameSize, ExtendedFrameSize)
	}

	le := binary.LittleEndian
	var angle float64
	if d.Angle == AngleFloat32 {
		angle = float64(math.Float32frombits(le.Uint32(frame[0:4])))
	} else {
		angle = float64(int32(le.Uint32(frame[0:4])))
	}
	distance := float64(math.Float32frombits(le.Uint32(frame[4:8])))

	if !isFinite(angle) || !isFinite(distance) {
		return sensor.Sample{}, fmt.Errorf("%w: angle=%v distance=%v", ErrNonFinite, angle, distance)
	}

	sample := sensor.Sample{Angle: angle, Distance: distance}
	if len(frame) == ExtendedFrameSize {
		sample.Config = &sensor.ConfigEcho{
			MotorSpeed:           int32(le.Uint32(frame[8:12])),
			DistanceThreshold:    int32(le.Uint32(frame[12:16])),
			MaxDetectionDistance: int32(le.Uint32(frame[16:20])),
			SleepTimeout:         int32(le.Uint32(frame[20:24])),
		}
	}
	return sample, nil
}

// Encode is the inverse of Decode. Samples with a config echo produce an
// extended frame. Int32 angles are rounded to the nearest degree.
func (d Decoder) Encode(s sensor.Sample) []byte {
	size := MinimalFrameSize
	if s.Config != nil {
		size = ExtendedFrameSize
	}
	frame := make([]byte, size)

	le := binary.LittleEndian
	if d.Angle == AngleFloat32 {
		le.PutUint32(frame[0:4], math.Float32bits(float32(s.Angle)))
	} else {
		le.PutUint32(frame[0:4], uint32(int32(math.Round(s.Angle))))
	}
	le.PutUint32(frame[4:8], math.Float32bits(float32(s.Distance)))

	if s.Config != nil {
		le.PutUint32(frame[8:12], uint32(s.Config.MotorSpeed))
		le.PutUint32(frame[12:16], uint32(s.Config.DistanceThreshold))
		le.PutUint32(frame[16:20], uint32(s.Config.MaxDetectionDistance))
		le.PutUint32(frame[20:24], uint32(s.Config.SleepTimeout))
	}
	return frame
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Dispatch decodes frame and applies it to dst. Frames that fail to decode
// are logged and dropped; the return value reports whether dst saw a sample.
func Dispatch(d Decoder, frame []byte, dst sensor.Applier) bool {
	sample, err := d.Decode(frame)
	if err != nil {
		monitoring.Logf("dropping telemetry frame % x: %v", frame, err)
		return false
	}
	monitoring.Debugf("sample angle=%.2f distance=%.2f", sample.Angle, sample.Distance)
	dst.ApplySample(sample)
	return true
}
