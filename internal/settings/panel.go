// Package settings stages device configuration changes and pushes them to
// the sensor over whichever telemetry link is active.
package settings

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/ultrasonic.radar/internal/monitoring"
	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
)

// FrameSize is the length of an encoded settings record: four little-endian
// int32 values in the same order as the config echo.
const FrameSize = 16

var (
	ErrInvalid     = errors.New("invalid device settings")
	ErrNoSender    = errors.New("no settings link configured")
	ErrNothingToDo = errors.New("no pending settings to push")
)

// Sender delivers an encoded settings frame to the device.
type Sender interface {
	SendSettings(ctx context.Context, frame []byte) error
}

// Values is the set of device settings the panel can change. It shares its
// layout with the config echo the device reports back.
type Values = sensor.ConfigEcho

// Update is a partial change; nil fields keep their pending value.
type Update struct {
	MotorSpeed           *int32 `json:"motor_speed,omitempty"`
	DistanceThreshold    *int32 `json:"distance_threshold,omitempty"`
	MaxDetectionDistance *int32 `json:"max_detection_distance,omitempty"`
	SleepTimeout         *int32 `json:"sleep_timeout,omitempty"`
}

// Validate reports the first out-of-range value.
func Validate(v Values) error {
	fields := []struct {
		name  string
		value int32
	}{
		{"motor_speed", v.MotorSpeed},
		{"distance_threshold", v.DistanceThreshold},
		{"max_detection_distance", v.MaxDetectionDistance},
		{"sleep_timeout", v.SleepTimeout},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %d", ErrInvalid, f.name, f.value)
		}
	}
	if v.MaxDetectionDistance > 0 && v.DistanceThreshold > v.MaxDetectionDistance {
		return fmt.Errorf("%w: distance_threshold %d exceeds max_detection_distance %d",
			ErrInvalid, v.DistanceThreshold, v.MaxDetectionDistance)
	}
	return nil
}

// EncodeFrame packs v into a FrameSize record.
func EncodeFrame(v Values) []byte {
	frame := make([]byte, FrameSize)
	le := binary.LittleEndian
	le.PutUint32(frame[0:4], uint32(v.MotorSpeed))
	le.PutUint32(frame[4:8], uint32(v.DistanceThreshold))
	le.PutUint32(frame[8:12], uint32(v.MaxDetectionDistance))
	le.PutUint32(frame[12:16], uint32(v.SleepTimeout))
	return frame
}

// DecodeFrame unpacks a record produced by EncodeFrame.
func DecodeFrame(frame []byte) (Values, error) {
	if len(frame) != FrameSize {
		return Values{}, fmt.Errorf("%w: settings frame is %d bytes, want %d", ErrInvalid, len(frame), FrameSize)
	}
	le := binary.LittleEndian
	return Values{
		MotorSpeed:           int32(le.Uint32(frame[0:4])),
		DistanceThreshold:    int32(le.Uint32(frame[4:8])),
		MaxDetectionDistance: int32(le.Uint32(frame[8:12])),
		SleepTimeout:         int32(le.Uint32(frame[12:16])),
	}, nil
}

// Panel holds pending settings until they are pushed. Pending values start
// from the device's reported configuration and diverge once staged.
type Panel struct {
	mu      sync.Mutex
	sender  Sender
	pending Values
	dirty   bool
	pushed  *Values
}

// Status is the panel state served to the UI.
type Status struct {
	Pending    Values  `json:"pending"`
	Dirty      bool    `json:"dirty"`
	LastPushed *Values `json:"last_pushed,omitempty"`
}

// NewPanel returns a panel that pushes through sender. A nil sender is
// allowed; Push then fails with ErrNoSender.
func NewPanel(sender Sender) *Panel {
	return &Panel{sender: sender}
}

// Seed replaces the pending values with the device echo unless the user has
// staged changes that have not been pushed yet.
func (p *Panel) Seed(echo sensor.ConfigEcho) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		p.pending = echo
	}
}

// Stage applies u on top of the pending values after validation.
func (p *Panel) Stage(u Update) (Values, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.pending
	if u.MotorSpeed != nil {
		next.MotorSpeed = *u.MotorSpeed
	}
	if u.DistanceThreshold != nil {
		next.DistanceThreshold = *u.DistanceThreshold
	}
	if u.MaxDetectionDistance != nil {
		next.MaxDetectionDistance = *u.MaxDetectionDistance
	}
	if u.SleepTimeout != nil {
		next.SleepTimeout = *u.SleepTimeout
	}
	if err := Validate(next); err != nil {
		return p.pending, err
	}
	if next != p.pending {
		p.pending = next
		p.dirty = true
	}
	return p.pending, nil
}

// Status returns a copy of the panel state.
func (p *Panel) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{Pending: p.pending, Dirty: p.dirty}
	if p.pushed != nil {
		pushed := *p.pushed
		st.LastPushed = &pushed
	}
	return st
}

// Push sends the pending values to the device. The lock is not held while
// the sender runs.
func (p *Panel) Push(ctx context.Context) (Values, error) {
	p.mu.Lock()
	if p.sender == nil {
		p.mu.Unlock()
		return Values{}, ErrNoSender
	}
	if !p.dirty {
		p.mu.Unlock()
		return Values{}, ErrNothingToDo
	}
	values := p.pending
	sender := p.sender
	p.mu.Unlock()

	if err := sender.SendSettings(ctx, EncodeFrame(values)); err != nil {
		return values, fmt.Errorf("failed to push settings: %w", err)
	}
	monitoring.Logf("pushed device settings %+v", values)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = &values
	// A stage that raced with the push keeps the panel dirty.
	if p.pending == values {
		p.dirty = false
	}
	return values, nil
}
