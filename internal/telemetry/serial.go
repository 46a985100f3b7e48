package telemetry

import (
	"context"
	"errors"

	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/serialmux"
)

// ErrLinkClosed is returned when the frame stream ends before ctx is done.
var ErrLinkClosed = errors.New("telemetry link closed")

// SerialSource reads fixed-size frames from a serial mux subscription.
type SerialSource struct {
	mux     serialmux.SerialMuxInterface
	decoder Decoder
}

// NewSerialSource returns a source that decodes frames from mux. The mux's
// Monitor loop must be running for frames to arrive.
func NewSerialSource(mux serialmux.SerialMuxInterface, decoder Decoder) *SerialSource {
	return &SerialSource{mux: mux, decoder: decoder}
}

// Run subscribes to the mux and applies each decoded frame to dst.
func (s *SerialSource) Run(ctx context.Context, dst sensor.Applier) error {
	id, frames := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return ErrLinkClosed
			}
			Dispatch(s.decoder, frame, dst)
		}
	}
}

// SendSettings writes a settings frame to the device.
func (s *SerialSource) SendSettings(_ context.Context, frame []byte) error {
	return s.mux.SendCommand(frame)
}
