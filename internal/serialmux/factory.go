package serialmux

import (
	"go.bug.st/serial"
)

// RealSerialPortFactory opens hardware ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

// Open opens the device at path with the normalised options.
func (RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	return serial.Open(path, mode)
}

// OpenSerialMux opens path via factory and wraps the port in a SerialMux that
// reads frames of frameSize bytes.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions, frameSize int) (*SerialMux[SerialPorter], error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port, frameSize), nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions, frameSize int) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(RealSerialPortFactory{}, path, opts, frameSize)
}
