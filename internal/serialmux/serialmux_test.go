package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func frames(n, size int) []byte {
	b := make([]byte, n*size)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSerialMux_MonitorSplitsFrames(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData(frames(3, 8))
	mux := NewSerialMux(port, 8)

	id, ch := mux.Subscribe()
	if id == "" {
		t.Fatal("Subscribe() returned empty id")
	}

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}

	var got [][]byte
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	want := [][]byte{
		{0, 1, 2, 3, 4, 5, 6, 7},
		{8, 9, 10, 11, 12, 13, 14, 15},
		{16, 17, 18, 19, 20, 21, 22, 23},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestSerialMux_MonitorFansOut(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData(frames(2, 24))
	mux := NewSerialMux(port, 24)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}
	if len(a) != 2 || len(b) != 2 {
		t.Errorf("subscribers received %d and %d frames, want 2 each", len(a), len(b))
	}
}

func TestSerialMux_MonitorTruncatedFrame(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData(frames(1, 8)[:5])
	mux := NewSerialMux(port, 8)

	err := mux.Monitor(context.Background())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Monitor() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestSerialMux_MonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	readErr := errors.New("device unplugged")
	port.ReadError = readErr
	mux := NewSerialMux(port, 8)

	if err := mux.Monitor(context.Background()); !errors.Is(err, readErr) {
		t.Errorf("Monitor() error = %v, want %v", err, readErr)
	}
}

func TestSerialMux_MonitorInvalidFrameSize(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort(), 0)
	if err := mux.Monitor(context.Background()); err == nil {
		t.Error("Monitor() expected error for zero frame size")
	}
}

func TestSerialMux_MonitorContextCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	_, ch := mux.Subscribe()
	port.AddReadData(frames(1, 8))

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestSerialMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData(frames(subscriberBuffer+10, 8))
	mux := NewSerialMux(port, 8)
	_, ch := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered %d frames, want %d", len(ch), subscriberBuffer)
	}
}

func TestSerialMux_Unsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort(), 8)
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
	// unknown ids are ignored
	mux.Unsubscribe(id)
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port, 8)

	frame := []byte{0x2c, 0x01, 0, 0, 0x32, 0, 0, 0}
	if err := mux.SendCommand(frame); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !bytes.Equal(port.GetWrittenData(), frame) {
		t.Errorf("written = % x, want % x", port.GetWrittenData(), frame)
	}

	if err := mux.SendSettings(context.Background(), []byte{1}); err != nil {
		t.Fatalf("SendSettings() error = %v", err)
	}
	if got := len(port.GetWrittenData()); got != len(frame)+1 {
		t.Errorf("written %d bytes, want %d", got, len(frame)+1)
	}
}

func TestSerialMux_SendCommandErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port, 8)

	writeErr := errors.New("write failed")
	port.WriteError = writeErr
	if err := mux.SendCommand([]byte{1, 2}); !errors.Is(err, writeErr) {
		t.Errorf("SendCommand() error = %v, want %v", err, writeErr)
	}

	port.ShortWrite = true
	if err := mux.SendCommand([]byte{1, 2}); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand() error = %v, want ErrWriteFailed", err)
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port, 8)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Close")
	}
	if !port.Closed {
		t.Error("port not closed")
	}
}

func TestOpenSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	opts := PortOptions{BaudRate: 9600}
	mux, err := OpenSerialMux(factory, "/dev/ttyUSB0", opts, 24)
	if err != nil {
		t.Fatalf("OpenSerialMux() error = %v", err)
	}
	if mux == nil {
		t.Fatal("OpenSerialMux() returned nil mux")
	}
	call := factory.LastCall()
	if call == nil || call.Path != "/dev/ttyUSB0" || call.Options != opts {
		t.Errorf("LastCall() = %+v", call)
	}

	factory.Error = errors.New("no such device")
	if _, err := OpenSerialMux(factory, "/dev/missing", opts, 24); err == nil {
		t.Error("OpenSerialMux() expected error")
	}
}
