// Serialmux provides an abstraction over a serial port with the ability for
// multiple clients to subscribe to fixed-size telemetry frames from the port
// and send settings frames to a single serial device.
package serialmux

import (
	"bufio"
	"context"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// subscriberBuffer is the per-subscriber frame queue. Frames are dropped for
// a subscriber whose queue is full so one slow reader cannot stall the port.
const subscriberBuffer = 64

//go:embed templates/*
var adminTemplateFS embed.FS

var sendSettingsTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-settings.html.tmpl"))

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to frames from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	frameSize    int
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving frames from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided raw frame to the serial port.
	SendCommand([]byte) error
	// Monitor reads frames from the serial port and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux that splits the byte stream from port into
// frames of frameSize bytes.
func NewSerialMux[T SerialPorter](port T, frameSize int) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		frameSize:   frameSize,
		subscribers: make(map[string]chan []byte),
	}
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes frame to the serial port in a single write.
func (s *SerialMux[T]) SendCommand(frame []byte) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

// SendSettings lets the mux act as the settings link for the device.
func (s *SerialMux[T]) SendSettings(_ context.Context, frame []byte) error {
	return s.SendCommand(frame)
}

// Monitor reads frames from the serial port and fans them out to subscribers
// until ctx is cancelled or the port is exhausted.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if s.frameSize <= 0 {
		return fmt.Errorf("invalid frame size %d", s.frameSize)
	}
	r := bufio.NewReader(s.port)

	frameChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// the blocking io.ReadFull will not interfere with our outer loop awaiting
	// frames & context cancellation.
	go func() {
		defer close(frameChan)
		for {
			frame := make([]byte, s.frameSize)
			if _, err := io.ReadFull(r, frame); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				select {
				case readErrChan <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case frameChan <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			return err

		case frame, ok := <-frameChan:
			if !ok {
				// a read error is queued before frameChan closes
				select {
				case err := <-readErrChan:
					return err
				default:
					return nil
				}
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- frame:
				default:
					// if the channel is full skip so as not to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes registers the send/tail debug pages for any mux.
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-settings", "send a raw frame to the serial port", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := sendSettingsTemplate.Execute(w, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	// API endpoint to write a hex encoded frame to the serial port
	debug.HandleSilentFunc("send-settings-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload := strings.Join(strings.Fields(r.FormValue("frame")), "")
		if payload == "" {
			http.Error(w, "Missing frame", http.StatusBadRequest)
			return
		}
		frame, err := hex.DecodeString(payload)
		if err != nil {
			http.Error(w, "Frame must be hex encoded", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(frame); err != nil {
			http.Error(w, "Failed to write frame", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote %d byte frame % x to serial port", len(frame), frame))
	})

	// API endpoint to issue Server-Side Events (SSE) for each frame read from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(frame)); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
