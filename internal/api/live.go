package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/ultrasonic.radar/internal/monitoring"
	"github.com/banshee-data/ultrasonic.radar/internal/render"
	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// liveFrame is one websocket message on /ws.
type liveFrame struct {
	Type     string          `json:"type"`
	Snapshot sensor.Snapshot `json:"snapshot"`
	Alert    render.Report   `json:"alert"`
}

// serveLive upgrades to a websocket and pushes a snapshot every render
// interval until the client goes away or the server is closed.
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		monitoring.Logf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go s.readLive(conn, gone)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// initial frame so clients render immediately
	if err := s.writeFrame(conn); err != nil {
		return
	}

	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			return
		case <-ticker.C():
			if err := s.writeFrame(conn); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn) error {
	snap := s.state.Snapshot()
	frame := liveFrame{
		Type:     "snapshot",
		Snapshot: snap,
		Alert:    render.Alerts(snap, s.warningDistance()),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			monitoring.Debugf("ws write failed: %v", err)
		}
		return err
	}
	return nil
}

// readLive discards client messages and closes gone when the connection ends.
func (s *Server) readLive(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				monitoring.Debugf("ws read ended: %v", err)
			}
			return
		}
	}
}
