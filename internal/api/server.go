package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/ultrasonic.radar/internal/httputil"
	"github.com/banshee-data/ultrasonic.radar/internal/monitoring"
	"github.com/banshee-data/ultrasonic.radar/internal/render"
	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/settings"
	"github.com/banshee-data/ultrasonic.radar/internal/timeutil"
	"github.com/banshee-data/ultrasonic.radar/internal/units"
	"github.com/banshee-data/ultrasonic.radar/internal/version"
)

const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultInterval is the live feed period when none is configured.
const DefaultInterval = 125 * time.Millisecond

// Config wires the server to the sensor state and the settings panel.
type Config struct {
	State sensor.Snapshotter
	// Panel may be nil when no settings link is available.
	Panel    *settings.Panel
	Render   render.Options
	Interval time.Duration
	Clock    timeutil.Clock
}

type Server struct {
	state    sensor.Snapshotter
	panel    *settings.Panel
	render   render.Options
	interval time.Duration
	clock    timeutil.Clock
	upgrader websocket.Upgrader

	done      chan struct{}
	closeOnce sync.Once
}

func NewServer(cfg Config) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Server{
		state:    cfg.State,
		panel:    cfg.Panel,
		render:   cfg.Render,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		upgrader: websocket.Upgrader{
			// the dashboard is served from the same listener but may sit
			// behind a proxy with a different host name
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// Close ends live feeds. Hijacked websocket connections are not closed by
// http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes the connection through for websocket upgrades.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.showSnapshot)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/alerts", s.showAlerts)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/settings/push", s.pushSettings)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/radar", s.showChart)
	mux.HandleFunc("/radar.png", s.showPNG)
	mux.HandleFunc("/ws", s.serveLive)
	return mux
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.state.Snapshot())
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.CM
	}
	if !units.IsValid(unit) {
		httputil.BadRequest(w, "units must be one of: "+units.GetValidUnitsString())
		return
	}
	httputil.WriteJSONOK(w, summaryResponse{
		Summary: convertSummary(render.Summarize(s.state.Snapshot()), unit),
		Units:   unit,
	})
}

type summaryResponse struct {
	render.Summary
	Units string `json:"units"`
}

// convertSummary rescales the distance fields of sum from centimetres.
func convertSummary(sum render.Summary, unit string) render.Summary {
	conv := func(p *float64) *float64 {
		if p == nil {
			return nil
		}
		v := units.ConvertDistance(*p, unit)
		return &v
	}
	sum.MinDistance = conv(sum.MinDistance)
	sum.MeanDistance = conv(sum.MeanDistance)
	sum.Current.Distance = units.ConvertDistance(sum.Current.Distance, unit)
	return sum
}

func (s *Server) warningDistance() float64 {
	if s.render.WarningDistance > 0 {
		return s.render.WarningDistance
	}
	return render.DefaultWarningDistance
}

func (s *Server) showAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, render.Alerts(s.state.Snapshot(), s.warningDistance()))
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if refresh := r.URL.Query().Get("refresh"); refresh != "" {
		if secs, err := strconv.Atoi(refresh); err == nil && secs > 0 {
			w.Header().Set("Refresh", strconv.Itoa(secs))
		}
	}
	if err := render.Chart(w, s.state.Snapshot(), s.render); err != nil {
		monitoring.Logf("failed to render radar chart: %v", err)
		httputil.InternalServerError(w, "failed to render chart")
	}
}

func (s *Server) showPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	wt, err := render.PNG(s.state.Snapshot(), s.render)
	if err != nil {
		monitoring.Logf("failed to render radar png: %v", err)
		httputil.InternalServerError(w, "failed to render png")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := wt.WriteTo(w); err != nil {
		monitoring.Logf("failed to write radar png: %v", err)
	}
}
