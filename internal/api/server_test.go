package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ultrasonic.radar/internal/monitoring"
	"github.com/banshee-data/ultrasonic.radar/internal/render"
	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
	"github.com/banshee-data/ultrasonic.radar/internal/settings"
)

// fakeSender records settings frames pushed by the panel.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *fakeSender) SendSettings(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

// populatedState sweeps 0..40 in 10 degree steps with a config echo.
func populatedState() *sensor.State {
	st := sensor.NewState()
	echo := &sensor.ConfigEcho{MotorSpeed: 300, DistanceThreshold: 30, MaxDetectionDistance: 200, SleepTimeout: 60}
	for a := 0.0; a <= 40; a += 10 {
		st.ApplySample(sensor.Sample{Angle: a, Distance: 20 + a, Config: echo})
	}
	return st
}

func newTestServer(t *testing.T, panel *settings.Panel) (*Server, http.Handler) {
	t.Helper()
	s := NewServer(Config{State: populatedState(), Panel: panel})
	t.Cleanup(s.Close)
	return s, s.ServeMux()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestShowSnapshot(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap sensor.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, []float64{0, 10, 20, 30, 40}, snap.Angles)
	assert.Equal(t, []float64{20, 30, 40, 50, 60}, snap.Distances)
	assert.Equal(t, 40.0, snap.Current.Angle)
	assert.Equal(t, 30.0, snap.PreviousAngle)
	assert.Equal(t, int32(300), snap.Config.MotorSpeed)
	assert.Equal(t, uint64(5), snap.Samples)
}

func TestShowSnapshot_EmptyStateEncodesArrays(t *testing.T) {
	s := NewServer(Config{State: sensor.NewState()})
	defer s.Close()
	rec := do(t, s.ServeMux(), http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"angles":[]`)
	assert.Contains(t, rec.Body.String(), `"distances":[]`)
}

func TestShowSummary(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum render.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 5, sum.Points)
	require.NotNil(t, sum.MinDistance)
	assert.Equal(t, 20.0, *sum.MinDistance)
}

func TestShowSummary_Units(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/summary?units=mm", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		render.Summary
		Units string `json:"units"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "mm", got.Units)
	require.NotNil(t, got.MinDistance)
	assert.InDelta(t, 200.0, *got.MinDistance, 1e-9)
	assert.InDelta(t, 600.0, got.Current.Distance, 1e-9)

	rec = do(t, h, http.MethodGet, "/api/summary?units=furlong", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cm, mm, m, in")
}

func TestShowAlerts(t *testing.T) {
	st := sensor.NewState()
	st.ApplySample(sensor.Sample{Angle: 10, Distance: 12})
	s := NewServer(Config{State: st, Render: render.Options{WarningDistance: 15}})
	defer s.Close()

	rec := do(t, s.ServeMux(), http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report render.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, render.LevelWarning, report.Level)
	assert.Equal(t, "Warning: Object nearby", report.Message)
	assert.Equal(t, "Motor speed: 0 RPM", report.Echo[0])
}

func TestShowVersion(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t, nil)
	for _, path := range []string{"/api/snapshot", "/api/summary", "/api/alerts", "/api/version", "/radar", "/radar.png", "/api/settings/push"} {
		method := http.MethodPost
		if path == "/api/settings/push" {
			method = http.MethodGet
		}
		rec := do(t, h, method, path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", method, path)
	}
}

func TestShowChart(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/radar?refresh=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("Refresh"))
	assert.Contains(t, rec.Body.String(), "Angle: 40, Distance: 60.00 cm")
}

func TestShowPNG(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/radar.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestSettings_NoPanel(t *testing.T) {
	_, h := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/settings", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/settings/push", "").Code)
}

func TestSettings_StageAndPush(t *testing.T) {
	sender := &fakeSender{}
	panel := settings.NewPanel(sender)
	s, h := newTestServer(t, panel)
	panel.Seed(s.state.Snapshot().Config)

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.Dirty)
	assert.Equal(t, int32(300), view.Pending.MotorSpeed)
	assert.Equal(t, int32(300), view.Reported.MotorSpeed)

	// nothing staged yet
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/settings/push", "").Code)

	rec = do(t, h, http.MethodPost, "/api/settings", `{"motor_speed": 450, "sleep_timeout": 5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Dirty)
	assert.Equal(t, int32(450), view.Pending.MotorSpeed)
	assert.Equal(t, int32(5), view.Pending.SleepTimeout)
	assert.Equal(t, int32(300), view.Reported.MotorSpeed, "reported echo is independent of pending values")

	rec = do(t, h, http.MethodPost, "/api/settings/push", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, sender.frames, 1)
	pushed, err := settings.DecodeFrame(sender.frames[0])
	require.NoError(t, err)
	assert.Equal(t, int32(450), pushed.MotorSpeed)
	assert.Equal(t, int32(30), pushed.DistanceThreshold)
}

func TestSettings_Rejections(t *testing.T) {
	panel := settings.NewPanel(&fakeSender{err: errors.New("link down")})
	_, h := newTestServer(t, panel)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/settings", `{"motor_speed": -1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/settings", `{"rpm": 1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/settings", `not json`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodDelete, "/api/settings", "").Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/settings", `{"motor_speed": 10}`).Code)
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodPost, "/api/settings/push", "").Code)

	noSender := settings.NewPanel(nil)
	_, h = newTestServer(t, noSender)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/settings", `{"motor_speed": 10}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/settings/push", "").Code)
}

func TestLoggingMiddleware(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot?x=1", nil))

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "418")
	assert.Contains(t, lines[0], "/api/snapshot?x=1")
	assert.Contains(t, lines[0], "GET")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}
