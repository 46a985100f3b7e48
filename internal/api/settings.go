package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/ultrasonic.radar/internal/httputil"
	"github.com/banshee-data/ultrasonic.radar/internal/settings"
)

// settingsResponse pairs the panel state with what the device last reported.
type settingsResponse struct {
	settings.Status
	Reported settings.Values `json:"reported"`
}

func (s *Server) settingsView() settingsResponse {
	return settingsResponse{
		Status:   s.panel.Status(),
		Reported: s.state.Snapshot().Config,
	}
}

// handleSettings serves the pending settings on GET and stages a partial
// update on POST.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.panel == nil {
		httputil.ServiceUnavailable(w, "settings panel not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.settingsView())
	case http.MethodPost:
		var u settings.Update
		if err := httputil.DecodeJSONBody(w, r, &u); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if _, err := s.panel.Stage(u); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, s.settingsView())
	default:
		httputil.MethodNotAllowed(w)
	}
}

// pushSettings sends the staged settings to the device.
func (s *Server) pushSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.panel == nil {
		httputil.ServiceUnavailable(w, "settings panel not configured")
		return
	}
	if _, err := s.panel.Push(r.Context()); err != nil {
		switch {
		case errors.Is(err, settings.ErrNothingToDo):
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		case errors.Is(err, settings.ErrNoSender):
			httputil.ServiceUnavailable(w, err.Error())
		default:
			httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	httputil.WriteJSONOK(w, s.settingsView())
}
