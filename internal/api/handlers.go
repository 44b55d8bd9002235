package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-serial/internal/bridges/serial"
)

// stateUnavailable is reported for configured devices whose port never opened.
const stateUnavailable = "unavailable"

// DeviceView is a configured device with its session state.
type DeviceView struct {
	ID      string                `json:"id"`
	Address string                `json:"address"`
	State   string                `json:"state"`
	Session *serial.SessionHealth `json:"session,omitempty"`
}

// PendingView is one command awaiting acknowledgment.
type PendingView struct {
	ID         string    `json:"id"`
	Origin     string    `json:"origin,omitempty"`
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Value      string    `json:"value"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	DeadlineAt time.Time `json:"deadline_at"`
}

// CommandAccepted is returned when a manual command enters the engine.
type CommandAccepted struct {
	RequestID string `json:"request_id"`
	DeviceID  string `json:"device_id"`
	Metric    string `json:"metric"`
	Value     string `json:"value"`
	Command   string `json:"command"`
	TimeoutMS int64  `json:"timeout_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.bridge.SessionStats()
	sessions := make([]serial.SessionHealth, 0, len(stats))
	connected := 0
	for _, st := range stats {
		sessions = append(sessions, serial.NewSessionHealth(st))
		if st.State == serial.SessionConnected {
			connected++
		}
	}

	pending, err := s.bridge.PendingCount(r.Context())
	if err != nil {
		writeUnavailable(w, "correlation engine not running")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":            s.bridge.Registry().Len(),
		"sessions_connected": connected,
		"sessions":           sessions,
		"pending_commands":   pending,
		"websocket_clients":  s.hub.ClientCount(),
	})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.bridge.Pending(r.Context())
	if err != nil {
		writeUnavailable(w, "correlation engine not running")
		return
	}

	out := make([]PendingView, 0, len(pending))
	for _, p := range pending {
		out = append(out, PendingView{
			ID:         p.ID,
			Origin:     p.OriginDeviceID,
			DeviceID:   p.TargetDeviceID,
			Metric:     p.MetricName,
			Value:      p.Value,
			Source:     p.Source,
			CreatedAt:  p.CreatedAt.UTC(),
			DeadlineAt: p.Deadline().UTC(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": out,
		"count":   len(out),
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	byID := s.sessionsByID()
	reg := s.bridge.Registry()

	devices := make([]DeviceView, 0, reg.Len())
	for _, id := range reg.DeviceIDs() {
		devices = append(devices, s.deviceView(reg, id, byID))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reg := s.bridge.Registry()
	if !reg.Has(id) {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, s.deviceView(reg, id, s.sessionsByID()))
}

// handleSubmitCommand routes an operator command to the device in the URL.
// The response is 202: the outcome arrives later on the WebSocket feed.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cmd serial.CommandMessage
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req, err := s.bridge.SubmitManual(r.Context(), id, cmd)
	switch {
	case err == nil:
	case errors.Is(err, serial.ErrUnknownDevice):
		writeNotFound(w, "device not found")
		return
	case errors.Is(err, serial.ErrInvalidField):
		writeValidationError(w, err.Error())
		return
	case errors.Is(err, serial.ErrEngineStopped):
		writeUnavailable(w, "correlation engine not running")
		return
	default:
		s.logger.Error("manual command failed", "device", id, "error", err)
		writeInternalError(w, "failed to submit command")
		return
	}

	s.logger.Info("manual command accepted",
		"command_id", req.ID,
		"device", req.TargetDeviceID,
		"metric", req.MetricName,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, CommandAccepted{
		RequestID: req.ID,
		DeviceID:  req.TargetDeviceID,
		Metric:    req.MetricName,
		Value:     req.Value,
		Command:   req.CommandText,
		TimeoutMS: req.Timeout.Milliseconds(),
	})
}

func (s *Server) sessionsByID() map[string]serial.SessionStats {
	stats := s.bridge.SessionStats()
	byID := make(map[string]serial.SessionStats, len(stats))
	for _, st := range stats {
		byID[st.DeviceID] = st
	}
	return byID
}

func (s *Server) deviceView(reg *serial.Registry, id string, sessions map[string]serial.SessionStats) DeviceView {
	addr, _ := reg.Address(id)
	view := DeviceView{ID: id, Address: addr, State: stateUnavailable}
	if st, ok := sessions[id]; ok {
		h := serial.NewSessionHealth(st)
		view.State = h.State
		view.Session = &h
	}
	return view
}
