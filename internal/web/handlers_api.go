package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cuby-bridge/internal/auth"
	"cuby-bridge/internal/coordinator"
	"cuby-bridge/internal/cubyapi"
	"cuby-bridge/internal/store"
)

// deviceView is a device plus its live state for API responses.
type deviceView struct {
	*coordinator.Device
	State       *coordinator.DeviceState `json:"state,omitempty"`
	Unavailable bool                     `json:"unavailable,omitempty"`
	LastError   string                   `json:"last_error,omitempty"`
}

func (s *Server) deviceView(dev *coordinator.Device) deviceView {
	v := deviceView{
		Device:      dev,
		Unavailable: s.coord.Unavailable(dev.ID),
		LastError:   s.coord.LastError(dev.ID),
	}
	if st, ok := s.coord.State(dev.ID); ok {
		v.State = &st
	}
	return v
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":       s.version,
		"authenticated": s.authMgr.Authenticated(),
		"devices":       len(s.coord.Devices()),
		"cycle":         s.coord.CycleInfo(),
		"pending":       len(s.coord.PendingCommands()),
	}
	if cred := s.authMgr.Credential(); cred != nil {
		status["email"] = cred.Email
		status["token_expires"] = cred.ExpiresAt.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.coord.Devices()
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.deviceView(dev))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, ok := s.coord.Device(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.deviceView(dev))
}

type commandRequest struct {
	Action string `json:"action"`
	Value  any    `json:"value"`
	Unit   string `json:"unit,omitempty"` // "C" or "F", for temperature
}

func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req commandRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var err error
	switch req.Action {
	case "power":
		on, ok := req.Value.(bool)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "power expects a boolean value"})
			return
		}
		err = s.coord.SetPower(r.Context(), id, on)
	case "mode":
		mode, ok := req.Value.(string)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode expects a string value"})
			return
		}
		err = s.coord.SetMode(r.Context(), id, mode)
	case "temperature":
		v, ok := req.Value.(float64)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "temperature expects a numeric value"})
			return
		}
		unit, uerr := s.commandUnit(id, req.Unit)
		if uerr != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": uerr.Error()})
			return
		}
		err = s.coord.SetTargetTemperature(r.Context(), id, v, unit)
	case "fan_speed":
		speed, ok := req.Value.(string)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fan_speed expects a string value"})
			return
		}
		err = s.coord.SetFanSpeed(r.Context(), id, speed)
	case "swing_vertical", "swing_horizontal":
		on, ok := req.Value.(bool)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": req.Action + " expects a boolean value"})
			return
		}
		axis := coordinator.SwingVertical
		if req.Action == "swing_horizontal" {
			axis = coordinator.SwingHorizontal
		}
		err = s.coord.SetSwing(r.Context(), id, axis, on)
	case coordinator.FlagEco, coordinator.FlagTurbo, coordinator.FlagLong:
		on, ok := req.Value.(bool)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": req.Action + " expects a boolean value"})
			return
		}
		err = s.coord.SetFlag(r.Context(), id, req.Action, on)
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
		return
	}

	if err != nil {
		s.logger.Warn("command failed", "device", id, "action", req.Action, "err", err)
		s.writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// commandUnit resolves the unit of an incoming temperature value. Absent,
// it defaults to the device's native unit so raw values pass through.
func (s *Server) commandUnit(deviceID, unit string) (coordinator.Unit, error) {
	switch unit {
	case "":
		if st, ok := s.coord.State(deviceID); ok && st.Unit != "" {
			return st.Unit, nil
		}
		return coordinator.UnitCelsius, nil
	case "C", "c":
		return coordinator.UnitCelsius, nil
	case "F", "f":
		return coordinator.UnitFahrenheit, nil
	default:
		return "", errors.New("unit must be C or F")
	}
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	results, err := s.coord.RefreshAll(r.Context())
	if errors.Is(err, coordinator.ErrRefreshInFlight) {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}

	failed := map[string]string{}
	for id, derr := range results {
		if derr != nil {
			failed[id] = derr.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": len(results),
		"failed":  failed,
	})
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleAPIAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	if err := s.authMgr.Login(r.Context(), req.Email, req.Password); err != nil {
		s.logger.Warn("login failed", "email", req.Email, "err", err)
		s.writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}

	// Pick up the device list with the fresh session in the background;
	// the poll loop covers the first state refresh. The request context
	// dies with the handler, so discovery gets its own.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.coord.LoadDevices(ctx); err != nil {
			s.logger.Warn("post-login discovery failed", "err", err)
		}
	}()

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type settingsRequest struct {
	DeviceIDs   []string `json:"device_ids"`
	DisplayUnit string   `json:"display_unit"`
}

func (s *Server) handleAPIGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Settings())
}

func (s *Server) handleAPIPutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	switch req.DisplayUnit {
	case store.UnitFollowDevice, store.UnitCelsius, store.UnitFahrenheit:
	case "":
		req.DisplayUnit = store.UnitFollowDevice
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid display_unit"})
		return
	}

	settings := store.Settings{
		DeviceIDs:   req.DeviceIDs,
		DisplayUnit: req.DisplayUnit,
	}
	if err := s.coord.ApplySettings(r.Context(), settings); err != nil {
		s.logger.Error("apply settings", "err", err)
		s.writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.coord.Settings())
}

// errorStatus maps bridge errors onto HTTP status codes.
func errorStatus(err error) int {
	var (
		unsupported *coordinator.UnsupportedFeatureError
		notFound    *cubyapi.DeviceNotFoundError
		rejected    *cubyapi.CommandRejectedError
		network     *cubyapi.NetworkError
	)
	switch {
	case errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrReauthRequired) || cubyapi.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.As(err, &rejected), errors.As(err, &network):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
