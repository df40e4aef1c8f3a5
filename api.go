package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/agent"
	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
	"github.com/oszuidwest/zwfm-voiceagent/internal/notify"
	"github.com/oszuidwest/zwfm-voiceagent/internal/server"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
)

// apiTimeout bounds sensor refreshes and notification tests started over REST.
const apiTimeout = time.Minute

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeSettingsError reports validation failures as 400 and everything else as 500.
func (s *Server) writeSettingsError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// coalesce returns the first non-zero value from the provided values.
func coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// handleAPIStatus returns the full agent status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPISnapshot returns the last sensor snapshot. With ?refresh=1 the
// sensors are queried first.
// GET /api/snapshot
func (s *Server) handleAPISnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if r.URL.Query().Get("refresh") == "" {
		s.writeJSON(w, http.StatusOK, s.agent.Last())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	snap, err := s.agent.Refresh(ctx)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleAPIConnect opens the live session.
// POST /api/session/connect
func (s *Server) handleAPIConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.agent.Connect(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrNoAPIKey) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.agent.SessionStatus())
}

// handleAPIDisconnect closes the live session.
// POST /api/session/disconnect
func (s *Server) handleAPIDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.agent.Disconnect()
	s.writeJSON(w, http.StatusOK, s.agent.SessionStatus())
}

// handleAPITranscripts returns the transcripts of this process, newest first.
// GET /api/transcripts
func (s *Server) handleAPITranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transcripts": s.agent.Transcripts()})
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": audio.ListDevices(),
	})
}

// SettingsUpdateRequest is the request body for POST /api/settings.
type SettingsUpdateRequest struct {
	// Audio
	AudioInput  *string `json:"audio_input"`
	AudioOutput *string `json:"audio_output"`

	// Session
	VoiceLanguage *string `json:"voice_language"`
	AutoConnect   *bool   `json:"auto_connect"`

	// Sensors
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	LocationName     *string  `json:"location_name"`
	SoilMoistureHigh *float64 `json:"soil_moisture_high"`
	SoilMoistureLow  *float64 `json:"soil_moisture_low"`

	// Notifications
	WebhookURL *string `json:"webhook_url"`
	LogPath    *string `json:"log_path"`
}

// handleAPISettings updates the given settings and applies them.
// POST /api/settings
func (s *Server) handleAPISettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[SettingsUpdateRequest](s, w, r)
	if !ok {
		return
	}

	cfg := s.config.Snapshot()
	inputChanged := req.AudioInput != nil && *req.AudioInput != cfg.AudioInput
	sessionChanged := (req.AudioOutput != nil && *req.AudioOutput != cfg.AudioOutput) ||
		(req.VoiceLanguage != nil && *req.VoiceLanguage != cfg.VoiceLanguage)

	if err := s.applyAudioSettings(&req); err != nil {
		s.writeSettingsError(w, err)
		return
	}

	if err := s.applySessionSettings(&req); err != nil {
		s.writeSettingsError(w, err)
		return
	}

	sensorsChanged, err := s.applySensorSettings(&req, &cfg)
	if err != nil {
		s.writeSettingsError(w, err)
		return
	}

	if err := s.applyNotificationSettings(&req); err != nil {
		s.writeSettingsError(w, err)
		return
	}

	if sensorsChanged {
		s.agent.ReloadSensors()
	}
	if sessionChanged {
		if err := s.agent.ReloadSession(); err != nil {
			slog.Error("failed to reconnect after settings change", "error", err)
		}
	}
	if inputChanged && s.ffmpegAvailable {
		go func() {
			if err := s.agent.RestartCapture(); err != nil {
				slog.Error("failed to restart capture after audio input change", "error", err)
			}
		}()
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// applyAudioSettings applies audio device settings from the request.
func (s *Server) applyAudioSettings(req *SettingsUpdateRequest) error {
	if req.AudioInput != nil {
		if err := s.config.SetAudioInput(*req.AudioInput); err != nil {
			return err
		}
	}
	if req.AudioOutput != nil {
		if err := s.config.SetAudioOutput(*req.AudioOutput); err != nil {
			return err
		}
	}
	return nil
}

// applySessionSettings applies live session settings from the request.
func (s *Server) applySessionSettings(req *SettingsUpdateRequest) error {
	if req.VoiceLanguage != nil {
		if err := s.config.SetVoiceLanguage(*req.VoiceLanguage); err != nil {
			return err
		}
	}
	if req.AutoConnect != nil {
		if err := s.config.SetAutoConnect(*req.AutoConnect); err != nil {
			return err
		}
	}
	return nil
}

// applySensorSettings applies location and threshold settings and reports
// whether the sensors need a reload.
func (s *Server) applySensorSettings(req *SettingsUpdateRequest, cfg *config.Snapshot) (bool, error) {
	changed := false

	if req.Latitude != nil || req.Longitude != nil || req.LocationName != nil {
		lat, lon, name := cfg.Latitude, cfg.Longitude, cfg.LocationName
		if req.Latitude != nil {
			lat = *req.Latitude
		}
		if req.Longitude != nil {
			lon = *req.Longitude
		}
		if req.LocationName != nil {
			name = *req.LocationName
		}
		if err := s.config.SetLocation(lat, lon, name); err != nil {
			return false, err
		}
		changed = true
	}

	if req.SoilMoistureHigh != nil || req.SoilMoistureLow != nil {
		high, low := cfg.SoilMoistureHigh, cfg.SoilMoistureLow
		if req.SoilMoistureHigh != nil {
			high = *req.SoilMoistureHigh
		}
		if req.SoilMoistureLow != nil {
			low = *req.SoilMoistureLow
		}
		if err := s.config.SetSoilThresholds(high, low); err != nil {
			return changed, err
		}
		changed = true
	}

	return changed, nil
}

// applyNotificationSettings applies notification settings from the request.
func (s *Server) applyNotificationSettings(req *SettingsUpdateRequest) error {
	if req.WebhookURL != nil {
		if err := s.config.SetWebhookURL(*req.WebhookURL); err != nil {
			return err
		}
	}

	if req.LogPath != nil {
		if err := s.config.SetLogPath(*req.LogPath); err != nil {
			return err
		}
	}

	return nil
}

// NotificationTestRequest holds unsaved values to test with. Empty fields
// fall back to the saved configuration.
type NotificationTestRequest struct {
	// Webhook
	WebhookURL string `json:"webhook_url,omitempty"`

	// Log
	LogPath string `json:"log_path,omitempty"`

	// Email
	GraphTenantID     string `json:"graph_tenant_id,omitempty"`
	GraphClientID     string `json:"graph_client_id,omitempty"`
	GraphClientSecret string `json:"graph_client_secret,omitempty"`
	GraphFromAddress  string `json:"graph_from_address,omitempty"`
	GraphRecipients   string `json:"graph_recipients,omitempty"`

	// Zabbix
	ZabbixServer string `json:"zabbix_server,omitempty"`
	ZabbixPort   int    `json:"zabbix_port,omitempty"`
	ZabbixHost   string `json:"zabbix_host,omitempty"`
	ZabbixKey    string `json:"zabbix_key,omitempty"`
}

// writeTestResult writes the outcome of a notification test.
func (s *Server) writeTestResult(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAPITestWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[NotificationTestRequest](s, w, r)
	if !ok {
		return
	}

	cfg := s.config.Snapshot()
	url := coalesce(req.WebhookURL, cfg.WebhookURL)

	if url == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No webhook URL configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	s.writeTestResult(w, notify.SendTestWebhook(ctx, url, cfg.StationName))
}

func (s *Server) handleAPITestLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[NotificationTestRequest](s, w, r)
	if !ok {
		return
	}

	path := coalesce(req.LogPath, s.config.Snapshot().LogPath)

	if path == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No log path configured"})
		return
	}

	s.writeTestResult(w, notify.WriteTestLog(path))
}

func (s *Server) handleAPITestEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[NotificationTestRequest](s, w, r)
	if !ok {
		return
	}

	// Use request values or fall back to saved config
	cfg := s.config.Snapshot()
	graphCfg := &notify.GraphConfig{
		TenantID:     coalesce(req.GraphTenantID, cfg.GraphTenantID),
		ClientID:     coalesce(req.GraphClientID, cfg.GraphClientID),
		ClientSecret: coalesce(req.GraphClientSecret, cfg.GraphClientSecret),
		FromAddress:  coalesce(req.GraphFromAddress, cfg.GraphFromAddress),
		Recipients:   coalesce(req.GraphRecipients, cfg.GraphRecipients),
	}

	if graphCfg.TenantID == "" || graphCfg.ClientID == "" || graphCfg.ClientSecret == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Email not fully configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()
	s.writeTestResult(w, notify.SendTestEmail(ctx, graphCfg, cfg.StationName))
}

func (s *Server) handleAPITestZabbix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[NotificationTestRequest](s, w, r)
	if !ok {
		return
	}

	// Use request values or fall back to saved config
	cfg := s.config.Snapshot()
	target := notify.BuildZabbixTarget(&cfg)
	target.Server = coalesce(req.ZabbixServer, target.Server)
	target.Port = coalesce(req.ZabbixPort, target.Port)
	target.Host = coalesce(req.ZabbixHost, target.Host)
	target.Key = coalesce(req.ZabbixKey, target.Key)

	if target.Server == "" || target.Host == "" || target.Key == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Zabbix not fully configured"})
		return
	}

	s.writeTestResult(w, notify.SendTestZabbix(target))
}

// handleAPIRegenerateKey generates a new REST API key.
func (s *Server) handleAPIRegenerateKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	newKey, err := config.GenerateAPIKey()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.config.SetAPIKey(newKey); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"api_key": newKey,
	})
}

// handleAPIViewLog returns the event log entries.
func (s *Server) handleAPIViewLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	logPath := s.config.LogPath()
	if logPath == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "Log file path not configured",
		})
		return
	}

	entries, err := notify.ReadLog(logPath, server.MaxLogEntries)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
		"path":    logPath,
	})
}
