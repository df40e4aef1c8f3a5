package server

import (
	"cmp"
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
	"github.com/oszuidwest/zwfm-voiceagent/internal/notify"
)

// sensorsRefreshTimeout bounds a refresh requested from the dashboard.
const sensorsRefreshTimeout = 30 * time.Second

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AudioUpdateRequest) error {
		if req.Input != nil {
			slog.Info("audio/update: changing audio input", "input", *req.Input)
			if err := h.cfg.SetAudioInput(*req.Input); err != nil {
				return err
			}

			// Restart capture if FFmpeg is available
			if h.ffmpegAvailable {
				go func() {
					if err := h.agent.RestartCapture(); err != nil {
						slog.Error("audio/update: capture restart failed", "error", err)
					}
				}()
			}
		}

		if req.Output != nil {
			slog.Info("audio/update: changing audio output", "output", *req.Output)
			if err := h.cfg.SetAudioOutput(*req.Output); err != nil {
				return err
			}
			return h.agent.ReloadSession()
		}
		return nil
	})
}

// handleSensorsRefresh processes a sensors/refresh command.
func (h *CommandHandler) handleSensorsRefresh(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), sensorsRefreshTimeout)
		defer cancel()

		snap, err := h.agent.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		return snap, nil
	})
}

// --- Field settings handlers ---

// handleLocationUpdate processes a settings/location command.
func (h *CommandHandler) handleLocationUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LocationUpdateRequest) error {
		if err := h.cfg.SetLocation(*req.Latitude, *req.Longitude, req.Name); err != nil {
			return err
		}
		h.agent.ReloadSensors()
		return nil
	})
}

// handleSoilUpdate processes a settings/soil command.
func (h *CommandHandler) handleSoilUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *SoilUpdateRequest) error {
		if err := h.cfg.SetSoilThresholds(req.High, req.Low); err != nil {
			return err
		}
		h.agent.ReloadSensors()
		return nil
	})
}

// --- Session settings handlers ---

// handleVoiceUpdate processes a settings/voice command.
func (h *CommandHandler) handleVoiceUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *VoiceUpdateRequest) error {
		if req.AutoConnect != nil {
			if err := h.cfg.SetAutoConnect(*req.AutoConnect); err != nil {
				return err
			}
		}
		if req.Language == nil {
			return nil
		}
		if err := h.cfg.SetVoiceLanguage(*req.Language); err != nil {
			return err
		}
		return h.agent.ReloadSession()
	})
}

// handleGeminiUpdate processes a settings/gemini command.
func (h *CommandHandler) handleGeminiUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *GeminiUpdateRequest) error {
		if err := h.cfg.SetGeminiAPIKey(req.APIKey); err != nil {
			return err
		}
		slog.Info("Gemini API key updated")
		return h.agent.ReloadSession()
	})
}

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LogUpdateRequest) error {
		return h.cfg.SetLogPath(req.Path)
	})
}

// handleEmailUpdate processes a notifications/email/update command.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.SetGraphConfig(
			req.TenantID,
			req.ClientID,
			req.ClientSecret,
			req.FromAddress,
			req.Recipients,
		); err != nil {
			return err
		}
		h.agent.UpdateGraphConfig()
		return nil
	})
}

// handleZabbixUpdate processes a notifications/zabbix/update command.
func (h *CommandHandler) handleZabbixUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ZabbixUpdateRequest) error {
		return h.cfg.SetZabbixConfig(req.Server, cmp.Or(req.Port, notify.DefaultZabbixPort), req.Host, req.Key)
	})
}

// --- API key handlers ---

// handleRegenerateAPIKey processes an api/regenerate-key command.
func (h *CommandHandler) handleRegenerateAPIKey(send chan<- any) {
	HandleActionAsync(WSCommand{Type: "api/regenerate-key"}, send, func() (any, error) {
		newKey, err := config.GenerateAPIKey()
		if err != nil {
			return nil, err
		}

		if err := h.cfg.SetAPIKey(newKey); err != nil {
			return nil, err
		}

		slog.Info("API key regenerated")

		return map[string]string{"api_key": newKey}, nil
	})
}
