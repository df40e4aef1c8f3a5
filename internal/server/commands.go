package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-voiceagent/internal/agent"
	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
)

// MaxLogEntries is the maximum number of event log entries returned.
const MaxLogEntries = 100

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg             *config.Config
	agent           *agent.Agent
	ffmpegAvailable bool
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, a *agent.Agent, ffmpegAvailable bool) *CommandHandler {
	return &CommandHandler{
		cfg:             cfg,
		agent:           a,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "session/connect", "audio/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "session":
		h.handleSession(action, cmd, send)
	case "sensors":
		h.handleSensors(action, cmd, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "settings":
		h.handleSettings(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "api":
		h.handleAPI(action, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleSession routes session/* commands
func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "connect":
		HandleActionAsync(cmd, send, func() (any, error) {
			return nil, h.agent.Connect()
		})
	case "disconnect":
		h.agent.Disconnect()
		SendSuccess(send, cmd.Type, nil)
	default:
		slog.Warn("unknown session action", "action", action)
	}
}

// handleSensors routes sensors/* commands
func (h *CommandHandler) handleSensors(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "refresh":
		h.handleSensorsRefresh(cmd, send)
	default:
		slog.Warn("unknown sensors action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleSettings routes settings/* commands
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "location":
		h.handleLocationUpdate(cmd, send)
	case "soil":
		h.handleSoilUpdate(cmd, send)
	case "voice":
		h.handleVoiceUpdate(cmd, send)
	case "gemini":
		h.handleGeminiUpdate(cmd, send)
	default:
		slog.Warn("unknown settings action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleTest(send, "webhook")
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "update":
			h.handleLogUpdate(cmd, send)
		case "test":
			h.handleTest(send, "log")
		case "view":
			h.handleViewLog(send)
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleTest(send, "email")
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	case "zabbix":
		switch subaction {
		case "update":
			h.handleZabbixUpdate(cmd, send)
		case "test":
			h.handleTest(send, "zabbix")
		default:
			slog.Warn("unknown zabbix action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleAPI routes api/* commands
func (h *CommandHandler) handleAPI(action string, send chan<- any) {
	switch action {
	case "regenerate-key":
		h.handleRegenerateAPIKey(send)
	default:
		slog.Warn("unknown api action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
