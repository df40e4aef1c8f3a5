// Package types provides shared type definitions used across the voice agent.
package types

import (
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
)

// CaptureState represents the current state of the microphone capture.
type CaptureState string

const (
	// StateStopped indicates capture is not running.
	StateStopped CaptureState = "stopped"
	// StateStarting indicates the capture process is initializing.
	StateStarting CaptureState = "starting"
	// StateRunning indicates audio is being captured and streamed.
	StateRunning CaptureState = "running"
	// StateStopping indicates capture is shutting down.
	StateStopping CaptureState = "stopping"
)

const (
	// InitialRetryDelay is the starting delay between capture restarts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between capture restarts.
	MaxRetryDelay = 60000 * time.Millisecond
	// MaxRetries is the maximum number of rapid capture failures before giving up.
	MaxRetries = 10
	// SuccessThreshold is the run time after which the retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
)

// CaptureStatus summarizes the microphone capture.
type CaptureStatus struct {
	State      CaptureState `json:"state"`                // Current capture state
	Device     string       `json:"device,omitzero"`      // Configured input device
	Uptime     string       `json:"uptime,omitzero"`      // Time since the process started
	LastError  string       `json:"last_error,omitzero"`  // Most recent error
	RetryCount int          `json:"retry_count,omitzero"` // Rapid failures so far
	MaxRetries int          `json:"max_retries"`          // Failures before giving up
	Chunks     int64        `json:"chunks"`               // Chunks handed to the session
}

// SessionStatus is a point-in-time view of the live session.
type SessionStatus struct {
	State          string    `json:"state"`
	SessionID      string    `json:"session_id,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitzero"`
	Reconnects     int       `json:"reconnects"`
	LastError      string    `json:"last_error,omitempty"`
	Speaking       bool      `json:"speaking"`
	QueueDepth     int       `json:"queue_depth"`
}

// TranscriptEntry is one transcribed model turn.
type TranscriptEntry struct {
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
}

// WSStatusResponse is sent to clients with the full agent status.
type WSStatusResponse struct {
	Type              string            `json:"type"`                     // Message type identifier
	FFmpegAvailable   bool              `json:"ffmpeg_available"`         // FFmpeg binary is available
	APIKeySet         bool              `json:"api_key_set"`              // A Gemini API key is configured
	Capture           CaptureStatus     `json:"capture"`                  // Microphone status
	Session           SessionStatus     `json:"session"`                  // Live session status
	Context           sensors.Snapshot  `json:"context"`                  // Last sensor snapshot
	Alert             *sensors.Alert    `json:"alert,omitempty"`          // Active soil moisture alert
	Transcripts       []TranscriptEntry `json:"transcripts"`              // Recent transcripts, newest first
	Devices           []audio.Device    `json:"devices"`                  // Available audio devices
	Webhook           string            `json:"webhook"`                  // Webhook URL for notifications
	LogPath           string            `json:"log_path"`                 // Event log file path
	ZabbixServer      string            `json:"zabbix_server,omitempty"`  // Zabbix server address
	ZabbixPort        int               `json:"zabbix_port,omitempty"`    // Zabbix server port
	ZabbixHost        string            `json:"zabbix_host,omitempty"`    // Zabbix host name
	ZabbixKey         string            `json:"zabbix_key,omitempty"`     // Zabbix item key
	GraphTenantID     string            `json:"graph_tenant_id"`          // Azure AD tenant ID
	GraphClientID     string            `json:"graph_client_id"`          // App registration client ID
	GraphFromAddress  string            `json:"graph_from_address"`       // Shared mailbox address
	GraphRecipients   string            `json:"graph_recipients"`         // Comma-separated recipients
	GraphSecretExpiry SecretExpiryInfo  `json:"graph_secret_expiry"`      // Client secret expiration info
	Settings          WSSettings        `json:"settings"`                 // Current settings
	Version           VersionInfo       `json:"version"`                  // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	AudioInput    string  `json:"audio_input"`    // Selected microphone
	AudioOutput   string  `json:"audio_output"`   // Selected playback device
	Model         string  `json:"model"`          // Live model name
	VoiceLanguage string  `json:"voice_language"` // Speech language code, empty for automatic
	AutoConnect   bool    `json:"auto_connect"`   // Connect on startup
	Latitude      float64 `json:"latitude"`       // Sensor location
	Longitude     float64 `json:"longitude"`      // Sensor location
	Platform      string  `json:"platform"`       // Operating system platform
}

// WSLevelsResponse is sent to clients with audio level updates.
type WSLevelsResponse struct {
	Type     string            `json:"type"`     // Message type identifier
	Input    audio.InputLevels `json:"input"`    // Microphone levels in dBFS
	Output   float64           `json:"output"`   // Playback loudness 0-100
	Speaking bool              `json:"speaking"` // Agent audio is playing
}

// WSTranscriptResponse is pushed to clients when a turn was transcribed.
type WSTranscriptResponse struct {
	Type  string          `json:"type"`
	Entry TranscriptEntry `json:"entry"`
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// WSEventLogResult is sent to clients with notification log entries.
type WSEventLogResult struct {
	Type    string          `json:"type"`              // Message type identifier
	Success bool            `json:"success"`           // Operation succeeded
	Error   string          `json:"error,omitempty"`   // Error message if failed
	Entries []EventLogEntry `json:"entries,omitempty"` // Log entries
	Path    string          `json:"path,omitempty"`    // Log file path
}

// EventLogEntry represents a single entry in the notification log.
type EventLogEntry struct {
	Timestamp    string  `json:"timestamp"`               // RFC3339 timestamp
	Event        string  `json:"event"`                   // session_lost, soil_too_wet, test...
	SessionID    string  `json:"session_id,omitempty"`    // Live session the event belongs to
	Reconnects   int     `json:"reconnects,omitempty"`    // Reconnects so far in this session
	Error        string  `json:"error,omitempty"`         // Close or transport error
	SoilMoisture float64 `json:"soil_moisture,omitempty"` // Reading that triggered a soil alert
	Threshold    float64 `json:"threshold,omitempty"`     // Threshold that was crossed
	Message      string  `json:"message,omitempty"`       // Human-readable message
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server    string `json:"server,omitempty"`
	Port      int    `json:"port,omitempty" validate:"omitempty,gte=1,lte=65535"`
	Host      string `json:"host,omitempty"`
	Key       string `json:"key,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// SecretExpiryInfo contains client secret expiration data.
type SecretExpiryInfo struct {
	ExpiresAt   string `json:"expires_at,omitempty"`   // RFC3339 expiration timestamp
	ExpiresSoon bool   `json:"expires_soon,omitempty"` // True if expires within 30 days
	DaysLeft    int    `json:"days_left,omitempty"`    // Days until expiration
	Error       string `json:"error,omitempty"`        // Error message if check failed
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
