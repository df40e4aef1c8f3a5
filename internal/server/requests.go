package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input  *string `json:"input" validate:"omitempty,max=256"`
	Output *string `json:"output" validate:"omitempty,max=256"`
}

// --- Field settings ---

// LocationUpdateRequest is the request body for settings/location.
type LocationUpdateRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Name      string   `json:"name" validate:"omitempty,max=100"`
}

// SoilUpdateRequest is the request body for settings/soil.
type SoilUpdateRequest struct {
	High float64 `json:"high" validate:"gte=0,lte=100,gtfield=Low"`
	Low  float64 `json:"low" validate:"gte=0,lte=100"`
}

// --- Session settings ---

// VoiceUpdateRequest is the request body for settings/voice.
type VoiceUpdateRequest struct {
	Language    *string `json:"language" validate:"omitempty,bcp47_language_tag"`
	AutoConnect *bool   `json:"auto_connect"`
}

// GeminiUpdateRequest is the request body for settings/gemini.
type GeminiUpdateRequest struct {
	APIKey string `json:"api_key" validate:"required,max=256"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// ZabbixUpdateRequest is the request body for notifications/zabbix/update.
type ZabbixUpdateRequest struct {
	Server string `json:"server" validate:"omitempty,max=253,hostname|ip"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}
