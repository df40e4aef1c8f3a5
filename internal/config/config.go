// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// APIKeyEnv overrides the configured Gemini API key when set.
const APIKeyEnv = "GEMINI_API_KEY"

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort             = 8080
	DefaultWebUsername         = "admin"
	DefaultWebPassword         = "voiceagent"
	DefaultStationName         = "ZuidWest Farm"
	DefaultStationColorLight   = "#2E7D32"
	DefaultStationColorDark    = "#66BB6A"
	DefaultLiveModel           = "models/gemini-2.0-flash-exp"
	DefaultTranscriptionModel  = "gemini-2.0-flash"
	DefaultChunkMs             = 100
	DefaultReconnectDelayMs    = 1000
	DefaultSnapshotTimeoutMs   = 3000
	DefaultRefreshIntervalSecs = 300
)

// Station name: any printable characters except control chars (blocks CRLF injection in emails)
var stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`                                  // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" validate:"gte=1,lte=65535"`              // HTTP server port
	Username   string `json:"username" validate:"required,max=100"`         // Login username
	Password   string `json:"password" validate:"required,max=500"`         // Login password
	APIKey     string `json:"api_key" validate:"omitempty,alphanum,max=64"` // Key for the REST endpoints
}

// WebConfig holds station branding settings.
type WebConfig struct {
	StationName string `json:"station_name" validate:"required,max=30,printable"` // Station display name
	ColorLight  string `json:"color_light" validate:"hexcolor,len=7"`            // Theme color for light mode (#RRGGBB)
	ColorDark   string `json:"color_dark" validate:"hexcolor,len=7"`             // Theme color for dark mode (#RRGGBB)
}

// GeminiConfig holds the live and transcription model settings.
type GeminiConfig struct {
	APIKey             string `json:"api_key"`                                                // API key (GEMINI_API_KEY overrides)
	Model              string `json:"model" validate:"required,startswith=models/"`           // Live model
	Endpoint           string `json:"endpoint" validate:"omitempty,url"`                      // Live endpoint override
	TranscriptionModel string `json:"transcription_model" validate:"required,max=100"`        // Model for turn transcription
	TranscriptionURL   string `json:"transcription_url" validate:"omitempty,url"`             // Transcription base URL override
	VoiceLanguage      string `json:"voice_language" validate:"omitempty,bcp47_language_tag"` // Speech language, empty for automatic
}

// AudioConfig holds microphone and playback device settings.
type AudioConfig struct {
	Input   string `json:"input"`                               // Microphone device identifier
	Output  string `json:"output"`                              // Playback device identifier
	ChunkMs int    `json:"chunk_ms" validate:"gte=20,lte=1000"` // Length of one media chunk
}

// SessionConfig holds live session behavior.
type SessionConfig struct {
	AutoConnect       bool  `json:"auto_connect"`                                     // Connect on startup
	ReconnectDelayMs  int64 `json:"reconnect_delay_ms" validate:"gte=100,lte=60000"`  // Delay before the retry after a drop
	SnapshotTimeoutMs int64 `json:"snapshot_timeout_ms" validate:"gte=100,lte=30000"` // Bound on the pre-setup refresh
}

// SensorsConfig holds the weather and soil telemetry sources.
type SensorsConfig struct {
	Latitude          float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude         float64 `json:"longitude" validate:"gte=-180,lte=180"`
	LocationName      string  `json:"location_name" validate:"max=100"`
	WeatherURL        string  `json:"weather_url" validate:"omitempty,url"`
	ThingSpeakURL     string  `json:"thingspeak_url" validate:"omitempty,url"`
	ThingSpeakChannel int     `json:"thingspeak_channel" validate:"gte=0"`
	ThingSpeakAPIKey  string  `json:"thingspeak_api_key" validate:"max=64"`
	Results           int     `json:"results" validate:"gte=1,lte=8000"`
	RefreshIntervalS  int     `json:"refresh_interval_s" validate:"gte=0,lte=86400"` // 0 disables the background refresh
	SoilMoistureHigh  float64 `json:"soil_moisture_high" validate:"gte=0,lte=100"`
	SoilMoistureLow   float64 `json:"soil_moisture_low" validate:"gte=0,lte=100,ltfield=SoilMoistureHigh"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"` // Webhook URL for alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path" validate:"max=4096"` // JSONL log file for events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`                               // Azure AD tenant ID
	ClientID     string `json:"client_id"`                               // App registration client ID
	ClientSecret string `json:"client_secret"`                           // App registration client secret
	FromAddress  string `json:"from_address" validate:"omitempty,email"` // Shared mailbox sender address
	Recipients   string `json:"recipients" validate:"max=1000"`          // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig      `json:"webhook"` // Webhook settings
	Log     LogConfig          `json:"log"`     // Log file settings
	Email   EmailConfig        `json:"email"`   // Email settings
	Zabbix  types.ZabbixConfig `json:"zabbix"`  // Zabbix trapper settings
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Web           WebConfig           `json:"web"`
	Gemini        GeminiConfig        `json:"gemini"`
	Audio         AudioConfig         `json:"audio"`
	Session       SessionConfig       `json:"session"`
	Sensors       SensorsConfig       `json:"sensors"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
	envKey   string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("printable", func(fl validator.FieldLevel) bool {
		return stationNamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.Sensors.RefreshIntervalS = DefaultRefreshIntervalSecs
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
// GEMINI_API_KEY, when set, takes precedence over the file's key.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.envKey = os.Getenv(APIKeyEnv)

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyDefaults()
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields against their struct tags.
func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verr := types.NewValidationError()
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, e := range fieldErrs {
			verr.Add(fieldPath(e.Namespace()), FormatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}
	return verr
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// FormatValidationMessage creates a human-readable message from a validator error.
func FormatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "len":
		return fmt.Sprintf("must be %s characters", e.Param())
	case "ltfield":
		return fmt.Sprintf("must be below %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "hexcolor":
		return "must be hex format (#RRGGBB)"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", e.Param())
	case "printable":
		return "must not contain control characters"
	case "bcp47_language_tag":
		return "must be a language code such as en-US"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	c.System.Username = cmp.Or(c.System.Username, DefaultWebUsername)
	c.System.Password = cmp.Or(c.System.Password, DefaultWebPassword)

	c.Web.StationName = cmp.Or(c.Web.StationName, DefaultStationName)
	c.Web.ColorLight = cmp.Or(c.Web.ColorLight, DefaultStationColorLight)
	c.Web.ColorDark = cmp.Or(c.Web.ColorDark, DefaultStationColorDark)

	c.Gemini.Model = cmp.Or(c.Gemini.Model, DefaultLiveModel)
	c.Gemini.TranscriptionModel = cmp.Or(c.Gemini.TranscriptionModel, DefaultTranscriptionModel)

	c.Audio.ChunkMs = cmp.Or(c.Audio.ChunkMs, DefaultChunkMs)

	c.Session.ReconnectDelayMs = cmp.Or(c.Session.ReconnectDelayMs, DefaultReconnectDelayMs)
	c.Session.SnapshotTimeoutMs = cmp.Or(c.Session.SnapshotTimeoutMs, DefaultSnapshotTimeoutMs)

	c.Sensors.Latitude = cmp.Or(c.Sensors.Latitude, sensors.DefaultLatitude)
	c.Sensors.Longitude = cmp.Or(c.Sensors.Longitude, sensors.DefaultLongitude)
	c.Sensors.ThingSpeakChannel = cmp.Or(c.Sensors.ThingSpeakChannel, sensors.DefaultChannel)
	c.Sensors.Results = cmp.Or(c.Sensors.Results, sensors.DefaultResults)
	c.Sensors.SoilMoistureHigh = cmp.Or(c.Sensors.SoilMoistureHigh, sensors.DefaultSoilMoistureHigh)
	c.Sensors.SoilMoistureLow = cmp.Or(c.Sensors.SoilMoistureLow, sensors.DefaultSoilMoistureLow)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// update applies fn to the config, validates the result and saves it.
// The previous values are restored when validation fails.
func (c *Config) update(fn func(*Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.copyLocked()
	fn(c)
	c.applyDefaults()
	if err := c.validate(); err != nil {
		c.restoreLocked(prev)
		return err
	}
	return c.saveLocked()
}

type sections struct {
	system        SystemConfig
	web           WebConfig
	gemini        GeminiConfig
	audio         AudioConfig
	session       SessionConfig
	sensors       SensorsConfig
	notifications NotificationsConfig
}

func (c *Config) copyLocked() sections {
	return sections{c.System, c.Web, c.Gemini, c.Audio, c.Session, c.Sensors, c.Notifications}
}

func (c *Config) restoreLocked(s sections) {
	c.System, c.Web, c.Gemini, c.Audio = s.system, s.web, s.gemini, s.audio
	c.Session, c.Sensors, c.Notifications = s.session, s.sensors, s.notifications
}

// --- Getters for individual settings ---

// AudioInput returns the configured microphone device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// LogPath returns the configured log file path for notifications.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.Log.Path
}

// GeminiAPIKey returns the API key, preferring GEMINI_API_KEY.
func (c *Config) GeminiAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.envKey, c.Gemini.APIKey)
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.Notifications.Email.ClientSecret,
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// --- Setters for individual settings ---

// SetAudioInput updates the microphone device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	return c.update(func(c *Config) { c.Audio.Input = input })
}

// SetAudioOutput updates the playback device and saves the configuration.
func (c *Config) SetAudioOutput(output string) error {
	return c.update(func(c *Config) { c.Audio.Output = output })
}

// SetAutoConnect updates whether the session connects on startup.
func (c *Config) SetAutoConnect(enabled bool) error {
	return c.update(func(c *Config) { c.Session.AutoConnect = enabled })
}

// SetVoiceLanguage updates the speech language code and saves the configuration.
func (c *Config) SetVoiceLanguage(code string) error {
	return c.update(func(c *Config) { c.Gemini.VoiceLanguage = code })
}

// SetGeminiAPIKey updates the stored API key and saves the configuration.
func (c *Config) SetGeminiAPIKey(key string) error {
	return c.update(func(c *Config) { c.Gemini.APIKey = key })
}

// SetLocation updates the sensor coordinates and label and saves the configuration.
func (c *Config) SetLocation(lat, lon float64, name string) error {
	return c.update(func(c *Config) {
		c.Sensors.Latitude = lat
		c.Sensors.Longitude = lon
		c.Sensors.LocationName = name
	})
}

// SetSoilThresholds updates the soil moisture alert thresholds and saves the configuration.
func (c *Config) SetSoilThresholds(high, low float64) error {
	return c.update(func(c *Config) {
		c.Sensors.SoilMoistureHigh = high
		c.Sensors.SoilMoistureLow = low
	})
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	return c.update(func(c *Config) { c.Notifications.Webhook.URL = url })
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	if path != "" {
		if err := util.ValidatePath("path", path); err != nil {
			return err
		}
	}
	return c.update(func(c *Config) { c.Notifications.Log.Path = path })
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
// An empty clientSecret keeps the stored secret.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	return c.update(func(c *Config) {
		c.Notifications.Email.TenantID = tenantID
		c.Notifications.Email.ClientID = clientID
		if clientSecret != "" {
			c.Notifications.Email.ClientSecret = clientSecret
		}
		c.Notifications.Email.FromAddress = fromAddress
		c.Notifications.Email.Recipients = recipients
	})
}

// SetZabbixConfig updates the Zabbix trapper settings and saves the configuration.
func (c *Config) SetZabbixConfig(server string, port int, host, key string) error {
	return c.update(func(c *Config) {
		c.Notifications.Zabbix.Server = server
		c.Notifications.Zabbix.Port = port
		c.Notifications.Zabbix.Host = host
		c.Notifications.Zabbix.Key = key
	})
}

// SetAPIKey updates the REST API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	return c.update(func(c *Config) { c.System.APIKey = key })
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int
	WebUser     string
	WebPassword string
	APIKey      string

	// Web/Branding
	StationName       string
	StationColorLight string
	StationColorDark  string

	// Gemini
	GeminiAPIKey       string
	LiveModel          string
	LiveEndpoint       string
	TranscriptionModel string
	TranscriptionURL   string
	VoiceLanguage      string

	// Audio
	AudioInput  string
	AudioOutput string
	ChunkMs     int

	// Session
	AutoConnect     bool
	ReconnectDelay  time.Duration
	SnapshotTimeout time.Duration

	// Sensors
	Latitude          float64
	Longitude         float64
	LocationName      string
	WeatherURL        string
	ThingSpeakURL     string
	ThingSpeakChannel int
	ThingSpeakAPIKey  string
	Results           int
	RefreshInterval   time.Duration
	SoilMoistureHigh  float64
	SoilMoistureLow   float64

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
	ZabbixServer      string
	ZabbixPort        int
	ZabbixHost        string
	ZabbixKey         string
	ZabbixTimeoutMs   int
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		APIKey:      c.System.APIKey,

		// Web/Branding
		StationName:       c.Web.StationName,
		StationColorLight: c.Web.ColorLight,
		StationColorDark:  c.Web.ColorDark,

		// Gemini
		GeminiAPIKey:       cmp.Or(c.envKey, c.Gemini.APIKey),
		LiveModel:          c.Gemini.Model,
		LiveEndpoint:       c.Gemini.Endpoint,
		TranscriptionModel: c.Gemini.TranscriptionModel,
		TranscriptionURL:   c.Gemini.TranscriptionURL,
		VoiceLanguage:      c.Gemini.VoiceLanguage,

		// Audio
		AudioInput:  c.Audio.Input,
		AudioOutput: c.Audio.Output,
		ChunkMs:     c.Audio.ChunkMs,

		// Session
		AutoConnect:     c.Session.AutoConnect,
		ReconnectDelay:  time.Duration(c.Session.ReconnectDelayMs) * time.Millisecond,
		SnapshotTimeout: time.Duration(c.Session.SnapshotTimeoutMs) * time.Millisecond,

		// Sensors
		Latitude:          c.Sensors.Latitude,
		Longitude:         c.Sensors.Longitude,
		LocationName:      c.Sensors.LocationName,
		WeatherURL:        c.Sensors.WeatherURL,
		ThingSpeakURL:     c.Sensors.ThingSpeakURL,
		ThingSpeakChannel: c.Sensors.ThingSpeakChannel,
		ThingSpeakAPIKey:  c.Sensors.ThingSpeakAPIKey,
		Results:           c.Sensors.Results,
		RefreshInterval:   time.Duration(c.Sensors.RefreshIntervalS) * time.Second,
		SoilMoistureHigh:  c.Sensors.SoilMoistureHigh,
		SoilMoistureLow:   c.Sensors.SoilMoistureLow,

		// Notifications
		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
		ZabbixServer:      c.Notifications.Zabbix.Server,
		ZabbixPort:        c.Notifications.Zabbix.Port,
		ZabbixHost:        c.Notifications.Zabbix.Host,
		ZabbixKey:         c.Notifications.Zabbix.Key,
		ZabbixTimeoutMs:   c.Notifications.Zabbix.TimeoutMs,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret,
		s.GraphFromAddress, s.GraphRecipients)
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether Zabbix trapper notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return util.IsConfigured(s.ZabbixServer, s.ZabbixHost, s.ZabbixKey)
}

// SensorsConfig returns the sensor provider configuration.
func (s *Snapshot) SensorsConfig() sensors.Config {
	return sensors.Config{
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		LocationName:     s.LocationName,
		WeatherURL:       s.WeatherURL,
		ThingSpeakURL:    s.ThingSpeakURL,
		ThingSpeakChan:   s.ThingSpeakChannel,
		ThingSpeakAPIKey: s.ThingSpeakAPIKey,
		Results:          s.Results,
	}
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
