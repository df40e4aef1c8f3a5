package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
)

func writeConfig(t *testing.T, v any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadCreatesDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := New(path)
	require.NoError(t, cfg.Load())
	assert.FileExists(t, path)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, DefaultLiveModel, snap.LiveModel)
	assert.Equal(t, DefaultChunkMs, snap.ChunkMs)
	assert.Equal(t, time.Second, snap.ReconnectDelay)
	assert.Equal(t, 3*time.Second, snap.SnapshotTimeout)
	assert.Equal(t, 5*time.Minute, snap.RefreshInterval)
	assert.InDelta(t, sensors.DefaultLatitude, snap.Latitude, 1e-9)
	assert.Equal(t, sensors.DefaultChannel, snap.ThingSpeakChannel)
	assert.InDelta(t, 80.0, snap.SoilMoistureHigh, 1e-9)
	assert.InDelta(t, 20.0, snap.SoilMoistureLow, 1e-9)

	// The written file loads back cleanly.
	again := New(path)
	require.NoError(t, again.Load())
	assert.Equal(t, snap, again.Snapshot())
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := writeConfig(t, map[string]any{
		"gemini":  map[string]any{"api_key": "file-key", "voice_language": "hi-IN"},
		"sensors": map[string]any{"latitude": 28.6139, "longitude": 77.209},
	})

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, "file-key", snap.GeminiAPIKey)
	assert.Equal(t, "hi-IN", snap.VoiceLanguage)
	assert.InDelta(t, 28.6139, snap.Latitude, 1e-9)
	assert.Equal(t, DefaultTranscriptionModel, snap.TranscriptionModel)
}

func TestEnvironmentKeyOverridesFile(t *testing.T) {
	t.Setenv(APIKeyEnv, "env-key")
	path := writeConfig(t, map[string]any{
		"gemini": map[string]any{"api_key": "file-key"},
	})

	cfg := New(path)
	require.NoError(t, cfg.Load())
	assert.Equal(t, "env-key", cfg.GeminiAPIKey())
	assert.Equal(t, "env-key", cfg.Snapshot().GeminiAPIKey)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"sensors": map[string]any{"latitude": 123.0, "soil_moisture_high": 30, "soil_moisture_low": 60},
		"web":     map[string]any{"color_light": "pink"},
		"gemini":  map[string]any{"endpoint": "not a url"},
	})

	err := New(path).Load()
	require.Error(t, err)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))

	fields := make([]string, 0, len(verr.Errors))
	for _, e := range verr.Errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "sensors.latitude")
	assert.Contains(t, fields, "sensors.soil_moisture_low")
	assert.Contains(t, fields, "web.color_light")
	assert.Contains(t, fields, "gemini.endpoint")
	assert.Contains(t, err.Error(), "sensors.latitude: must be at most 90")
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	assert.ErrorContains(t, New(path).Load(), "failed to parse config")
}

func TestSetterPersists(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetAudioInput("hw:1,0"))
	require.NoError(t, cfg.SetSoilThresholds(70, 30))
	require.NoError(t, cfg.SetAutoConnect(true))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	snap := reloaded.Snapshot()
	assert.Equal(t, "hw:1,0", snap.AudioInput)
	assert.InDelta(t, 70.0, snap.SoilMoistureHigh, 1e-9)
	assert.InDelta(t, 30.0, snap.SoilMoistureLow, 1e-9)
	assert.True(t, snap.AutoConnect)
}

func TestSetterRollsBackInvalidUpdate(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	err := cfg.SetSoilThresholds(10, 50)
	require.Error(t, err)

	snap := cfg.Snapshot()
	assert.InDelta(t, sensors.DefaultSoilMoistureHigh, snap.SoilMoistureHigh, 1e-9)
	assert.InDelta(t, sensors.DefaultSoilMoistureLow, snap.SoilMoistureLow, 1e-9)

	assert.Error(t, cfg.SetVoiceLanguage("not a language"))
	assert.Empty(t, cfg.Snapshot().VoiceLanguage)
}

func TestSetLogPathRejectsTraversal(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	assert.Error(t, cfg.SetLogPath("../../etc/passwd"))
	assert.Empty(t, cfg.LogPath())
}

func TestSetGraphConfigKeepsSecret(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.SetGraphConfig("tenant", "client", "secret", "farm@example.com", "a@example.com"))
	require.NoError(t, cfg.SetGraphConfig("tenant", "client", "", "farm@example.com", "b@example.com"))

	g := cfg.GraphConfig()
	assert.Equal(t, "secret", g.ClientSecret)
	assert.Equal(t, "b@example.com", g.Recipients)

	snap := cfg.Snapshot()
	assert.True(t, snap.HasGraph())
	assert.False(t, snap.HasWebhook())
	assert.False(t, snap.HasZabbix())
}

func TestSensorsConfigFromSnapshot(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.SetLocation(19.076, 72.8777, "Mumbai"))

	snap := cfg.Snapshot()
	sc := snap.SensorsConfig()
	assert.InDelta(t, 19.076, sc.Latitude, 1e-9)
	assert.Equal(t, "Mumbai", sc.LocationName)
	assert.Equal(t, sensors.DefaultResults, sc.Results)
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Regexp(t, `^[a-zA-Z0-9]+$`, a)
	assert.NotEqual(t, a, b)
}
