package util

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Current())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Current())
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("read", nil))

	cause := errors.New("boom")
	err := WrapError("read telemetry", cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to read telemetry: boom", err.Error())
}

func TestExtractLastError(t *testing.T) {
	assert.Equal(t, "arecord: main: audio open error", ExtractLastError("warming up\narecord: main: audio open error\n\n"))
	assert.Empty(t, ExtractLastError("  \n "))

	long := strings.Repeat("x", maxErrorLineLength+10)
	assert.Len(t, ExtractLastError(long), maxErrorLineLength+3)
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("path", "/var/log/voiceagent/events.jsonl"))
	assert.Error(t, ValidatePath("path", ""))
	assert.Error(t, ValidatePath("path", "/var/log/../../etc/passwd"))
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
	assert.True(t, IsConfigured())
}

func TestBrandCSS(t *testing.T) {
	assert.Equal(t, "#E6E6E6", DarkenColor("#FFFFFF", 10))
	assert.Equal(t, "nope", DarkenColor("nope", 10))

	css := GenerateBrandCSS("#2E7D32", "#66BB6A")
	assert.Contains(t, css, "--brand:#2E7D32")
	assert.Contains(t, css, "--brand-dark:#66BB6A")
}

func TestFormatHumanTime(t *testing.T) {
	assert.Equal(t, "unknown", FormatHumanTime(""))
	assert.Equal(t, "not-a-time", FormatHumanTime("not-a-time"))
	assert.NotEqual(t, "unknown", FormatHumanTime("2025-01-10T14:00:00Z"))
}
