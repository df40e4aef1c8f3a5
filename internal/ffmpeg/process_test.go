package ffmpeg

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseInputArgs(t *testing.T) {
	assert.Equal(t, []string{"-f", "s16le", "-ar", "24000", "-ac", "1", "-i", "pipe:0"}, BaseInputArgs())
}

func TestPlaybackArgs(t *testing.T) {
	args, err := PlaybackArgs("")
	switch runtime.GOOS {
	case "linux":
		require.NoError(t, err)
		assert.Equal(t, []string{"-f", "alsa", "default"}, args[len(args)-3:])
	case "darwin":
		require.NoError(t, err)
		assert.Equal(t, []string{"-f", "audiotoolbox", "0"}, args[len(args)-3:])
	default:
		assert.ErrorIs(t, err, ErrNoOutputDevice)
	}
}

func TestPlaybackArgsDevice(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("alsa output only on linux")
	}
	args, err := PlaybackArgs("hw:1,0")
	require.NoError(t, err)
	assert.Equal(t, "hw:1,0", args[len(args)-1])
}
