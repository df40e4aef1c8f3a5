package audio

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePCM16(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0x80, 0xFF, 0x7F}

	samples, err := DecodePCM16(data)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.InDelta(t, 0.0, samples[0], 1e-9)
	assert.InDelta(t, 0.5, samples[1], 1e-9)
	assert.InDelta(t, -1.0, samples[2], 1e-9)
	assert.InDelta(t, 32767.0/32768.0, samples[3], 1e-6)
}

func TestDecodePCM16OddLength(t *testing.T) {
	_, err := DecodePCM16([]byte{0x01, 0x02, 0x03})

	var malformed *MalformedAudioError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 3, malformed.Length)
}

func TestDecodePCM16Empty(t *testing.T) {
	samples, err := DecodePCM16(nil)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestPCM16RoundTrip(t *testing.T) {
	const step = 1.0 / 32768.0
	samples := []float32{-1, -0.75, -0.333, -step, 0, step, 0.1, 0.5, 0.999, 1}

	decoded, err := DecodePCM16(EncodePCM16(samples))
	require.NoError(t, err)
	require.Len(t, decoded, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], decoded[i], step+1e-7, "sample %d", i)
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	out := EncodePCM16([]float32{2, -2})
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(out[2:])))
}

func TestDecodeBase64(t *testing.T) {
	data, err := DecodeBase64("AAAB")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x01}, data)

	_, err = DecodeBase64("not base64!")
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.NotNil(t, errors.Unwrap(err))
}

func TestBase64RoundTrip(t *testing.T) {
	in := []byte{0, 1, 2, 250, 251, 252, 253}
	out, err := DecodeBase64(EncodeBase64(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeChunk(t *testing.T) {
	// "AgAD" decodes to 02 00 03, an odd number of PCM bytes.
	_, err := DecodeChunk("AgAD")
	var malformed *MalformedAudioError
	assert.True(t, errors.As(err, &malformed))

	samples, err := DecodeChunk(EncodeBase64([]byte{0x00, 0x40}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, samples)
}

func TestDurationMs(t *testing.T) {
	assert.Equal(t, int64(1000), DurationMs(24000, PlaybackSampleRate))
	assert.Equal(t, int64(100), DurationMs(1600, CaptureSampleRate))
	assert.Equal(t, int64(0), DurationMs(100, 0))
}
