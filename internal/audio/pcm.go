package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// Audio formats exchanged with the live service.
const (
	// PlaybackSampleRate is the rate of synthesized audio received from the service.
	PlaybackSampleRate = 24000
	// CaptureSampleRate is the rate of microphone audio sent to the service.
	CaptureSampleRate = 16000
	// BytesPerSample is the size of one mono S16LE sample.
	BytesPerSample = 2
)

// DecodePCM16 converts little-endian signed 16-bit PCM into samples in [-1, 1].
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, &MalformedAudioError{Length: len(data)}
	}
	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float32(float64(v) / MaxSampleValue)
	}
	return samples, nil
}

// EncodePCM16 converts samples in [-1, 1] into little-endian signed 16-bit PCM.
// Values outside the range are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(float64(s) * MaxSampleValue)
		v = max(min(v, math.MaxInt16), math.MinInt16)
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}

// EncodeBase64 returns the standard base64 encoding of data.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard base64 text.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	return data, nil
}

// DecodeChunk decodes one base64 PCM16 chunk into samples.
func DecodeChunk(s string) ([]float32, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	return DecodePCM16(data)
}

// DurationMs returns the playback time of n samples at the given rate in milliseconds.
func DurationMs(n, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(n) * 1000 / int64(sampleRate)
}
