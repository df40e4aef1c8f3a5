package audio

import "fmt"

// MalformedAudioError reports PCM data that cannot be split into 16-bit samples.
type MalformedAudioError struct {
	Length int // Byte length of the rejected buffer
}

func (e *MalformedAudioError) Error() string {
	return fmt.Sprintf("malformed PCM16 audio: odd byte length %d", e.Length)
}

// EncodingError reports text that is not valid base64.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "invalid base64 audio: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
