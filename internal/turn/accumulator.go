// Package turn collects the audio fragments of one model turn and hands the
// finished utterance to a transcriber.
package turn

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
)

// Transcriber converts a finished audio container into text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

// TranscriptionError reports a failed transcription of a flushed turn.
type TranscriptionError struct {
	Bytes int // Size of the container that failed
	Err   error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription of %d byte turn failed: %v", e.Bytes, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Accumulator holds base64 PCM16 chunks received since the last flush.
// It is safe for concurrent use.
type Accumulator struct {
	transcriber Transcriber
	sampleRate  int

	mu     sync.Mutex
	chunks []string
}

// New returns an empty accumulator for audio at sampleRate.
func New(t Transcriber, sampleRate int) *Accumulator {
	return &Accumulator{transcriber: t, sampleRate: sampleRate}
}

// Append adds one base64 chunk in arrival order.
func (a *Accumulator) Append(chunk string) {
	a.mu.Lock()
	a.chunks = append(a.chunks, chunk)
	a.mu.Unlock()
}

// Len returns the number of chunks held.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}

// Reset drops all held chunks.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.chunks = nil
	a.mu.Unlock()
}

// Flush removes all held chunks and returns their decoded PCM wrapped as a
// WAV container. ok is false when nothing was held.
func (a *Accumulator) Flush() (container []byte, ok bool) {
	a.mu.Lock()
	chunks := a.chunks
	a.chunks = nil
	a.mu.Unlock()

	if len(chunks) == 0 {
		return nil, false
	}

	var pcm bytes.Buffer
	for i, c := range chunks {
		data, err := audio.DecodeBase64(c)
		if err != nil {
			slog.Warn("skipping undecodable chunk in turn", "index", i, "error", err)
			continue
		}
		pcm.Write(data)
	}
	return audio.WrapWAV(pcm.Bytes(), a.sampleRate), true
}

// FlushAndTranscribe flushes the turn and transcribes it. The buffer is
// cleared before the transcriber is called, so chunks appended meanwhile
// belong to the next turn. It returns ok=false when there was nothing to
// flush; a failed transcription yields a *TranscriptionError.
func (a *Accumulator) FlushAndTranscribe(ctx context.Context) (text string, ok bool, err error) {
	container, ok := a.Flush()
	if !ok {
		return "", false, nil
	}
	text, err = a.Transcribe(ctx, container)
	return text, true, err
}

// Transcribe passes a container returned by Flush to the transcriber.
func (a *Accumulator) Transcribe(ctx context.Context, container []byte) (string, error) {
	start := time.Now()
	text, err := a.transcriber.Transcribe(ctx, container, audio.WAVMimeType)
	if err != nil {
		return "", &TranscriptionError{Bytes: len(container), Err: err}
	}
	slog.Debug("turn transcribed", "bytes", len(container), "took", time.Since(start))
	return text, nil
}
