package turn

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls [][]byte
	mime  string
	text  string
	err   error
	// during runs inside Transcribe, before it returns.
	during func()
}

func (f *fakeTranscriber) Transcribe(_ context.Context, data []byte, mimeType string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, data)
	f.mime = mimeType
	f.mu.Unlock()
	if f.during != nil {
		f.during()
	}
	return f.text, f.err
}

func TestFlushAndTranscribeConcatenatesInOrder(t *testing.T) {
	ft := &fakeTranscriber{text: "namaste"}
	acc := New(ft, audio.PlaybackSampleRate)

	acc.Append(audio.EncodeBase64([]byte{1, 0, 2, 0}))
	acc.Append(audio.EncodeBase64([]byte{3, 0}))
	acc.Append(audio.EncodeBase64([]byte{4, 0, 5, 0}))

	text, ok, err := acc.FlushAndTranscribe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "namaste", text)
	assert.Zero(t, acc.Len())

	require.Len(t, ft.calls, 1)
	assert.Equal(t, audio.WAVMimeType, ft.mime)
	assert.Equal(t, audio.WrapWAV([]byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0}, 24000), ft.calls[0])
}

func TestFlushEmptyIsNoop(t *testing.T) {
	ft := &fakeTranscriber{}
	acc := New(ft, audio.PlaybackSampleRate)

	text, ok, err := acc.FlushAndTranscribe(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, text)
	assert.Empty(t, ft.calls)
}

func TestFlushClearsBeforeTranscribing(t *testing.T) {
	ft := &fakeTranscriber{text: "first"}
	acc := New(ft, audio.PlaybackSampleRate)
	ft.during = func() {
		// A new turn starting while the previous one is being transcribed.
		assert.Zero(t, acc.Len())
		acc.Append(audio.EncodeBase64([]byte{9, 0}))
	}

	acc.Append(audio.EncodeBase64([]byte{1, 0}))
	_, _, err := acc.FlushAndTranscribe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, acc.Len(), "chunk from the next turn is kept")
	assert.Equal(t, audio.WrapWAV([]byte{1, 0}, 24000), ft.calls[0])
}

func TestTranscriptionFailureStillClears(t *testing.T) {
	ft := &fakeTranscriber{err: errors.New("quota exceeded")}
	acc := New(ft, audio.PlaybackSampleRate)

	acc.Append(audio.EncodeBase64([]byte{1, 0}))
	_, ok, err := acc.FlushAndTranscribe(context.Background())

	assert.True(t, ok)
	var terr *TranscriptionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, audio.WAVHeaderSize+2, terr.Bytes)
	assert.Zero(t, acc.Len())

	// The next turn is unaffected.
	ft.err = nil
	ft.text = "ok"
	acc.Append(audio.EncodeBase64([]byte{2, 0}))
	text, _, err := acc.FlushAndTranscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestFlushSkipsUndecodableChunk(t *testing.T) {
	acc := New(&fakeTranscriber{}, audio.PlaybackSampleRate)
	acc.Append("!!!")
	acc.Append(audio.EncodeBase64([]byte{7, 0}))

	container, ok := acc.Flush()
	require.True(t, ok)
	assert.Equal(t, audio.WrapWAV([]byte{7, 0}, 24000), container)
}

func TestReset(t *testing.T) {
	acc := New(&fakeTranscriber{}, audio.PlaybackSampleRate)
	acc.Append("AAAA")
	acc.Reset()
	_, ok := acc.Flush()
	assert.False(t, ok)
}
