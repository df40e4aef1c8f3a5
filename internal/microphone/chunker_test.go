package microphone

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks []string
	mimes  []string
}

func (s *recordingSink) SendMediaChunk(data, mimeType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, data)
	s.mimes = append(s.mimes, mimeType)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func constantPCM(samples int, value int16) []byte {
	buf := make([]byte, samples*audio.BytesPerSample)
	for i := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(value))
	}
	return buf
}

func TestChunkBytes(t *testing.T) {
	assert.Equal(t, 3200, ChunkBytes(100))
	assert.Equal(t, 3200, ChunkBytes(0))
	assert.Equal(t, 640, ChunkBytes(20))
}

func TestChunkerEmitsFixedChunks(t *testing.T) {
	sink := &recordingSink{}
	c := NewChunker(sink, 100, nil, nil)

	data := constantPCM(3300, 1000) // two full chunks plus 200 bytes
	for len(data) > 0 {
		n := min(777, len(data))
		written, err := c.Write(data[:n])
		require.NoError(t, err)
		require.Equal(t, n, written)
		data = data[n:]
	}

	require.Equal(t, 2, sink.count())
	assert.Equal(t, int64(2), c.Chunks())
	for i, chunk := range sink.chunks {
		raw, err := audio.DecodeBase64(chunk)
		require.NoError(t, err)
		assert.Len(t, raw, 3200)
		assert.Equal(t, "audio/pcm", sink.mimes[i])
	}

	// The remainder completes a third chunk.
	_, err := c.Write(make([]byte, 3000))
	require.NoError(t, err)
	assert.Equal(t, 3, sink.count())
}

func TestChunkerReset(t *testing.T) {
	sink := &recordingSink{}
	c := NewChunker(sink, 100, nil, nil)

	_, _ = c.Write(make([]byte, 3000))
	c.Reset()
	_, _ = c.Write(make([]byte, 3000))
	assert.Equal(t, 0, sink.count())
}

func TestChunkerReportsLevels(t *testing.T) {
	var got []audio.InputLevels
	c := NewChunker(&recordingSink{}, 100, nil, func(l audio.InputLevels) {
		got = append(got, l)
	})

	// Half scale: 20*log10(0.5) = -6.02 dBFS.
	_, err := c.Write(constantPCM(8000, 16384))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.InDelta(t, -6.02, got[0].Level, 0.05)
	assert.InDelta(t, -6.02, got[0].Peak, 0.05)
	assert.Zero(t, got[0].Clip)
}

func TestChunkerCountsClipping(t *testing.T) {
	var got []audio.InputLevels
	c := NewChunker(&recordingSink{}, 250, nil, func(l audio.InputLevels) {
		got = append(got, l)
	})

	_, err := c.Write(constantPCM(4000, 32767))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 4000, got[0].Clip)
	assert.InDelta(t, 0, got[0].Peak, 0.01)
}
