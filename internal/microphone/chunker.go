package microphone

import (
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/live"
)

// DefaultChunkMs is the default length of one media chunk.
const DefaultChunkMs = 100

// LevelUpdateSamples is the number of samples before updating input levels
// (250 ms at the capture rate).
const LevelUpdateSamples = audio.CaptureSampleRate / 4

// Sink receives base64 PCM chunks. *live.Session implements it.
type Sink interface {
	SendMediaChunk(data, mimeType string)
}

// LevelCallback receives microphone level updates from the chunker.
type LevelCallback func(levels audio.InputLevels)

// ChunkBytes returns the byte length of a chunkMs slice of capture audio.
func ChunkBytes(chunkMs int) int {
	if chunkMs <= 0 {
		chunkMs = DefaultChunkMs
	}
	return audio.CaptureSampleRate * chunkMs / 1000 * audio.BytesPerSample
}

// Chunker slices raw capture PCM into fixed-size chunks, meters them and
// hands each chunk to a Sink. It implements io.Writer so the capture
// process output can be copied straight into it.
type Chunker struct {
	sink       Sink
	size       int
	pending    []byte
	levelData  *audio.LevelData
	peakHolder *audio.PeakHolder
	callback   LevelCallback
	chunks     atomic.Int64
}

// NewChunker creates a chunker that emits chunkMs chunks to sink.
func NewChunker(sink Sink, chunkMs int, peakHolder *audio.PeakHolder, callback LevelCallback) *Chunker {
	size := ChunkBytes(chunkMs)
	if peakHolder == nil {
		peakHolder = audio.NewPeakHolder()
	}
	return &Chunker{
		sink:       sink,
		size:       size,
		pending:    make([]byte, 0, size),
		levelData:  &audio.LevelData{},
		peakHolder: peakHolder,
		callback:   callback,
	}
}

// Write buffers p and emits every complete chunk. It never fails.
func (c *Chunker) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		take := min(c.size-len(c.pending), len(p))
		c.pending = append(c.pending, p[:take]...)
		p = p[take:]

		if len(c.pending) == c.size {
			c.emit(c.pending)
			c.pending = c.pending[:0]
		}
	}
	return n, nil
}

// Chunks returns how many chunks were handed to the sink.
func (c *Chunker) Chunks() int64 {
	return c.chunks.Load()
}

// Reset drops a partially filled chunk and the level accumulators.
func (c *Chunker) Reset() {
	c.pending = c.pending[:0]
	c.levelData.Reset()
}

func (c *Chunker) emit(chunk []byte) {
	audio.ProcessSamples(chunk, len(chunk), c.levelData)

	if c.levelData.SampleCount >= LevelUpdateSamples {
		levels := audio.CalculateLevels(c.levelData)
		held := c.peakHolder.Update(levels.Peak, time.Now())

		if c.callback != nil {
			c.callback(audio.InputLevels{
				Level: levels.RMS,
				Peak:  held,
				Clip:  levels.Clip,
			})
		}
		c.levelData.Reset()
	}

	c.sink.SendMediaChunk(audio.EncodeBase64(chunk), live.MediaMimeType)
	c.chunks.Add(1)
}
