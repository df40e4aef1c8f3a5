package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoudness(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0}, 0},
		{"quiet", []float32{0.1, -0.1}, 50},
		{"clamped", []float32{0.5, -0.5}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Loudness(tt.samples), 1e-4)
		})
	}
}

func TestCalculateLevels(t *testing.T) {
	var data LevelData
	assert.Equal(t, Levels{RMS: MinDB, Peak: MinDB}, CalculateLevels(&data))

	buf := EncodePCM16([]float32{1, -1, 1, -1})
	ProcessSamples(buf, len(buf), &data)
	levels := CalculateLevels(&data)

	assert.Equal(t, 4, data.SampleCount)
	assert.InDelta(t, 0, levels.RMS, 0.01)
	assert.InDelta(t, 0, levels.Peak, 0.01)
	assert.Equal(t, 4, levels.Clip)

	data.Reset()
	assert.Zero(t, data.SampleCount)
}

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()

	assert.InDelta(t, -10, p.Update(-10, now), 1e-9)
	assert.InDelta(t, -10, p.Update(-30, now.Add(time.Second)), 1e-9, "held within hold duration")
	assert.InDelta(t, -30, p.Update(-30, now.Add(DefaultPeakHoldDuration+time.Second)), 1e-9, "decays after hold duration")

	p.Reset()
	assert.InDelta(t, -50, p.Update(-50, now), 1e-9)
}
