// Package playback plays synthesized audio fragments strictly in arrival
// order, one at a time.
package playback

import (
	"context"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
)

// Fragment is one decoded buffer of mono samples in [-1, 1].
type Fragment struct {
	Samples    []float32
	SampleRate int
}

// NewFragment returns a fragment at the live service playback rate.
func NewFragment(samples []float32) Fragment {
	return Fragment{Samples: samples, SampleRate: audio.PlaybackSampleRate}
}

// Duration returns the playback time of the fragment.
func (f Fragment) Duration() time.Duration {
	return time.Duration(audio.DurationMs(len(f.Samples), f.SampleRate)) * time.Millisecond
}

// Player renders fragments to an output device.
type Player interface {
	// Play blocks until the fragment finished playing or ctx is done.
	// An error means the fragment could not be played.
	Play(ctx context.Context, f Fragment) error
}

// ClockPlayer is a Player without a device. It completes each fragment
// after its duration has elapsed.
type ClockPlayer struct{}

// Play waits for the fragment's duration.
func (ClockPlayer) Play(ctx context.Context, f Fragment) error {
	timer := time.NewTimer(f.Duration())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
