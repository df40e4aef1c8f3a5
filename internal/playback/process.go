package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// ProcessPlayer plays fragments through a long-lived FFmpeg process that
// renders S16LE from stdin to an audio device. A fragment counts as finished
// once its duration has elapsed since it was written.
type ProcessPlayer struct {
	ffmpegPath string
	device     string

	mu   sync.Mutex
	proc *ffmpeg.Process
}

// NewProcessPlayer returns a player for the given FFmpeg binary and output device.
// The process is started on first use.
func NewProcessPlayer(ffmpegPath, device string) *ProcessPlayer {
	return &ProcessPlayer{ffmpegPath: ffmpegPath, device: device}
}

// Play writes the fragment to the output process and waits for its duration.
func (p *ProcessPlayer) Play(ctx context.Context, f Fragment) error {
	proc, err := p.ensure()
	if err != nil {
		return err
	}

	start := time.Now()
	if _, err := proc.Stdin.Write(audio.EncodePCM16(f.Samples)); err != nil {
		p.discard(proc)
		return util.WrapError("write audio to output", err)
	}

	timer := time.NewTimer(f.Duration() - time.Since(start))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-proc.Done():
		p.discard(proc)
		return fmt.Errorf("audio output exited: %s", proc.LastError())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the output process.
func (p *ProcessPlayer) Close() error {
	p.mu.Lock()
	proc := p.proc
	p.proc = nil
	p.mu.Unlock()

	if proc == nil {
		return nil
	}
	return proc.Stop()
}

// ensure returns a running output process, starting one if needed.
func (p *ProcessPlayer) ensure() (*ffmpeg.Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proc != nil && !p.proc.Exited() {
		return p.proc, nil
	}
	if p.proc != nil {
		slog.Warn("audio output process exited, restarting", "error", p.proc.LastError())
		p.proc = nil
	}

	args, err := ffmpeg.PlaybackArgs(p.device)
	if err != nil {
		return nil, err
	}
	proc, err := ffmpeg.StartProcess(p.ffmpegPath, args)
	if err != nil {
		return nil, util.WrapError("start audio output", err)
	}
	slog.Info("audio output started", "device", p.device)
	p.proc = proc
	return proc, nil
}

// discard forgets proc so the next Play starts a fresh process.
func (p *ProcessPlayer) discard(proc *ffmpeg.Process) {
	p.mu.Lock()
	if p.proc == proc {
		p.proc = nil
	}
	p.mu.Unlock()
	proc.Cancel()
}
