// Package ffmpeg provides FFmpeg process management for the audio output sink.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// ErrNoOutputDevice is returned on platforms where FFmpeg has no usable audio output.
var ErrNoOutputDevice = errors.New("no FFmpeg audio output available on this platform")

// stopTimeout is how long Stop waits for FFmpeg to drain before killing it.
const stopTimeout = 3000 * time.Millisecond

// Process represents a running FFmpeg subprocess.
type Process struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
	Stdin  io.WriteCloser
	Stderr *bytes.Buffer

	done chan struct{}
	err  error
}

// BaseInputArgs returns FFmpeg arguments for mono S16LE input on stdin at the playback rate.
func BaseInputArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.PlaybackSampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}
}

// PlaybackArgs returns the full FFmpeg argument list that renders stdin to
// the given output device. An empty device selects the platform default.
func PlaybackArgs(device string) ([]string, error) {
	var format, fallback string
	switch runtime.GOOS {
	case "linux":
		format, fallback = "alsa", "default"
	case "darwin":
		format, fallback = "audiotoolbox", "0"
	default:
		return nil, ErrNoOutputDevice
	}
	if device == "" {
		device = fallback
	}

	args := []string{"-hide_banner", "-loglevel", "warning", "-nostdin"}
	args = append(args, BaseInputArgs()...)
	return append(args, "-f", format, device), nil
}

// StartProcess launches an FFmpeg subprocess fed through stdin.
func StartProcess(ffmpegPath string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close stdin pipe", "error", closeErr)
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := &Process{
		Cmd:    cmd,
		Cancel: cancel,
		Stdin:  stdinPipe,
		Stderr: &stderr,
		done:   make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// LastError returns the last meaningful stderr line, or the wait error.
func (p *Process) LastError() string {
	if msg := util.ExtractLastError(p.Stderr.String()); msg != "" {
		return msg
	}
	if p.err != nil {
		return p.err.Error()
	}
	return ""
}

// Stop closes stdin so FFmpeg can drain, and kills it after a timeout.
func (p *Process) Stop() error {
	if err := p.Stdin.Close(); err != nil {
		slog.Debug("failed to close ffmpeg stdin", "error", err)
	}
	select {
	case <-p.done:
	case <-time.After(stopTimeout):
		slog.Warn("ffmpeg did not stop in time, forcing kill")
		p.Cancel()
		<-p.done
	}
	p.Cancel()
	return nil
}
