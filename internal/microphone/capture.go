// Package microphone captures the operator's voice and streams it to the
// live session in fixed-size PCM chunks. The capture process is restarted
// with exponential backoff and given up after repeated rapid failures.
package microphone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// Sentinel errors for capture operations.
var (
	ErrAlreadyRunning = errors.New("capture already running")
)

// CommandBuilder returns the capture command for a device.
type CommandBuilder func(device, ffmpegPath string) (string, []string, error)

// Capture runs the microphone capture process and feeds a Chunker.
type Capture struct {
	config       *config.Config
	ffmpegPath   string
	sink         Sink
	buildCommand CommandBuilder
	onLevels     LevelCallback

	sourceCmd    *exec.Cmd
	sourceCancel context.CancelFunc
	chunker      *Chunker
	state        types.CaptureState
	stopChan     chan struct{}
	mu           sync.RWMutex
	lastError    string
	startTime    time.Time
	retryCount   int
	backoff      *util.Backoff
	levels       audio.InputLevels
	peakHolder   *audio.PeakHolder
	chunks       int64
}

// New creates a capture that streams to sink.
func New(cfg *config.Config, ffmpegPath string, sink Sink) *Capture {
	return &Capture{
		config:       cfg,
		ffmpegPath:   ffmpegPath,
		sink:         sink,
		buildCommand: audio.BuildCaptureCommand,
		state:        types.StateStopped,
		backoff:      util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
		levels:       audio.SilentInput,
		peakHolder:   audio.NewPeakHolder(),
	}
}

// SetCommandBuilder replaces the platform capture command. Must be called before Start.
func (c *Capture) SetCommandBuilder(b CommandBuilder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buildCommand = b
}

// SetLevelCallback registers a function that receives level updates. Must be called before Start.
func (c *Capture) SetLevelCallback(fn LevelCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevels = fn
}

// State returns the current capture state.
func (c *Capture) State() types.CaptureState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Levels returns the current microphone levels.
func (c *Capture) Levels() audio.InputLevels {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != types.StateRunning {
		return audio.SilentInput
	}
	return c.levels
}

// Status returns the current capture status.
func (c *Capture) Status() types.CaptureStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uptime := ""
	if c.state == types.StateRunning {
		uptime = time.Since(c.startTime).Truncate(time.Second).String()
	}

	chunks := c.chunks
	if c.chunker != nil {
		chunks += c.chunker.Chunks()
	}

	return types.CaptureStatus{
		State:      c.state,
		Device:     c.config.AudioInput(),
		Uptime:     uptime,
		LastError:  c.lastError,
		RetryCount: c.retryCount,
		MaxRetries: types.MaxRetries,
		Chunks:     chunks,
	}
}

// Start begins microphone capture.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == types.StateRunning || c.state == types.StateStarting {
		return ErrAlreadyRunning
	}

	c.state = types.StateStarting
	c.stopChan = make(chan struct{})
	c.retryCount = 0
	c.lastError = ""
	c.backoff.Reset()
	c.peakHolder.Reset()

	go c.runSourceLoop(c.stopChan)

	return nil
}

// Stop stops the capture process with graceful shutdown.
func (c *Capture) Stop() error {
	c.mu.Lock()

	if c.state == types.StateStopped || c.state == types.StateStopping {
		c.mu.Unlock()
		return nil
	}

	c.state = types.StateStopping

	if c.stopChan != nil {
		close(c.stopChan)
	}

	sourceProcess := c.sourceCmd
	sourceCancel := c.sourceCancel
	c.mu.Unlock()

	var errs []error

	if sourceProcess != nil && sourceProcess.Process != nil {
		if err := util.GracefulSignal(sourceProcess.Process); err != nil {
			slog.Warn("failed to send signal to capture", "error", err)
			errs = append(errs, fmt.Errorf("signal capture: %w", err))
		}
	}

	stopped := c.pollUntil(func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.sourceCmd == nil
	})

	select {
	case <-stopped:
		slog.Info("microphone capture stopped gracefully")
	case <-time.After(types.ShutdownTimeout):
		slog.Warn("microphone capture did not stop in time, forcing kill")
		if sourceCancel != nil {
			sourceCancel()
		}
		errs = append(errs, fmt.Errorf("capture shutdown timeout"))
	}

	c.mu.Lock()
	c.state = types.StateStopped
	c.sourceCmd = nil
	c.sourceCancel = nil
	c.mu.Unlock()

	return errors.Join(errs...)
}

// Restart stops and starts the capture, picking up a changed input device.
func (c *Capture) Restart() error {
	if err := c.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return c.Start()
}

// runSourceLoop runs the capture process until stopped or exhausted.
func (c *Capture) runSourceLoop(stop <-chan struct{}) {
	for {
		if isClosed(stop) {
			return
		}

		startTime := time.Now()
		stderrOutput, err := c.runSource()
		runDuration := time.Since(startTime)

		c.mu.Lock()
		if isClosed(stop) {
			c.mu.Unlock()
			return
		}

		if err != nil {
			errMsg := err.Error()
			if stderrOutput != "" {
				errMsg = stderrOutput
			}
			c.lastError = errMsg
			slog.Error("microphone capture error", "error", errMsg)

			if runDuration >= types.SuccessThreshold {
				c.retryCount = 0
				c.backoff.Reset()
			} else {
				c.retryCount++
			}

			if c.retryCount >= types.MaxRetries {
				slog.Error("microphone capture failed, giving up", "attempts", types.MaxRetries)
				c.state = types.StateStopped
				c.lastError = fmt.Sprintf("Stopped after %d failed attempts: %s", types.MaxRetries, errMsg)
				c.mu.Unlock()
				return
			}
		} else {
			c.retryCount = 0
			c.backoff.Reset()
		}

		c.state = types.StateStarting
		retryDelay := c.backoff.Next()
		c.mu.Unlock()

		slog.Info("capture stopped, waiting before restart",
			"delay", retryDelay, "attempt", c.retryCount+1, "max_retries", types.MaxRetries)
		select {
		case <-stop:
			return
		case <-time.After(retryDelay):
		}
	}
}

// runSource executes the capture process and copies its output into a
// fresh chunker. It returns the last stderr line and the exit error.
func (c *Capture) runSource() (string, error) {
	snap := c.config.Snapshot()

	c.mu.RLock()
	build := c.buildCommand
	onLevels := c.onLevels
	c.mu.RUnlock()

	cmdName, args, err := build(snap.AudioInput, c.ffmpegPath)
	if err != nil {
		return "", err
	}

	slog.Info("starting microphone capture", "command", cmdName, "input", snap.AudioInput, "chunk_ms", snap.ChunkMs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := exec.CommandContext(ctx, cmdName, args...)

	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	chunker := NewChunker(c.sink, snap.ChunkMs, c.peakHolder, func(levels audio.InputLevels) {
		c.mu.Lock()
		c.levels = levels
		c.mu.Unlock()
		if onLevels != nil {
			onLevels(levels)
		}
	})

	if err := cmd.Start(); err != nil {
		return "", err
	}

	stopping := func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.sourceCmd = cmd
		c.sourceCancel = cancel
		c.chunker = chunker
		if c.state == types.StateStopping || c.state == types.StateStopped {
			return true
		}
		c.state = types.StateRunning
		c.startTime = time.Now()
		c.levels = audio.SilentInput
		return false
	}()
	if stopping {
		cancel()
	}

	if _, err := io.Copy(chunker, stdoutPipe); err != nil {
		slog.Debug("capture stream ended", "error", err)
	}

	err = cmd.Wait()

	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.chunks += chunker.Chunks()
		c.sourceCmd = nil
		c.sourceCancel = nil
		c.chunker = nil
	}()

	return util.ExtractLastError(stderrBuf.String()), err
}

// pollUntil signals when the given condition becomes true.
func (c *Capture) pollUntil(condition func() bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for !condition() {
			time.Sleep(types.PollInterval)
		}
		close(done)
	}()
	return done
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
