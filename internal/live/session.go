// Package live implements the realtime voice session with the Gemini
// BidiGenerateContent service: setup handshake, microphone streaming,
// ordered playback of synthesized audio, turn transcription and automatic
// reconnection after unexpected disconnects.
package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/metrics"
	"github.com/oszuidwest/zwfm-voiceagent/internal/playback"
	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
	"github.com/oszuidwest/zwfm-voiceagent/internal/turn"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// Session timing defaults.
const (
	DefaultReconnectDelay  = time.Second
	DefaultSnapshotTimeout = 3 * time.Second
)

// Callbacks receive session events. They are never invoked with internal
// locks held, so a callback may call any Session method, including
// Disconnect. OnSetupComplete, OnStateChange and OnError run on the
// connection goroutine, OnTranscription on a transcription goroutine and
// the playback callbacks on playback goroutines.
//
// Every callback checks that its connection is still current right before
// it is invoked, so events of a disconnected connection are dropped. A
// callback that passed that check while Disconnect ran may still complete.
// Playback callbacks must not call Disconnect: Disconnect waits for a
// playback report in progress, and no playback callback starts after it
// returns.
type Callbacks struct {
	OnTranscription      func(text string)
	OnSetupComplete      func()
	OnPlayingStateChange func(playing bool)
	OnAudioLevelChange   func(level float64) // 0-100
	OnStateChange        func(state State)
	OnError              func(err error)
}

// SnapshotSource supplies the field context embedded at setup.
type SnapshotSource interface {
	Refresh(ctx context.Context) (sensors.Snapshot, error)
	Last() sensors.Snapshot
}

// Config holds the session parameters sent to the service.
type Config struct {
	Model           string
	LanguageCode    string        // Optional speech language, e.g. "hi-IN"
	ReconnectDelay  time.Duration // Delay before the single retry after an unexpected close
	SnapshotTimeout time.Duration // Upper bound for the snapshot refresh before setup
}

// Options are the collaborators of a Session.
type Options struct {
	Config      Config
	Transport   Transport
	Snapshots   SnapshotSource // Optional; an empty snapshot is used without it
	Transcriber turn.Transcriber
	Player      playback.Player
	Callbacks   Callbacks
	Metrics     *metrics.Metrics
}

// Session owns one connection to the live service at a time.
// All methods are safe for concurrent use.
type Session struct {
	cfg       Config
	transport Transport
	snapshots SnapshotSource
	callbacks Callbacks
	metrics   *metrics.Metrics

	queue *playback.Queue
	turn  *turn.Accumulator

	mu             sync.Mutex
	state          State
	gen            uint64 // bumped per connection attempt and by Disconnect
	conn           Conn
	established    bool // setup completed since the last Connect
	timer          *time.Timer
	runCtx         context.Context
	cancel         context.CancelFunc
	transcribing   chan struct{} // closed when the latest transcription finished
	id             string
	connectedSince time.Time
	reconnects     int
	lastErr        string
}

// New returns a disconnected Session. It fails with a *ConfigurationError
// when a required parameter or collaborator is missing.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	switch {
	case cfg.Model == "":
		return nil, &ConfigurationError{Field: "model", Reason: "is required"}
	case opts.Transport == nil:
		return nil, &ConfigurationError{Field: "transport", Reason: "is required"}
	case opts.Transcriber == nil:
		return nil, &ConfigurationError{Field: "transcriber", Reason: "is required"}
	case opts.Player == nil:
		return nil, &ConfigurationError{Field: "player", Reason: "is required"}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = DefaultSnapshotTimeout
	}

	s := &Session{
		cfg:       cfg,
		transport: opts.Transport,
		snapshots: opts.Snapshots,
		callbacks: opts.Callbacks,
		metrics:   opts.Metrics,
		turn:      turn.New(opts.Transcriber, audio.PlaybackSampleRate),
	}
	s.queue = playback.NewQueue(opts.Player, playback.Callbacks{
		OnLevel:    opts.Callbacks.OnAudioLevelChange,
		OnSpeaking: opts.Callbacks.OnPlayingStateChange,
		OnError:    opts.Callbacks.OnError,
	}, opts.Metrics)
	s.metrics.SetSessionState(StateDisconnected.String(), stateNames)
	return s, nil
}

// Connect opens a connection. It returns ErrAlreadyConnected when a
// connection is open or opening. A pending reconnect is replaced by an
// immediate attempt.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.stopTimerLocked()
	if s.state == StateDisconnected {
		s.id = uuid.NewString()
		s.reconnects = 0
		s.lastErr = ""
	}
	ctx, gen := s.startLocked()
	id := s.id
	s.mu.Unlock()

	slog.Info("connecting live session", "session_id", id, "model", s.cfg.Model)
	s.notifyState(gen, StateConnecting)
	go s.run(ctx, gen)
	return nil
}

// Disconnect closes the connection with a normal closure, cancels a pending
// reconnect, stops playback and drops the current turn. It is idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.stopTimerLocked()
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.runCtx, s.cancel = nil, nil
	s.transcribing = nil
	s.established = false
	changed := s.setStateLocked(StateDisconnected)
	s.turn.Reset()
	id := s.id
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.closeConn(conn)
	}
	s.queue.Stop()

	if changed {
		slog.Info("live session disconnected", "session_id", id)
		s.notifyState(gen, StateDisconnected)
	}
}

// SendMediaChunk streams one base64 chunk to the service. It is a silent
// no-op unless the session is Ready; send failures are logged, not returned.
func (s *Session) SendMediaChunk(data, mimeType string) {
	s.mu.Lock()
	conn := s.conn
	ready := s.state == StateReady && conn != nil
	s.mu.Unlock()

	if !ready {
		s.metrics.MediaChunk(false)
		return
	}
	if err := conn.WriteJSON(newMediaMessage(data, mimeType)); err != nil {
		s.metrics.MediaChunk(false)
		slog.Warn("failed to send media chunk", "error", err)
		return
	}
	s.metrics.MediaChunk(true)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session for display.
func (s *Session) Status() types.SessionStatus {
	s.mu.Lock()
	st := types.SessionStatus{
		State:      s.state.String(),
		SessionID:  s.id,
		Reconnects: s.reconnects,
		LastError:  s.lastErr,
	}
	if s.state == StateReady {
		st.ConnectedSince = s.connectedSince
	}
	s.mu.Unlock()

	st.Speaking = s.queue.Speaking()
	st.QueueDepth = s.queue.Len()
	return st
}

// startLocked moves to Connecting under a new generation. The caller
// starts run with the returned values after releasing the lock.
func (s *Session) startLocked() (context.Context, uint64) {
	if s.runCtx == nil {
		s.runCtx, s.cancel = context.WithCancel(context.Background())
	}
	s.gen++
	s.setStateLocked(StateConnecting)
	return s.runCtx, s.gen
}

// run owns one connection: dial, setup, then serial frame handling until
// the connection ends.
func (s *Session) run(ctx context.Context, gen uint64) {
	conn, err := s.transport.Dial(ctx)
	if err != nil {
		s.closed(gen, nil, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.closeConn(conn)
		return
	}
	s.conn = conn
	s.setStateLocked(StateAwaitingSetup)
	s.mu.Unlock()
	s.notifyState(gen, StateAwaitingSetup)

	if err := s.sendSetup(ctx, conn); err != nil {
		s.closed(gen, conn, err)
		return
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.closed(gen, conn, err)
			return
		}
		if !s.current(gen) {
			return
		}
		s.handleFrame(ctx, gen, data)
	}
}

// sendSetup refreshes the context snapshot and sends the setup frame.
func (s *Session) sendSetup(ctx context.Context, conn Conn) error {
	snap := s.snapshot(ctx)
	contextPart, err := ContextPart(snap)
	if err != nil {
		return util.WrapError("encode context snapshot", err)
	}

	msg := newSetupMessage(s.cfg.Model, s.cfg.LanguageCode, Persona(snap), contextPart)
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	slog.Info("sent session setup", "model", s.cfg.Model, "location", snap.LocationName)
	return nil
}

// snapshot refreshes the context within the snapshot timeout and falls
// back to the last known values on failure.
func (s *Session) snapshot(ctx context.Context) sensors.Snapshot {
	if s.snapshots == nil {
		return sensors.Snapshot{}
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	defer cancel()

	snap, err := s.snapshots.Refresh(ctx)
	if err != nil {
		slog.Warn("context refresh failed, using last known values", "error", err)
		return s.snapshots.Last()
	}
	return snap
}

// closed handles the end of connection gen. An unexpected close after the
// session was established schedules exactly one reconnect; anything else
// is terminal.
func (s *Session) closed(gen uint64, conn Conn, cause error) {
	clean := IsCleanClose(cause)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.turn.Reset()
	retry := !clean && s.established
	if !clean {
		s.lastErr = cause.Error()
	}
	next := StateDisconnected
	if retry {
		next = StateReconnecting
		s.reconnects++
		s.timer = time.AfterFunc(s.cfg.ReconnectDelay, func() { s.reconnect(gen) })
		s.metrics.ReconnectScheduled()
	} else {
		s.established = false
	}
	s.setStateLocked(next)
	id := s.id
	s.mu.Unlock()

	if conn != nil {
		s.closeConn(conn)
	}

	if clean {
		slog.Info("live session closed by server", "session_id", id)
	} else {
		slog.Warn("live connection lost", "session_id", id, "error", cause, "reconnect", retry)
		var terr *TransportError
		if !errors.As(cause, &terr) {
			cause = &TransportError{Op: "read", Err: cause}
		}
		s.emitError(gen, cause)
	}
	s.notifyState(gen, next)
}

// reconnect runs the scheduled retry for the connection that ended as gen.
func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx, next := s.startLocked()
	attempt := s.reconnects
	s.mu.Unlock()

	slog.Info("reconnecting live session", "attempt", attempt)
	s.notifyState(next, StateConnecting)
	go s.run(ctx, next)
}

// handleFrame processes one inbound frame of connection gen.
func (s *Session) handleFrame(ctx context.Context, gen uint64, data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		s.metrics.FrameMalformed()
		slog.Warn("dropping malformed frame", "error", err)
		s.emitError(gen, err)
		return
	}
	s.metrics.FrameReceived(f.Kind.String())

	if f.Kind == FrameSetupAck {
		s.setupComplete(gen)
		return
	}
	if f.Kind == FrameUnrecognized {
		return
	}
	if st := s.State(); st != StateReady {
		slog.Debug("ignoring frame before setup", "kind", f.Kind, "state", st)
		return
	}

	for _, chunk := range f.Audio {
		s.handleAudio(gen, chunk)
	}
	if f.TurnComplete {
		s.completeTurn(ctx, gen)
	}
}

func (s *Session) setupComplete(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateAwaitingSetup {
		s.mu.Unlock()
		slog.Debug("ignoring repeated setup acknowledgement")
		return
	}
	restored := s.established
	s.established = true
	s.connectedSince = time.Now()
	s.setStateLocked(StateReady)
	id := s.id
	s.mu.Unlock()

	slog.Info("live session ready", "session_id", id, "restored", restored)
	s.notifyState(gen, StateReady)
	if s.callbacks.OnSetupComplete != nil && s.current(gen) {
		s.callbacks.OnSetupComplete()
	}
}

// handleAudio decodes one fragment, then appends it to the turn and
// enqueues it for playback. Undecodable fragments are skipped for both.
func (s *Session) handleAudio(gen uint64, chunk string) {
	samples, err := audio.DecodeChunk(chunk)
	if err != nil {
		s.metrics.AudioMalformed()
		slog.Warn("skipping audio fragment", "error", err, "size", len(chunk))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.turn.Append(chunk)
	s.queue.Enqueue(playback.NewFragment(samples))
}

// completeTurn flushes the turn synchronously and transcribes it in the
// background. Transcriptions are delivered in turn order.
func (s *Session) completeTurn(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	container, ok := s.turn.Flush()
	if !ok {
		s.mu.Unlock()
		return
	}
	prev := s.transcribing
	done := make(chan struct{})
	s.transcribing = done
	s.mu.Unlock()

	go s.transcribe(ctx, gen, container, prev, done)
}

func (s *Session) transcribe(ctx context.Context, gen uint64, container []byte, prev, done chan struct{}) {
	defer close(done)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	start := time.Now()
	text, err := s.turn.Transcribe(ctx, container)
	s.metrics.Transcribed(err, time.Since(start))
	if ctx.Err() != nil {
		// Disconnected meanwhile.
		return
	}
	if err != nil {
		slog.Error("transcription failed", "error", err)
		s.emitError(gen, err)
		return
	}

	slog.Info("turn transcribed", "chars", len(text), "took", time.Since(start))
	if s.callbacks.OnTranscription != nil && s.current(gen) {
		s.callbacks.OnTranscription(text)
	}
}

// setStateLocked records st and reports whether it changed.
func (s *Session) setStateLocked(st State) bool {
	if s.state == st {
		return false
	}
	s.state = st
	s.metrics.SetSessionState(st.String(), stateNames)
	return true
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// current reports whether gen is still the active generation.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) notifyState(gen uint64, st State) {
	if s.callbacks.OnStateChange != nil && s.current(gen) {
		s.callbacks.OnStateChange(st)
	}
}

func (s *Session) emitError(gen uint64, err error) {
	if s.callbacks.OnError != nil && s.current(gen) {
		s.callbacks.OnError(err)
	}
}

func (s *Session) closeConn(conn Conn) {
	if err := conn.Close(websocket.CloseNormalClosure, CloseReasonIntentional); err != nil {
		slog.Debug("error closing live connection", "error", err)
	}
}
