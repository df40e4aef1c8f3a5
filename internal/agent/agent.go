// Package agent ties the voice session to its surroundings: microphone
// capture, audio output, field sensors, soil alerts and notifications.
// It is the single object the web interface talks to.
package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/config"
	"github.com/oszuidwest/zwfm-voiceagent/internal/live"
	"github.com/oszuidwest/zwfm-voiceagent/internal/metrics"
	"github.com/oszuidwest/zwfm-voiceagent/internal/microphone"
	"github.com/oszuidwest/zwfm-voiceagent/internal/notify"
	"github.com/oszuidwest/zwfm-voiceagent/internal/playback"
	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
	"github.com/oszuidwest/zwfm-voiceagent/internal/transcribe"
	"github.com/oszuidwest/zwfm-voiceagent/internal/turn"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
)

// MaxTranscripts is the number of transcripts kept for display.
const MaxTranscripts = 50

// Sentinel errors for agent operations.
var (
	ErrNoAPIKey = errors.New("gemini api key not configured")
)

// Deps overrides the collaborators the agent would otherwise build from
// the configuration. Zero fields use the production implementation.
type Deps struct {
	Transport      live.Transport
	Transcriber    turn.Transcriber
	Player         playback.Player
	CaptureCommand microphone.CommandBuilder
	Metrics        *metrics.Metrics
}

// Update is pushed to subscribers. A nil Transcript means the status changed.
type Update struct {
	Transcript *types.TranscriptEntry
}

// Agent owns the live session and everything feeding or observing it.
type Agent struct {
	config     *config.Config
	ffmpegPath string
	deps       Deps
	metrics    *metrics.Metrics

	capture  *microphone.Capture
	notifier *notify.Notifier
	expiry   *notify.SecretExpiryChecker

	mu            sync.RWMutex
	session       *live.Session
	player        playback.Player
	provider      *sensors.Provider
	monitor       *sensors.AlertMonitor
	sensorsCancel context.CancelFunc
	runCtx        context.Context
	transcripts   []types.TranscriptEntry
	outputLevel   float64
	speaking      bool
	subscribers   map[chan Update]struct{}
}

// New returns an agent for cfg. Nothing runs until Start.
func New(cfg *config.Config, ffmpegPath string, deps Deps) *Agent {
	snap := cfg.Snapshot()
	graphCfg := notify.BuildGraphConfig(&snap)

	a := &Agent{
		config:      cfg,
		ffmpegPath:  ffmpegPath,
		deps:        deps,
		metrics:     deps.Metrics,
		notifier:    notify.NewNotifier(cfg),
		expiry:      notify.NewSecretExpiryChecker(graphCfg),
		monitor:     sensors.NewAlertMonitor(snap.SoilMoistureHigh, snap.SoilMoistureLow),
		subscribers: make(map[chan Update]struct{}),
	}
	a.provider = a.newProvider(&snap)

	a.capture = microphone.New(cfg, ffmpegPath, a)
	if deps.CaptureCommand != nil {
		a.capture.SetCommandBuilder(deps.CaptureCommand)
	}
	return a
}

// Start begins microphone capture and the sensor refresh loop, and
// connects the session when auto-connect is enabled. ctx bounds the
// background work.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	a.startSensors()

	if err := a.capture.Start(); err != nil {
		slog.Error("failed to start microphone capture", "error", err)
	}

	if a.config.Snapshot().AutoConnect {
		if err := a.Connect(); err != nil {
			slog.Error("auto-connect failed", "error", err)
		}
	}
}

// Stop disconnects the session, stops capture and sensors, releases the
// output device and waits for notifications in flight.
func (a *Agent) Stop() error {
	a.mu.Lock()
	session := a.session
	player := a.player
	cancel := a.sensorsCancel
	a.sensorsCancel = nil
	a.mu.Unlock()

	if session != nil {
		session.Disconnect()
	}
	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := a.capture.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := closePlayer(player); err != nil {
		errs = append(errs, err)
	}
	a.notifier.Wait()
	return errors.Join(errs...)
}

// Connect opens the live session, building it on first use.
func (a *Agent) Connect() error {
	session, err := a.ensureSession()
	if err != nil {
		return err
	}
	return session.Connect()
}

// Disconnect closes the live session. It is a no-op without a session.
func (a *Agent) Disconnect() {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()

	if session != nil {
		session.Disconnect()
	}
}

// ReloadSession drops the session so the next Connect picks up changed
// model, language, key or output settings. An active session reconnects.
func (a *Agent) ReloadSession() error {
	a.mu.Lock()
	session := a.session
	player := a.player
	a.session = nil
	a.player = nil
	a.mu.Unlock()

	if session == nil {
		return nil
	}

	wasActive := session.State() != live.StateDisconnected
	session.Disconnect()
	if err := closePlayer(player); err != nil {
		slog.Warn("failed to close audio output", "error", err)
	}

	if wasActive {
		return a.Connect()
	}
	return nil
}

// RestartCapture restarts the microphone to pick up a changed input device.
func (a *Agent) RestartCapture() error {
	if a.capture.State() == types.StateStopped {
		return a.capture.Start()
	}
	return a.capture.Restart()
}

// ReloadSensors rebuilds the sensor provider and alert thresholds after a
// location or threshold change.
func (a *Agent) ReloadSensors() {
	snap := a.config.Snapshot()

	a.mu.Lock()
	last := a.provider.Last()
	a.provider = a.newProvider(&snap)
	a.monitor = sensors.NewAlertMonitor(snap.SoilMoistureHigh, snap.SoilMoistureLow)
	cancel := a.sensorsCancel
	a.sensorsCancel = nil
	running := a.runCtx != nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if running {
		a.startSensors()
	}
	slog.Info("sensor settings reloaded", "previous_location", last.LocationName, "location", snap.LocationName)
}

// UpdateGraphConfig applies changed email settings.
func (a *Agent) UpdateGraphConfig() {
	snap := a.config.Snapshot()
	a.notifier.InvalidateGraphClient()
	a.expiry.UpdateConfig(notify.BuildGraphConfig(&snap))
}

// Notifier returns the notification dispatcher.
func (a *Agent) Notifier() *notify.Notifier {
	return a.notifier
}

// GraphSecretExpiry returns the client secret expiry information.
func (a *Agent) GraphSecretExpiry() types.SecretExpiryInfo {
	return a.expiry.GetInfo()
}

// SendMediaChunk forwards a microphone chunk to a ready session. Chunks
// captured while no session is ready are discarded here.
func (a *Agent) SendMediaChunk(data, mimeType string) {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()

	if session == nil || session.State() != live.StateReady {
		return
	}
	session.SendMediaChunk(data, mimeType)
}

// Refresh fetches a new sensor snapshot.
func (a *Agent) Refresh(ctx context.Context) (sensors.Snapshot, error) {
	return a.currentProvider().Refresh(ctx)
}

// Last returns the latest sensor snapshot without fetching.
func (a *Agent) Last() sensors.Snapshot {
	return a.currentProvider().Last()
}

// ActiveAlert returns the soil alert in effect, if any.
func (a *Agent) ActiveAlert() *sensors.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if alert, ok := a.monitor.Current(); ok {
		return &alert
	}
	return nil
}

// SessionStatus returns the session status for display.
func (a *Agent) SessionStatus() types.SessionStatus {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()

	if session == nil {
		return types.SessionStatus{State: live.StateDisconnected.String()}
	}
	return session.Status()
}

// CaptureStatus returns the microphone capture status.
func (a *Agent) CaptureStatus() types.CaptureStatus {
	return a.capture.Status()
}

// Levels returns the current microphone and playback levels.
func (a *Agent) Levels() types.WSLevelsResponse {
	mic := a.capture.Levels()

	a.mu.RLock()
	defer a.mu.RUnlock()
	return types.WSLevelsResponse{
		Type:     "levels",
		Input:    mic,
		Output:   a.outputLevel,
		Speaking: a.speaking,
	}
}

// Transcripts returns the kept transcripts, oldest first.
func (a *Agent) Transcripts() []types.TranscriptEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.TranscriptEntry, len(a.transcripts))
	copy(out, a.transcripts)
	return out
}

// Subscribe returns a channel that receives transcripts and status change
// hints, and a function that ends the subscription. Slow subscribers miss
// updates rather than blocking the session.
func (a *Agent) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subscribers, ch)
			a.mu.Unlock()
		})
	}
}

// ensureSession returns the current session, building it when needed.
func (a *Agent) ensureSession() (*live.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return a.session, nil
	}

	snap := a.config.Snapshot()
	transport := a.deps.Transport
	if transport == nil {
		if snap.GeminiAPIKey == "" {
			return nil, ErrNoAPIKey
		}
		t, err := live.NewWebSocketTransport(snap.LiveEndpoint, snap.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	transcriber := a.deps.Transcriber
	if transcriber == nil {
		ctx := a.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		g, err := transcribe.New(ctx, transcribe.Config{
			APIKey:  snap.GeminiAPIKey,
			Model:   snap.TranscriptionModel,
			BaseURL: snap.TranscriptionURL,
		})
		if err != nil {
			return nil, err
		}
		transcriber = g
	}

	player := a.deps.Player
	if player == nil {
		player = a.newPlayer(&snap)
	}

	var session *live.Session
	session, err := live.New(live.Options{
		Config: live.Config{
			Model:           snap.LiveModel,
			LanguageCode:    snap.VoiceLanguage,
			ReconnectDelay:  snap.ReconnectDelay,
			SnapshotTimeout: snap.SnapshotTimeout,
		},
		Transport:   transport,
		Snapshots:   a,
		Transcriber: transcriber,
		Player:      player,
		Metrics:     a.metrics,
		Callbacks: live.Callbacks{
			OnTranscription:      func(text string) { a.addTranscript(session.Status().SessionID, text) },
			OnSetupComplete:      func() { slog.Info("voice session ready") },
			OnPlayingStateChange: a.onPlaying,
			OnAudioLevelChange:   a.onOutputLevel,
			OnStateChange:        func(st live.State) { a.onStateChange(session, st) },
			OnError:              func(err error) { slog.Warn("voice session error", "error", err) },
		},
	})
	if err != nil {
		_ = closePlayer(player)
		return nil, err
	}

	a.session = session
	a.player = player
	return session, nil
}

// newPlayer returns the device player, or a clock player without FFmpeg.
func (a *Agent) newPlayer(snap *config.Snapshot) playback.Player {
	if a.ffmpegPath == "" {
		slog.Warn("FFmpeg not available, synthesized audio will not be audible")
		return playback.ClockPlayer{}
	}
	return playback.NewProcessPlayer(a.ffmpegPath, snap.AudioOutput)
}

// newProvider builds a sensor provider that feeds the alert monitor.
func (a *Agent) newProvider(snap *config.Snapshot) *sensors.Provider {
	p := sensors.NewProvider(snap.SensorsConfig(), a.metrics)
	p.SetOnUpdate(a.observe)
	return p
}

func (a *Agent) currentProvider() *sensors.Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.provider
}

// startSensors runs the refresh loop of the current provider.
func (a *Agent) startSensors() {
	interval := a.config.Snapshot().RefreshInterval

	a.mu.Lock()
	if a.runCtx == nil || interval <= 0 {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(a.runCtx)
	a.sensorsCancel = cancel
	provider := a.provider
	a.mu.Unlock()

	go provider.Run(ctx, interval)
}

// observe checks every new snapshot against the soil thresholds.
func (a *Agent) observe(s sensors.Snapshot) {
	a.mu.RLock()
	monitor := a.monitor
	a.mu.RUnlock()

	if alert, ok := monitor.Observe(s); ok {
		slog.Info("soil moisture alert", "kind", alert.Kind, "soil_moisture", alert.SoilMoisture)
		a.notifier.SoilAlert(alert)
	}
	a.publish(Update{})
}

// addTranscript keeps a transcript for display and publishes it.
func (a *Agent) addTranscript(sessionID, text string) {
	entry := types.TranscriptEntry{
		At:        time.Now(),
		SessionID: sessionID,
		Text:      text,
	}

	a.mu.Lock()
	a.transcripts = append(a.transcripts, entry)
	if n := len(a.transcripts) - MaxTranscripts; n > 0 {
		a.transcripts = append(a.transcripts[:0:0], a.transcripts[n:]...)
	}
	a.mu.Unlock()

	a.publish(Update{Transcript: &entry})
}

func (a *Agent) onPlaying(playing bool) {
	a.mu.Lock()
	a.speaking = playing
	if !playing {
		a.outputLevel = 0
	}
	a.mu.Unlock()
	a.publish(Update{})
}

func (a *Agent) onOutputLevel(level float64) {
	a.mu.Lock()
	a.outputLevel = level
	a.mu.Unlock()
}

func (a *Agent) onStateChange(session *live.Session, st live.State) {
	a.notifier.SessionStateChanged(st.String(), session.Status())
	a.publish(Update{})
}

// publish delivers u to every subscriber without blocking.
func (a *Agent) publish(u Update) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for ch := range a.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

// closePlayer releases players that hold an output device.
func closePlayer(p playback.Player) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
