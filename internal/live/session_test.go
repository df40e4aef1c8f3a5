package live

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
)

const setupAck = `{"setupComplete":{}}`

type harness struct {
	session     *Session
	transport   *fakeTransport
	transcriber *fakeTranscriber
	player      *recordingPlayer
	events      *events
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	h := &harness{
		transport:   newFakeTransport(),
		transcriber: &fakeTranscriber{text: "water the wheat tomorrow"},
		player:      &recordingPlayer{},
		events:      &events{},
	}
	s, err := New(Options{
		Config: Config{
			Model:          DefaultModel,
			ReconnectDelay: delay,
		},
		Transport: h.transport,
		Snapshots: &fakeSnapshots{snap: sensors.Snapshot{
			LocationName: "Kolkata",
			SoilMoisture: 42,
		}},
		Transcriber: h.transcriber,
		Player:      h.player,
		Callbacks:   h.events.callbacks(),
	})
	require.NoError(t, err)
	h.session = s
	t.Cleanup(s.Disconnect)
	return h
}

// ready connects and completes the handshake, returning the connection.
func (h *harness) ready(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.session.Connect())
	conn := h.transport.nextConn(t)
	conn.nextWrite(t) // setup
	conn.receive(setupAck)
	require.Eventually(t, func() bool { return h.session.State() == StateReady }, waitTimeout, 5*time.Millisecond)
	return conn
}

func audioFrame(chunks ...string) string {
	parts := ""
	for i, c := range chunks {
		if i > 0 {
			parts += ","
		}
		parts += `{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + c + `"}}`
	}
	return `{"serverContent":{"modelTurn":{"parts":[` + parts + `]}}}`
}

const turnComplete = `{"serverContent":{"turnComplete":true}}`

func TestNewRequiresModel(t *testing.T) {
	s, err := New(Options{
		Transport:   newFakeTransport(),
		Transcriber: &fakeTranscriber{},
		Player:      &recordingPlayer{},
	})
	assert.Nil(t, s)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "model", cerr.Field)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Config: Config{Model: DefaultModel}})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "transport", cerr.Field)
}

func TestSetupHandshake(t *testing.T) {
	h := newHarness(t, time.Second)
	assert.Equal(t, StateDisconnected, h.session.State())

	require.NoError(t, h.session.Connect())
	conn := h.transport.nextConn(t)

	setup := conn.nextWrite(t)["setup"].(map[string]any)
	assert.Equal(t, "models/gemini-2.0-flash-exp", setup["model"])
	genCfg := setup["generation_config"].(map[string]any)
	assert.Equal(t, []any{"AUDIO"}, genCfg["response_modalities"])
	assert.NotContains(t, genCfg, "speech_config")

	parts := setup["system_instruction"].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].(map[string]any)["text"], "Kolkata")
	assert.Contains(t, parts[1].(map[string]any)["text"], `SENSOR_CONTEXT_JSON: {"locationName":"Kolkata"`)

	assert.Equal(t, StateAwaitingSetup, h.session.State())
	assert.Zero(t, h.events.setupCount())

	conn.receive(setupAck)
	require.Eventually(t, func() bool { return h.session.State() == StateReady }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, h.events.setupCount())

	// A repeated acknowledgement does not fire again.
	conn.receive(setupAck)
	conn.receive(`{}`)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.events.setupCount())
	assert.Equal(t, StateReady, h.session.State())
}

func TestConnectWhileConnected(t *testing.T) {
	h := newHarness(t, time.Second)
	h.ready(t)

	assert.ErrorIs(t, h.session.Connect(), ErrAlreadyConnected)
	assert.Equal(t, 1, h.transport.dialCount())
}

func TestMediaBeforeSetupIsDropped(t *testing.T) {
	h := newHarness(t, time.Second)

	h.session.SendMediaChunk("AAAA", "audio/pcm") // disconnected

	require.NoError(t, h.session.Connect())
	conn := h.transport.nextConn(t)
	conn.nextWrite(t)

	h.session.SendMediaChunk("AAAA", "audio/pcm") // awaiting setup
	assert.Equal(t, 1, conn.writeCount(), "only the setup frame was sent")

	conn.receive(setupAck)
	require.Eventually(t, func() bool { return h.session.State() == StateReady }, waitTimeout, 5*time.Millisecond)

	h.session.SendMediaChunk("AQID", "audio/pcm")
	msg := conn.nextWrite(t)
	chunks := msg["realtime_input"].(map[string]any)["media_chunks"].([]any)
	require.Len(t, chunks, 1)
	assert.Equal(t, map[string]any{"mime_type": "audio/pcm", "data": "AQID"}, chunks[0])
}

func TestSendFailureIsContained(t *testing.T) {
	h := newHarness(t, time.Second)
	conn := h.ready(t)

	conn.mu.Lock()
	conn.writeErr = &TransportError{Op: "send", Err: assert.AnError}
	conn.mu.Unlock()

	assert.NotPanics(t, func() { h.session.SendMediaChunk("AAAA", "audio/pcm") })
	assert.Equal(t, StateReady, h.session.State())
}

func TestMalformedFrameKeepsReady(t *testing.T) {
	h := newHarness(t, time.Second)
	conn := h.ready(t)

	conn.receive(`{"serverContent": {`)
	conn.receive(audioFrame("AQACAA=="))

	require.Eventually(t, func() bool { return len(h.player.played()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, StateReady, h.session.State())

	errs := h.events.errors()
	require.Len(t, errs, 1)
	var ferr *MalformedFrameError
	assert.ErrorAs(t, errs[0], &ferr)
}

func TestTurnIsTranscribedOnce(t *testing.T) {
	h := newHarness(t, time.Second)
	conn := h.ready(t)

	conn.receive(audioFrame("AQACAA=="))
	conn.receive(audioFrame("AwAEAA=="))
	conn.receive(turnComplete)

	require.Eventually(t, func() bool { return len(h.events.texts()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"water the wheat tomorrow"}, h.events.texts())

	require.Equal(t, 1, h.transcriber.callCount())
	assert.Equal(t, audio.WrapWAV([]byte{1, 0, 2, 0, 3, 0, 4, 0}, 24000), h.transcriber.call(0))
	assert.Equal(t, []string{"audio/wav"}, h.transcriber.mimes)
	assert.Zero(t, h.session.turn.Len())

	played := h.player.played()
	require.Len(t, played, 2)
	assert.InDelta(t, 1.0/32768, played[0].Samples[0], 1e-9)
	assert.InDelta(t, 3.0/32768, played[1].Samples[0], 1e-9)

	// A second marker without new audio does not transcribe again.
	conn.receive(turnComplete)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.transcriber.callCount())
}

func TestAudioAndTurnCompleteInOneFrame(t *testing.T) {
	h := newHarness(t, time.Second)
	conn := h.ready(t)

	conn.receive(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AQACAA=="}}]},"turnComplete":true}}`)

	require.Eventually(t, func() bool { return h.transcriber.callCount() == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, audio.WrapWAV([]byte{1, 0, 2, 0}, 24000), h.transcriber.call(0))
}

func TestOddFragmentsAreSkipped(t *testing.T) {
	h := newHarness(t, time.Second)
	conn := h.ready(t)

	// Both decode to three bytes.
	conn.receive(audioFrame("AAAB", "AgAD"))
	conn.receive(turnComplete)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.transcriber.callCount(), "nothing accumulated")
	assert.Empty(t, h.player.played())

	conn.receive(audioFrame("AAAB"))
	conn.receive(audioFrame("!!not base64!!"))
	conn.receive(audioFrame("AQACAA=="))
	conn.receive(turnComplete)

	require.Eventually(t, func() bool { return h.transcriber.callCount() == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, audio.WrapWAV([]byte{1, 0, 2, 0}, 24000), h.transcriber.call(0))
	assert.Len(t, h.player.played(), 1)
	assert.Equal(t, StateReady, h.session.State())
}

func TestTranscriptionFailureDoesNotBlockNextTurn(t *testing.T) {
	h := newHarness(t, time.Second)
	conn := h.ready(t)

	h.transcriber.mu.Lock()
	h.transcriber.err = assert.AnError
	h.transcriber.mu.Unlock()

	conn.receive(audioFrame("AQACAA=="))
	conn.receive(turnComplete)
	require.Eventually(t, func() bool { return h.transcriber.callCount() == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Zero(t, h.session.turn.Len())

	h.transcriber.mu.Lock()
	h.transcriber.err = nil
	h.transcriber.mu.Unlock()

	conn.receive(audioFrame("AwAEAA=="))
	conn.receive(turnComplete)
	require.Eventually(t, func() bool { return len(h.events.texts()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, audio.WrapWAV([]byte{3, 0, 4, 0}, 24000), h.transcriber.call(1))
	assert.Equal(t, StateReady, h.session.State())
}

func TestNoTranscriptionAfterDisconnect(t *testing.T) {
	h := newHarness(t, time.Second)
	gate := make(chan struct{})
	h.transcriber.mu.Lock()
	h.transcriber.gate = gate
	h.transcriber.mu.Unlock()
	conn := h.ready(t)

	conn.receive(audioFrame("AQACAA=="))
	conn.receive(turnComplete)
	require.Eventually(t, func() bool { return h.transcriber.callCount() == 1 }, waitTimeout, 5*time.Millisecond)

	h.session.Disconnect()
	close(gate)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.events.texts(), "a turn finished after disconnect is not delivered")
	assert.Empty(t, h.events.errors())
}

func TestUncleanCloseSchedulesOneReconnect(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	conn := h.ready(t)

	conn.drop(websocket.CloseAbnormalClosure)
	require.Eventually(t, func() bool { return h.session.State() == StateReconnecting }, waitTimeout, time.Millisecond)
	assert.Equal(t, 1, h.transport.dialCount(), "retry waits for the delay")

	second := h.transport.nextConn(t)
	second.nextWrite(t)
	assert.Equal(t, 2, h.transport.dialCount())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, h.transport.dialCount(), "exactly one retry per close")
	assert.Equal(t, StateAwaitingSetup, h.session.State())

	second.receive(setupAck)
	require.Eventually(t, func() bool { return h.session.State() == StateReady }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 2, h.events.setupCount())
	assert.Equal(t, 1, h.session.Status().Reconnects)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	conn := h.ready(t)

	conn.drop(websocket.CloseGoingAway)
	require.Eventually(t, func() bool { return h.session.State() == StateReconnecting }, waitTimeout, time.Millisecond)

	h.session.Disconnect()
	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, 1, h.transport.dialCount(), "no reconnect after disconnect")
	assert.Equal(t, StateDisconnected, h.session.State())
}

func TestCloseBeforeSetupIsTerminal(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)

	require.NoError(t, h.session.Connect())
	conn := h.transport.nextConn(t)
	conn.nextWrite(t)
	conn.drop(websocket.CloseAbnormalClosure)

	require.Eventually(t, func() bool { return h.session.State() == StateDisconnected }, waitTimeout, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.transport.dialCount())
	assert.NotEmpty(t, h.session.Status().LastError)
}

func TestCleanCloseIsTerminal(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	conn := h.ready(t)

	conn.drop(websocket.CloseNormalClosure)
	require.Eventually(t, func() bool { return h.session.State() == StateDisconnected }, waitTimeout, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.transport.dialCount())
}

func TestFailedReconnectRetriesAgain(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	conn := h.ready(t)

	h.transport.mu.Lock()
	h.transport.dialErr = errDialRefused
	h.transport.mu.Unlock()

	conn.drop(websocket.CloseAbnormalClosure)
	require.Eventually(t, func() bool { return h.transport.dialCount() >= 3 }, waitTimeout, time.Millisecond)

	h.transport.mu.Lock()
	h.transport.dialErr = nil
	h.transport.mu.Unlock()

	next := h.transport.nextConn(t)
	next.nextWrite(t)
	next.receive(setupAck)
	require.Eventually(t, func() bool { return h.session.State() == StateReady }, waitTimeout, 5*time.Millisecond)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, time.Second)
	conn := h.ready(t)

	conn.receive(audioFrame("AQACAA=="))
	require.Eventually(t, func() bool { return len(h.player.played()) == 1 }, waitTimeout, 5*time.Millisecond)

	h.session.Disconnect()
	h.session.Disconnect()

	closed, code, reason := conn.isClosed()
	assert.True(t, closed)
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, "Intentional disconnect", reason)
	assert.Equal(t, StateDisconnected, h.session.State())
	assert.Zero(t, h.session.turn.Len(), "partial turn dropped")
	assert.Zero(t, h.transcriber.callCount())

	// The session can be reused.
	h.ready(t)
	assert.Equal(t, 2, h.transport.dialCount())
}

func TestSnapshotFallsBackToLastKnown(t *testing.T) {
	transport := newFakeTransport()
	s, err := New(Options{
		Config:    Config{Model: DefaultModel, LanguageCode: "hi-IN"},
		Transport: transport,
		Snapshots: &fakeSnapshots{
			err:  assert.AnError,
			last: sensors.Snapshot{LocationName: "Howrah", Humidity: 71},
		},
		Transcriber: &fakeTranscriber{},
		Player:      &recordingPlayer{},
	})
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)

	require.NoError(t, s.Connect())
	setup := transport.nextConn(t).nextWrite(t)["setup"].(map[string]any)

	parts := setup["system_instruction"].(map[string]any)["parts"].([]any)
	assert.Contains(t, parts[1].(map[string]any)["text"], `"locationName":"Howrah"`)
	assert.Contains(t, parts[0].(map[string]any)["text"], "humidity 71%")

	genCfg := setup["generation_config"].(map[string]any)
	assert.Equal(t, map[string]any{"language_code": "hi-IN"}, genCfg["speech_config"])
}

func TestStatus(t *testing.T) {
	h := newHarness(t, time.Second)
	st := h.session.Status()
	assert.Equal(t, "disconnected", st.State)
	assert.Empty(t, st.SessionID)

	h.ready(t)
	st = h.session.Status()
	assert.Equal(t, "ready", st.State)
	assert.Len(t, st.SessionID, 36)
	assert.False(t, st.ConnectedSince.IsZero())
}
