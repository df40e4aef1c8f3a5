package live

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voiceagent/internal/playback"
	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
)

const waitTimeout = 2 * time.Second

type readResult struct {
	data []byte
	err  error
}

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	inbound chan readResult
	sent    chan []byte

	mu          sync.Mutex
	writes      [][]byte
	closed      bool
	closeCode   int
	closeReason string
	done        chan struct{}
	writeErr    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan readResult, 16),
		sent:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.writes = append(c.writes, data)
	c.mu.Unlock()
	c.sent <- data
	return nil
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case r := <-c.inbound:
		return r.data, r.err
	case <-c.done:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) isClosed() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// receive delivers a server frame.
func (c *fakeConn) receive(frame string) {
	c.inbound <- readResult{data: []byte(frame)}
}

// drop ends the connection from the server side with code.
func (c *fakeConn) drop(code int) {
	c.inbound <- readResult{err: &websocket.CloseError{Code: code}}
}

// nextWrite waits for the next outbound frame.
func (c *fakeConn) nextWrite(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-c.sent:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for outbound frame")
		return nil
	}
}

// fakeTransport hands out a new fakeConn per dial.
type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	conns   []*fakeConn
	dialErr error
	dialed  chan *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	t.dials++
	err := t.dialErr
	t.mu.Unlock()
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c := newFakeConn()
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	t.dialed <- c
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) nextConn(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case c := <-t.dialed:
		return c
	case <-time.After(waitTimeout):
		tb.Fatal("timed out waiting for dial")
		return nil
	}
}

// fakeTranscriber records every container it receives.
type fakeTranscriber struct {
	mu    sync.Mutex
	calls [][]byte
	mimes []string
	text  string
	err   error
	gate  chan struct{} // when set, Transcribe returns only after it is closed
}

func (f *fakeTranscriber) Transcribe(_ context.Context, data []byte, mimeType string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, data)
	f.mimes = append(f.mimes, mimeType)
	text, err, gate := f.text, f.err, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return text, err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTranscriber) call(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// recordingPlayer completes every fragment immediately.
type recordingPlayer struct {
	mu        sync.Mutex
	fragments []playback.Fragment
}

func (p *recordingPlayer) Play(_ context.Context, f playback.Fragment) error {
	p.mu.Lock()
	p.fragments = append(p.fragments, f)
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) played() []playback.Fragment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playback.Fragment(nil), p.fragments...)
}

// fakeSnapshots serves a fixed snapshot or fails.
type fakeSnapshots struct {
	snap sensors.Snapshot
	last sensors.Snapshot
	err  error
}

func (f *fakeSnapshots) Refresh(context.Context) (sensors.Snapshot, error) {
	if f.err != nil {
		return sensors.Snapshot{}, f.err
	}
	return f.snap, nil
}

func (f *fakeSnapshots) Last() sensors.Snapshot {
	return f.last
}

// events collects callback invocations.
type events struct {
	mu             sync.Mutex
	setups         int
	transcriptions []string
	states         []State
	errs           []error
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnSetupComplete: func() {
			e.mu.Lock()
			e.setups++
			e.mu.Unlock()
		},
		OnTranscription: func(text string) {
			e.mu.Lock()
			e.transcriptions = append(e.transcriptions, text)
			e.mu.Unlock()
		},
		OnStateChange: func(st State) {
			e.mu.Lock()
			e.states = append(e.states, st)
			e.mu.Unlock()
		},
		OnError: func(err error) {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		},
	}
}

func (e *events) setupCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setups
}

func (e *events) texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.transcriptions...)
}

func (e *events) errors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

var errDialRefused = errors.New("connection refused")
