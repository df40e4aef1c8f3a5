package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-voiceagent/internal/audio"
	"github.com/oszuidwest/zwfm-voiceagent/internal/metrics"
)

// Callbacks receive playback reports. They are invoked from the queue's
// playback goroutines, one at a time, and OnSpeaking(false) also from the
// caller of Stop. OnSpeaking only fires when the reported value changes.
// No callback starts after Stop returns, so a callback must not call Stop.
type Callbacks struct {
	OnLevel    func(level float64) // 0-100 loudness of the fragment being started
	OnSpeaking func(speaking bool) // playback started or the queue drained
	OnError    func(err error)     // a fragment could not be played
}

// Queue serializes fragments so they never overlap and always play in
// arrival order. It is safe for concurrent use.
type Queue struct {
	player    Player
	callbacks Callbacks
	metrics   *metrics.Metrics

	emitMu sync.Mutex // serializes callbacks and orders them against Stop

	mu       sync.Mutex
	items    []Fragment
	playing  bool
	speaking bool
	reported bool   // last speaking value passed to OnSpeaking
	epoch    uint64 // bumped by Stop; stale playback goroutines compare against it
	cancel   context.CancelFunc
}

// NewQueue returns an empty queue that plays through player.
func NewQueue(player Player, callbacks Callbacks, m *metrics.Metrics) *Queue {
	return &Queue{
		player:    player,
		callbacks: callbacks,
		metrics:   m,
	}
}

// Enqueue appends f to the tail and starts playback if nothing is playing.
func (q *Queue) Enqueue(f Fragment) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.metrics.SetQueueDepth(len(q.items))
	q.mu.Unlock()

	q.playNext()
}

// Len returns the number of fragments waiting to be played.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Speaking reports whether a fragment is playing or queued.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Stop halts the current fragment, clears the queue and reports not speaking.
// A report already in progress finishes before Stop proceeds.
func (q *Queue) Stop() {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	q.epoch++
	q.items = nil
	q.playing = false
	q.speaking = false
	q.reported = false
	cancel := q.cancel
	q.cancel = nil
	q.metrics.SetQueueDepth(0)
	q.metrics.SetSpeaking(false)
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if q.callbacks.OnSpeaking != nil {
		q.callbacks.OnSpeaking(false)
	}
}

// playNext starts the head fragment if the queue is idle.
func (q *Queue) playNext() {
	q.mu.Lock()
	if q.playing || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	f := q.items[0]
	q.items[0] = Fragment{}
	q.items = q.items[1:]
	q.playing = true
	q.speaking = true
	epoch := q.epoch
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.metrics.SetQueueDepth(len(q.items))
	q.metrics.SetSpeaking(true)
	q.mu.Unlock()

	go q.play(ctx, cancel, epoch, f)
}

// play runs one fragment and then advances the queue.
func (q *Queue) play(ctx context.Context, cancel context.CancelFunc, epoch uint64, f Fragment) {
	defer cancel()

	q.report(epoch, audio.Loudness(f.Samples))

	err := q.player.Play(ctx, f)
	if ctx.Err() != nil {
		// Stopped while playing.
		return
	}
	q.metrics.FragmentPlayed(err)
	if err != nil {
		slog.Warn("audio playback failed, skipping fragment", "error", err, "samples", len(f.Samples))
		q.reportError(epoch, err)
	}

	q.mu.Lock()
	if q.epoch != epoch {
		q.mu.Unlock()
		return
	}
	q.playing = false
	q.cancel = nil
	drained := len(q.items) == 0
	if drained {
		q.speaking = false
		q.metrics.SetSpeaking(false)
	}
	q.mu.Unlock()

	if drained {
		q.report(epoch, 0)
		return
	}
	q.playNext()
}

// current reports whether epoch still belongs to the active run.
func (q *Queue) current(epoch uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch == epoch
}

// report delivers the current speaking state, if it changed, and a level.
// Reports from a stopped run are dropped.
func (q *Queue) report(epoch uint64, level float64) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	if q.epoch != epoch {
		q.mu.Unlock()
		return
	}
	speaking := q.speaking
	changed := speaking != q.reported
	q.reported = speaking
	q.mu.Unlock()

	if changed && q.callbacks.OnSpeaking != nil {
		q.callbacks.OnSpeaking(speaking)
	}
	if q.callbacks.OnLevel != nil && q.current(epoch) {
		q.callbacks.OnLevel(level)
	}
}

func (q *Queue) reportError(epoch uint64, err error) {
	if q.callbacks.OnError == nil {
		return
	}
	q.emitMu.Lock()
	defer q.emitMu.Unlock()
	if q.current(epoch) {
		q.callbacks.OnError(err)
	}
}
