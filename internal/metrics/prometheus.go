// Package metrics exposes Prometheus collectors for the voice session.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voiceagent"

// Metrics contains all Prometheus collectors of the voice agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Live session
	FramesReceived      *prometheus.CounterVec
	MalformedFrames     prometheus.Counter
	MalformedAudio      prometheus.Counter
	MediaChunksSent     prometheus.Counter
	MediaChunksDropped  prometheus.Counter
	ReconnectsScheduled prometheus.Counter
	SessionState        *prometheus.GaugeVec

	// Transcription
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// Playback
	FragmentsPlayed  prometheus.Counter
	PlaybackFailures prometheus.Counter
	QueueDepth       prometheus.Gauge
	Speaking         prometheus.Gauge

	// Sensors
	SensorFetches *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames from the live service by kind",
		}, []string{"kind"}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be parsed",
		}),
		MalformedAudio: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_audio_fragments_total",
			Help:      "Inbound audio fragments skipped because of bad base64 or odd PCM length",
		}),
		MediaChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_chunks_sent_total",
			Help:      "Microphone chunks sent to the live service",
		}),
		MediaChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_chunks_dropped_total",
			Help:      "Microphone chunks dropped because the session was not ready or the send failed",
		}),
		ReconnectsScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after an unexpected close",
		}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (1 for the active state)",
		}, []string{"state"}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Turn transcriptions by result",
		}, []string{"result"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Time taken to transcribe one turn",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		FragmentsPlayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_fragments_total",
			Help:      "Audio fragments played",
		}),
		PlaybackFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_failures_total",
			Help:      "Audio fragments whose playback failed to start",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Fragments waiting in the playback queue",
		}),
		Speaking: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaking",
			Help:      "1 while synthesized audio is playing",
		}),
		SensorFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_fetches_total",
			Help:      "Context snapshot fetches by source and result",
		}, []string{"source", "result"}),
	}
}

// FrameReceived counts one inbound frame of the given kind.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

// FrameMalformed counts one unparseable inbound frame.
func (m *Metrics) FrameMalformed() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

// AudioMalformed counts one skipped audio fragment.
func (m *Metrics) AudioMalformed() {
	if m == nil {
		return
	}
	m.MalformedAudio.Inc()
}

// MediaChunk counts one outbound microphone chunk.
func (m *Metrics) MediaChunk(sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.MediaChunksSent.Inc()
	} else {
		m.MediaChunksDropped.Inc()
	}
}

// ReconnectScheduled counts one scheduled reconnect.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectsScheduled.Inc()
}

// SetSessionState marks state as the active session state.
func (m *Metrics) SetSessionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// Transcribed records one transcription attempt.
func (m *Metrics) Transcribed(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Transcriptions.WithLabelValues(result).Inc()
	m.TranscriptionDuration.Observe(took.Seconds())
}

// FragmentPlayed records the outcome of one playback.
func (m *Metrics) FragmentPlayed(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PlaybackFailures.Inc()
		return
	}
	m.FragmentsPlayed.Inc()
}

// SetQueueDepth records the number of queued fragments.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetSpeaking records whether audio is playing.
func (m *Metrics) SetSpeaking(speaking bool) {
	if m == nil {
		return
	}
	if speaking {
		m.Speaking.Set(1)
	} else {
		m.Speaking.Set(0)
	}
}

// SensorFetch records one fetch from a context source.
func (m *Metrics) SensorFetch(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SensorFetches.WithLabelValues(source, result).Inc()
}
