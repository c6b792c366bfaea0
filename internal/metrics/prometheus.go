package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the console server
type Metrics struct {
	// Live session metrics
	ActiveSessions *prometheus.GaugeVec
	SessionsOpened *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec

	// Playback metrics
	ChunksScheduled   prometheus.Counter
	ScheduledDuration prometheus.Histogram
	Interruptions     prometheus.Counter
	VoicesStopped     prometheus.Counter

	// Encounter metrics
	TurnsCommitted prometheus.Counter

	// Synthesis metrics
	SynthesisRequests  prometheus.Counter
	SynthesisFailures  *prometheus.CounterVec
	SynthesisDuration  prometheus.Histogram
	NearbyCareFailures prometheus.Counter
}

// New creates and registers all metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clara_live_sessions_active",
			Help: "Current number of open live sessions",
		}, []string{"role"}),
		SessionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clara_live_sessions_opened_total",
			Help: "Total number of live sessions opened",
		}, []string{"role"}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clara_live_frames_sent_total",
			Help: "Total number of capture frames sent to the model",
		}, []string{"role"}),

		ChunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "clara_playback_chunks_scheduled_total",
			Help: "Total number of audio chunks scheduled for playback",
		}),
		ScheduledDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "clara_playback_chunk_duration_seconds",
			Help:    "Duration of scheduled playback chunks",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "clara_playback_interruptions_total",
			Help: "Total number of playback interruptions",
		}),
		VoicesStopped: f.NewCounter(prometheus.CounterOpts{
			Name: "clara_playback_voices_stopped_total",
			Help: "Total number of playing or pending chunks stopped by interruptions",
		}),

		TurnsCommitted: f.NewCounter(prometheus.CounterOpts{
			Name: "clara_encounter_turns_committed_total",
			Help: "Total number of transcript turns committed",
		}),

		SynthesisRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "clara_synthesis_requests_total",
			Help: "Total number of clinical synthesis requests",
		}),
		SynthesisFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clara_synthesis_failures_total",
			Help: "Total number of failed clinical synthesis requests",
		}, []string{"reason"}),
		SynthesisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "clara_synthesis_duration_seconds",
			Help:    "Time spent waiting for clinical synthesis",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~1 minute
		}),
		NearbyCareFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "clara_nearby_care_failures_total",
			Help: "Total number of failed nearby-care searches",
		}),
	}
}

// SessionOpened implements live.Observer
func (m *Metrics) SessionOpened(role string) {
	m.ActiveSessions.WithLabelValues(role).Inc()
	m.SessionsOpened.WithLabelValues(role).Inc()
}

// SessionClosed implements live.Observer
func (m *Metrics) SessionClosed(role string) {
	m.ActiveSessions.WithLabelValues(role).Dec()
}

// FrameSent implements live.Observer
func (m *Metrics) FrameSent(role string) {
	m.FramesSent.WithLabelValues(role).Inc()
}

// ChunkScheduled implements playback.Observer
func (m *Metrics) ChunkScheduled(d time.Duration) {
	m.ChunksScheduled.Inc()
	m.ScheduledDuration.Observe(d.Seconds())
}

// Interrupted implements playback.Observer
func (m *Metrics) Interrupted(stopped int) {
	m.Interruptions.Inc()
	m.VoicesStopped.Add(float64(stopped))
}

// TurnCommitted records a committed encounter turn
func (m *Metrics) TurnCommitted() {
	m.TurnsCommitted.Inc()
}

// SynthesisStarted records a synthesis request
func (m *Metrics) SynthesisStarted() {
	m.SynthesisRequests.Inc()
}

// SynthesisFinished records the outcome of a synthesis request. reason is
// empty on success.
func (m *Metrics) SynthesisFinished(elapsed time.Duration, reason string) {
	m.SynthesisDuration.Observe(elapsed.Seconds())
	if reason != "" {
		m.SynthesisFailures.WithLabelValues(reason).Inc()
	}
}

// NearbyCareFailed records a failed facility search
func (m *Metrics) NearbyCareFailed() {
	m.NearbyCareFailures.Inc()
}
