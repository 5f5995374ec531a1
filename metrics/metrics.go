// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voiceagent"

// Drop reasons for rejected turns.
const (
	DropInFlight  = "in_flight"
	DropDuplicate = "duplicate"
	DropNoWorker  = "no_worker"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	TurnsSubmitted prometheus.Counter
	TurnsDropped   *prometheus.CounterVec
	TurnsFailed    prometheus.Counter
	TurnDuration   prometheus.Histogram

	WorkersAbandoned prometheus.Counter

	SkillHits      *prometheus.CounterVec
	LLMGenerations *prometheus.CounterVec

	TTSChunks   prometheus.Counter
	TTSOutcomes *prometheus.CounterVec

	STTEvents          *prometheus.CounterVec
	STTFailovers       *prometheus.CounterVec
	AudioBytesReceived prometheus.Counter

	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connected client sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of client sessions accepted",
		}),
		TurnsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_submitted_total",
			Help:      "Total number of turns admitted for processing",
		}),
		TurnsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_dropped_total",
			Help:      "Total number of final transcripts rejected by admission",
		}, []string{"reason"}),
		TurnsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_failed_total",
			Help:      "Total number of turns whose processing step failed",
		}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of the generate and synthesize step",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		WorkersAbandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_workers_abandoned_total",
			Help:      "Turn workers left running after ignoring shutdown cancellation",
		}),
		SkillHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_hits_total",
			Help:      "Replies answered by a built-in skill",
		}, []string{"skill"}),
		LLMGenerations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_generations_total",
			Help:      "Text generation calls by result",
		}, []string{"result"}),
		TTSChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_chunks_total",
			Help:      "Synthesized audio chunks forwarded to clients",
		}),
		TTSOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_outcomes_total",
			Help:      "Synthesis calls by outcome",
		}, []string{"outcome"}),
		STTEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_events_total",
			Help:      "Speech-to-text events received by type",
		}, []string{"type"}),
		STTFailovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_failovers_total",
			Help:      "Mid-session switches to another speech-to-text provider",
		}, []string{"provider"}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total client audio bytes forwarded upstream",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Turn events handed to the event sink by result",
		}, []string{"result"}),
	}
}

// Nop returns metrics registered against a throwaway registry.
func Nop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordSessionStart records a new client session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a client session ending.
func (m *Metrics) RecordSessionEnd() {
	m.SessionsActive.Dec()
}

// RecordTurnDropped records a rejected transcript.
func (m *Metrics) RecordTurnDropped(reason string) {
	m.TurnsDropped.WithLabelValues(reason).Inc()
}

// RecordTurn records a finished processing step.
func (m *Metrics) RecordTurn(durationSeconds float64, err error) {
	m.TurnDuration.Observe(durationSeconds)
	if err != nil {
		m.TurnsFailed.Inc()
	}
}

// RecordSkill records a skill answering a turn.
func (m *Metrics) RecordSkill(skill string) {
	m.SkillHits.WithLabelValues(skill).Inc()
}

// RecordLLM records a generation call result: ok, empty, error or disabled.
func (m *Metrics) RecordLLM(result string) {
	m.LLMGenerations.WithLabelValues(result).Inc()
}

// RecordTTSOutcome records how a synthesis call ended.
func (m *Metrics) RecordTTSOutcome(outcome string) {
	m.TTSOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSTTEvent records an event received from the STT provider.
func (m *Metrics) RecordSTTEvent(eventType string) {
	m.STTEvents.WithLabelValues(eventType).Inc()
}

// RecordAudio records audio bytes forwarded upstream.
func (m *Metrics) RecordAudio(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordEventPublish records a turn event publish result: ok, error or logged.
func (m *Metrics) RecordEventPublish(result string) {
	m.EventsPublished.WithLabelValues(result).Inc()
}

// RecordWorkerAbandoned records a turn worker that outlived its shutdown.
func (m *Metrics) RecordWorkerAbandoned() {
	m.WorkersAbandoned.Inc()
}

// RecordSTTFailover records a switch to provider after the active stream failed.
func (m *Metrics) RecordSTTFailover(provider string) {
	m.STTFailovers.WithLabelValues(provider).Inc()
}
