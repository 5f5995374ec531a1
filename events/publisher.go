// Package events publishes completed turns to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/metrics"
)

// TurnEvent is the payload written for each side of a completed turn.
type TurnEvent struct {
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Persona   string    `json:"persona"`
	Source    string    `json:"source,omitempty"`
	Skill     string    `json:"skill,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher writes turn events to a Kafka topic. When Kafka is disabled it
// only logs the events.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a publisher from cfg.
func New(cfg config.EventsConfig, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, metrics: m, log: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	p := &Publisher{
		topic:   cfg.Topic,
		enabled: true,
		metrics: m,
		log:     logger,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   p.completion,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka publisher initialized")
	return p
}

// PublishTurn queues ev for delivery, keyed by session so a session's turns
// stay on one partition. Delivery failures are logged, not returned.
func (p *Publisher) PublishTurn(ctx context.Context, ev TurnEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("topic", p.topic).Msg("Failed to marshal event")
		return err
	}

	p.log.Debug().
		Str("topic", p.topic).
		Str("sessionId", ev.SessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordEventPublish("logged")
		return nil
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("turn")},
			{Key: "role", Value: []byte(ev.Role)},
		},
	})
}

func (p *Publisher) completion(messages []kafka.Message, err error) {
	if err != nil {
		p.log.Error().Err(err).Str("topic", p.topic).Int("count", len(messages)).Msg("Failed to write to Kafka")
		p.metrics.RecordEventPublish("error")
		return
	}
	for range messages {
		p.metrics.RecordEventPublish("ok")
	}
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.log.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
