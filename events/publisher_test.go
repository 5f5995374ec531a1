package events

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/metrics"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EventsConfig
	}{
		{"disabled", config.EventsConfig{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", config.EventsConfig{Enabled: true, Brokers: []string{}}},
		{"nil brokers", config.EventsConfig{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, metrics.Nop(), zerolog.Nop())
			require.NotNil(t, p)
			assert.False(t, p.enabled)
			assert.Nil(t, p.writer)
			assert.NoError(t, p.Close())
		})
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(config.EventsConfig{
		Enabled: true,
		Brokers: []string{"localhost:9092"},
		Topic:   "voiceagent.turns",
	}, metrics.Nop(), zerolog.Nop())

	require.NotNil(t, p.writer)
	assert.True(t, p.enabled)
	assert.Equal(t, "voiceagent.turns", p.writer.Topic)
	assert.True(t, p.writer.Async)
}

func TestPublishTurn_Disabled(t *testing.T) {
	m := metrics.Nop()
	p := New(config.EventsConfig{Topic: "voiceagent.turns"}, m, zerolog.Nop())

	err := p.PublishTurn(context.Background(), TurnEvent{
		SessionID: "s1",
		Role:      "assistant",
		Text:      "Ahoy!",
		Persona:   "pirate",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("logged")))
}

func TestCompletion(t *testing.T) {
	m := metrics.Nop()
	p := &Publisher{metrics: m, log: zerolog.Nop()}

	p.completion(make([]kafka.Message, 2), nil)
	p.completion(make([]kafka.Message, 1), assert.AnError)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsPublished.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("error")))
}
