package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/agnivade/voiceagent"
	"github.com/agnivade/voiceagent/config"
	"github.com/agnivade/voiceagent/events"
	"github.com/agnivade/voiceagent/history"
	"github.com/agnivade/voiceagent/llm"
	"github.com/agnivade/voiceagent/logging"
	"github.com/agnivade/voiceagent/metrics"
	"github.com/agnivade/voiceagent/providers"
	"github.com/agnivade/voiceagent/providers/assemblyai"
	"github.com/agnivade/voiceagent/providers/deepgram"
	"github.com/agnivade/voiceagent/providers/google"
	"github.com/agnivade/voiceagent/responder"
	"github.com/agnivade/voiceagent/skills"
	"github.com/agnivade/voiceagent/tts"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logging.New(logging.DefaultConfig())
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	backend, err := history.NewBackend(ctx, cfg.History)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.History.Driver).Msg("Failed to open history backend")
	}
	store := history.Open(ctx, backend, logging.WithComponent(logger, "history"))
	defer store.Close()

	sttProviders, closeSTT := buildProviders(ctx, cfg.STT, logger)
	defer closeSTT()
	if len(sttProviders) == 0 {
		logger.Warn().Msg("No speech-to-text provider available, sessions will be rejected")
	}

	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create LLM client")
	}
	if _, ok := gen.(llm.Disabled); ok {
		logger.Warn().Msg("GEMINI_API_KEY not set, only built-in skills will answer")
	}

	synth := tts.NewSynthesizer(cfg.TTS, m, logging.WithComponent(logger, "tts"))
	if !synth.Enabled() {
		logger.Warn().Msg("MURF_API_KEY not set, replies will not be spoken")
	}

	publisher := events.New(cfg.Events, m, logging.WithComponent(logger, "events"))
	defer publisher.Close()

	resp := responder.New(
		skills.NewMatcher(cfg.Skills, logging.WithComponent(logger, "skills")),
		gen,
		store,
		m,
		logging.WithComponent(logger, "responder"),
	)

	s := voiceagent.New(cfg, voiceagent.Deps{
		Providers:   sttProviders,
		Responder:   resp,
		Synthesizer: synth,
		History:     store,
		Events:      publisher,
		Metrics:     m,
		Gatherer:    reg,
		Logger:      logger,
	})

	go func() {
		if err := s.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := s.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}
}

// buildProviders creates the configured STT providers in priority order.
// Providers that cannot be created are skipped.
func buildProviders(ctx context.Context, cfg config.STTConfig, logger zerolog.Logger) ([]providers.Provider, func()) {
	var (
		list    []providers.Provider
		closers []func() error
	)

	for _, name := range cfg.Providers {
		switch name {
		case "assemblyai":
			list = append(list, assemblyai.NewProvider(cfg.AssemblyAI))
		case "deepgram":
			list = append(list, deepgram.NewProvider(cfg.Deepgram.APIKey, cfg.Deepgram.Model))
		case "google":
			if !cfg.Google.Enabled {
				logger.Info().Msg("Google speech provider listed but not enabled, skipping")
				continue
			}
			client, err := speech.NewClient(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to create Google speech client")
				continue
			}
			closers = append(closers, client.Close)
			list = append(list, google.NewProvider(client))
		}
	}

	return list, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("Error closing speech client")
			}
		}
	}
}
