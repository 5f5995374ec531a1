package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AssemblyAIConfig struct {
	APIKey                string  `yaml:"api_key"`
	URL                   string  `yaml:"url"`
	EndOfTurnConfidence   float64 `yaml:"end_of_turn_confidence_threshold"`
	MinSilenceConfidentMS int     `yaml:"min_end_of_turn_silence_when_confident_ms"`
	MaxTurnSilenceMS      int     `yaml:"max_turn_silence_ms"`
}

type DeepgramConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type GoogleConfig struct {
	Enabled bool `yaml:"enabled"`
}

type STTConfig struct {
	Providers  []string         `yaml:"providers"`
	SampleRate int              `yaml:"sample_rate"`
	Language   string           `yaml:"language"`
	AssemblyAI AssemblyAIConfig `yaml:"assemblyai"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	Google     GoogleConfig     `yaml:"google"`
}

type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type TTSConfig struct {
	APIKey     string `yaml:"api_key"`
	URL        string `yaml:"url"`
	Voice      string `yaml:"voice"`
	Style      string `yaml:"style"`
	Format     string `yaml:"format"`
	SampleRate int    `yaml:"sample_rate"`
}

type SkillsConfig struct {
	WeatherURL    string        `yaml:"weather_url"`
	WeatherCity   string        `yaml:"weather_city"`
	DictionaryURL string        `yaml:"dictionary_url"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
}

type HistoryConfig struct {
	Driver     string `yaml:"driver"` // memory, file, redis, sqlite
	Path       string `yaml:"path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	SQLitePath string `yaml:"sqlite_path"`
}

type SchedulerConfig struct {
	TurnTimeout   time.Duration `yaml:"turn_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type EventsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	STT       STTConfig       `yaml:"stt"`
	LLM       LLMConfig       `yaml:"llm"`
	TTS       TTSConfig       `yaml:"tts"`
	Skills    SkillsConfig    `yaml:"skills"`
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		STT: STTConfig{
			Providers:  []string{"assemblyai"},
			SampleRate: 16000,
			Language:   "en-US",
			AssemblyAI: AssemblyAIConfig{
				URL:                   "wss://streaming.assemblyai.com/v3/ws",
				EndOfTurnConfidence:   0.7,
				MinSilenceConfidentMS: 160,
				MaxTurnSilenceMS:      2400,
			},
			Deepgram: DeepgramConfig{
				Model: "nova-3",
			},
		},
		LLM: LLMConfig{
			Model: "gemini-2.5-flash",
		},
		TTS: TTSConfig{
			URL:        "wss://api.murf.ai/v1/speech/stream-input",
			Voice:      "en-IN-arohi",
			Style:      "Conversational",
			Format:     "wav",
			SampleRate: 44100,
		},
		Skills: SkillsConfig{
			WeatherURL:    "https://api.open-meteo.com/v1/forecast?latitude=28.6&longitude=77.2&current_weather=true",
			WeatherCity:   "Delhi",
			DictionaryURL: "https://api.dictionaryapi.dev/api/v2/entries/en/",
			HTTPTimeout:   5 * time.Second,
		},
		History: HistoryConfig{
			Driver:     "file",
			Path:       "chat_history.json",
			RedisAddr:  "localhost:6379",
			SQLitePath: "./data/history.db",
		},
		Scheduler: SchedulerConfig{
			TurnTimeout:   90 * time.Second,
			ShutdownGrace: 5 * time.Second,
		},
		Events: EventsConfig{
			Topic: "voiceagent.turns",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Conventional credential variables first, so prefixed ones win.
	overrideString(&cfg.STT.AssemblyAI.APIKey, "ASSEMBLYAI_API_KEY")
	overrideString(&cfg.STT.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.TTS.APIKey, "MURF_API_KEY")

	overrideString(&cfg.Server.Addr, "VOICEAGENT_SERVER_ADDR")
	overrideDuration(&cfg.Server.ReadTimeout, "VOICEAGENT_SERVER_READ_TIMEOUT")
	overrideDuration(&cfg.Server.WriteTimeout, "VOICEAGENT_SERVER_WRITE_TIMEOUT")
	overrideDuration(&cfg.Server.IdleTimeout, "VOICEAGENT_SERVER_IDLE_TIMEOUT")
	overrideString(&cfg.Log.Level, "VOICEAGENT_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "VOICEAGENT_LOG_FORMAT")
	overrideStringSlice(&cfg.STT.Providers, "VOICEAGENT_STT_PROVIDERS")
	overrideInt(&cfg.STT.SampleRate, "VOICEAGENT_STT_SAMPLE_RATE")
	overrideString(&cfg.STT.Language, "VOICEAGENT_STT_LANGUAGE")
	overrideString(&cfg.STT.AssemblyAI.APIKey, "VOICEAGENT_STT_ASSEMBLYAI_API_KEY")
	overrideString(&cfg.STT.AssemblyAI.URL, "VOICEAGENT_STT_ASSEMBLYAI_URL")
	overrideString(&cfg.STT.Deepgram.APIKey, "VOICEAGENT_STT_DEEPGRAM_API_KEY")
	overrideString(&cfg.STT.Deepgram.Model, "VOICEAGENT_STT_DEEPGRAM_MODEL")
	overrideBool(&cfg.STT.Google.Enabled, "VOICEAGENT_STT_GOOGLE_ENABLED")
	overrideString(&cfg.LLM.APIKey, "VOICEAGENT_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "VOICEAGENT_LLM_MODEL")
	overrideString(&cfg.TTS.APIKey, "VOICEAGENT_TTS_API_KEY")
	overrideString(&cfg.TTS.URL, "VOICEAGENT_TTS_URL")
	overrideString(&cfg.TTS.Voice, "VOICEAGENT_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "VOICEAGENT_TTS_SAMPLE_RATE")
	overrideString(&cfg.Skills.WeatherURL, "VOICEAGENT_SKILLS_WEATHER_URL")
	overrideString(&cfg.Skills.DictionaryURL, "VOICEAGENT_SKILLS_DICTIONARY_URL")
	overrideDuration(&cfg.Skills.HTTPTimeout, "VOICEAGENT_SKILLS_HTTP_TIMEOUT")
	overrideString(&cfg.History.Driver, "VOICEAGENT_HISTORY_DRIVER")
	overrideString(&cfg.History.Path, "VOICEAGENT_HISTORY_PATH")
	overrideString(&cfg.History.RedisAddr, "VOICEAGENT_HISTORY_REDIS_ADDR")
	overrideInt(&cfg.History.RedisDB, "VOICEAGENT_HISTORY_REDIS_DB")
	overrideString(&cfg.History.SQLitePath, "VOICEAGENT_HISTORY_SQLITE_PATH")
	overrideDuration(&cfg.Scheduler.TurnTimeout, "VOICEAGENT_SCHEDULER_TURN_TIMEOUT")
	overrideDuration(&cfg.Scheduler.ShutdownGrace, "VOICEAGENT_SCHEDULER_SHUTDOWN_GRACE")
	overrideBool(&cfg.Events.Enabled, "VOICEAGENT_EVENTS_ENABLED")
	overrideStringSlice(&cfg.Events.Brokers, "VOICEAGENT_EVENTS_BROKERS")
	overrideString(&cfg.Events.Topic, "VOICEAGENT_EVENTS_TOPIC")
	overrideBool(&cfg.Metrics.Enabled, "VOICEAGENT_METRICS_ENABLED")
	overrideString(&cfg.Metrics.Path, "VOICEAGENT_METRICS_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if cfg.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be positive")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	for _, name := range cfg.STT.Providers {
		switch name {
		case "assemblyai", "deepgram", "google":
		default:
			return fmt.Errorf("stt.providers: unknown provider %q", name)
		}
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Voice == "" {
		return errors.New("tts.voice must not be empty")
	}
	switch cfg.History.Driver {
	case "memory":
	case "file":
		if cfg.History.Path == "" {
			return errors.New("history.path must be set when driver=file")
		}
	case "redis":
		if cfg.History.RedisAddr == "" {
			return errors.New("history.redis_addr must be set when driver=redis")
		}
	case "sqlite":
		if cfg.History.SQLitePath == "" {
			return errors.New("history.sqlite_path must be set when driver=sqlite")
		}
	default:
		return errors.New("history.driver must be one of memory|file|redis|sqlite")
	}
	if cfg.Scheduler.TurnTimeout < 0 {
		return errors.New("scheduler.turn_timeout must be >= 0")
	}
	if cfg.Scheduler.ShutdownGrace <= 0 {
		return errors.New("scheduler.shutdown_grace must be positive")
	}
	if cfg.Skills.HTTPTimeout <= 0 {
		return errors.New("skills.http_timeout must be positive")
	}
	if cfg.Events.Enabled && cfg.Events.Topic == "" {
		return errors.New("events.topic must be set when events are enabled")
	}
	return nil
}
