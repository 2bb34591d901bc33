// Package config provides the configuration schema, loader, watcher and
// provider registry for the voxscribe server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the voxscribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SessionBackend selects where UI session state is kept.
type SessionBackend string

const (
	SessionsMemory   SessionBackend = "memory"
	SessionsRedis    SessionBackend = "redis"
	SessionsPostgres SessionBackend = "postgres"
)

// IsValid reports whether b is a recognised session backend.
func (b SessionBackend) IsValid() bool {
	switch b {
	case SessionsMemory, SessionsRedis, SessionsPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for voxscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	FAQ           FAQConfig           `yaml:"faq"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8501".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists the origins allowed by CORS. Empty allows none
	// beyond same-origin requests.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxUploadBytes bounds every request body. Default 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the STT and LLM implementations. Each entry names a
// provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// LLM is optional. Without it cleanup and the FAQ agent are disabled.
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "cerebras").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "llama-3.3-70b", "nova-2").
	// For whisper-native it is the path to the model file.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AudioConfig controls conversion of uploaded recordings.
type AudioConfig struct {
	// FFmpegPath is the ffmpeg binary name or path. Default "ffmpeg".
	FFmpegPath string `yaml:"ffmpeg_path"`

	// SampleRate is the PCM rate sent to the STT provider. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the PCM channel count sent to the STT provider. Default 1.
	Channels int `yaml:"channels"`

	// Timeout bounds a single ffmpeg run. Default 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// TranscriptionConfig controls language, vocabulary correction and cleanup.
type TranscriptionConfig struct {
	// Language is the default BCP-47 language. Empty lets the provider decide.
	Language string `yaml:"language"`

	// Vocabulary lists known terms used for keyword boosts and phonetic
	// correction.
	Vocabulary []string `yaml:"vocabulary"`

	// CleanupPrompt replaces the built-in post-processor prompt when set.
	CleanupPrompt string `yaml:"cleanup_prompt"`

	Correction CorrectionConfig `yaml:"correction"`
}

// CorrectionConfig tunes the vocabulary correction pipeline.
type CorrectionConfig struct {
	// LLM enables the LLM correction stage after the phonetic matcher.
	// Requires providers.llm.
	LLM bool `yaml:"llm"`

	// LowConfidence restricts the LLM stage to transcripts whose confidence is
	// below this value. Zero runs it on every transcript.
	LowConfidence float64 `yaml:"low_confidence"`
}

// SessionsConfig selects the session store.
type SessionsConfig struct {
	// Backend is memory, redis or postgres. Default memory.
	Backend SessionBackend `yaml:"backend"`

	// DSN is the redis URL or postgres connection string.
	DSN string `yaml:"dsn"`

	// TTL is how long an idle session is kept. Default 24h.
	TTL time.Duration `yaml:"ttl"`
}

// FAQConfig configures the FAQ agent.
type FAQConfig struct {
	// Path is a text or markdown file with the FAQ content. A missing file
	// leaves the agent without reference material.
	Path string `yaml:"path"`

	// Topic names the subject the agent answers questions about.
	Topic string `yaml:"topic"`
}
