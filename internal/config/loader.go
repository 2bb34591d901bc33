package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CerebrasAPIKeyEnv is consulted when a cerebras LLM entry has no api_key.
const CerebrasAPIKeyEnv = "CEREBRAS_API_KEY"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8501"
	DefaultMaxUploadBytes  = 25 << 20
	DefaultShutdownTimeout = 15 * time.Second
	DefaultFFmpegPath      = "ffmpeg"
	DefaultSampleRate      = 16000
	DefaultChannels        = 1
	DefaultAudioTimeout    = 60 * time.Second
	DefaultSessionTTL      = 24 * time.Hour
	DefaultFAQTopic        = "Snowflake"

	DefaultCerebrasBaseURL = "https://api.cerebras.ai/v1"
	DefaultCerebrasModel   = "llama-3.3-70b"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] rejects names that are not listed here.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram", "openai"},
	"llm": {"openai", "cerebras", "anyllm", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults. A cerebras LLM entry
// gets the Cerebras endpoint and model, and its key from CEREBRAS_API_KEY.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	a := &cfg.Audio
	if a.FFmpegPath == "" {
		a.FFmpegPath = DefaultFFmpegPath
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.Timeout == 0 {
		a.Timeout = DefaultAudioTimeout
	}

	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = SessionsMemory
	}
	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = DefaultSessionTTL
	}
	if cfg.FAQ.Topic == "" {
		cfg.FAQ.Topic = DefaultFAQTopic
	}

	applyLLMDefaults(&cfg.Providers.LLM)
	for i := range cfg.Providers.LLM.Fallbacks {
		applyLLMDefaults(&cfg.Providers.LLM.Fallbacks[i])
	}
}

func applyLLMDefaults(e *ProviderEntry) {
	if e.Name != "cerebras" {
		return
	}
	if e.BaseURL == "" {
		e.BaseURL = DefaultCerebrasBaseURL
	}
	if e.Model == "" {
		e.Model = DefaultCerebrasModel
	}
	if e.APIKey == "" {
		e.APIKey = os.Getenv(CerebrasAPIKeyEnv)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("llm", "providers.llm", cfg.Providers.LLM)...)
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLM.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm.fallbacks requires providers.llm.name"))
	}

	// Audio
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 48000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}

	// Transcription
	if cfg.Transcription.Correction.LLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("transcription.correction.llm requires providers.llm"))
	}
	if lc := cfg.Transcription.Correction.LowConfidence; lc < 0 || lc > 1 {
		errs = append(errs, fmt.Errorf("transcription.correction.low_confidence %.2f is out of range [0, 1]", lc))
	}
	for i, term := range cfg.Transcription.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("transcription.vocabulary[%d] is empty", i))
		}
	}

	// Sessions
	if !cfg.Sessions.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("sessions.backend %q is invalid; valid values: memory, redis, postgres", cfg.Sessions.Backend))
	} else if cfg.Sessions.Backend != SessionsMemory && cfg.Sessions.DSN == "" {
		errs = append(errs, fmt.Errorf("sessions.dsn is required when backend is %s", cfg.Sessions.Backend))
	}
	if cfg.Sessions.TTL < 0 {
		errs = append(errs, fmt.Errorf("sessions.ttl %s must not be negative", cfg.Sessions.TTL))
	}

	return errors.Join(errs...)
}

// validateEntry checks a provider entry and its fallbacks. An empty name is
// not an error here; required-ness is decided by the caller.
func validateEntry(kind, prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name != "" {
		if err := validateProviderName(kind, prefix, e.Name); err != nil {
			errs = append(errs, err)
		}
		if kind == "llm" && e.Name == "cerebras" && e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: cerebras requires an api_key or the %s environment variable", prefix, CerebrasAPIKeyEnv))
		}
	}
	for i, fb := range e.Fallbacks {
		p := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", p))
			continue
		}
		errs = append(errs, validateEntry(kind, p, ProviderEntry{Name: fb.Name, APIKey: fb.APIKey})...)
	}
	return errs
}

// validateProviderName returns an error if name is not in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, prefix, name string) error {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return nil
	}
	return fmt.Errorf("%s.name %q is unknown; valid values: %s", prefix, name, strings.Join(known, ", "))
}
