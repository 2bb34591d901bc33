package config_test

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/voxscribe/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\nproviders:\n  stt:\n    name: whisper\n",
			want: `server.log_level "verbose" is invalid`,
		},
		{
			name: "unknown stt provider",
			yaml: "providers:\n  stt:\n    name: vosk\n",
			want: `providers.stt.name "vosk" is unknown`,
		},
		{
			name: "unknown llm fallback",
			yaml: "providers:\n  stt:\n    name: whisper\n  llm:\n    name: openai\n    fallbacks:\n      - name: bard\n",
			want: `providers.llm.fallbacks[0].name "bard" is unknown`,
		},
		{
			name: "fallback without name",
			yaml: "providers:\n  stt:\n    name: whisper\n    fallbacks:\n      - model: x\n",
			want: "providers.stt.fallbacks[0].name is required",
		},
		{
			name: "llm fallbacks without primary",
			yaml: "providers:\n  stt:\n    name: whisper\n  llm:\n    fallbacks:\n      - name: openai\n",
			want: "providers.llm.fallbacks requires providers.llm.name",
		},
		{
			name: "sample rate",
			yaml: "providers:\n  stt:\n    name: whisper\naudio:\n  sample_rate: 1000\n",
			want: "audio.sample_rate 1000 is out of range",
		},
		{
			name: "channels",
			yaml: "providers:\n  stt:\n    name: whisper\naudio:\n  channels: 6\n",
			want: "audio.channels 6 is invalid",
		},
		{
			name: "session backend",
			yaml: "providers:\n  stt:\n    name: whisper\nsessions:\n  backend: etcd\n",
			want: `sessions.backend "etcd" is invalid`,
		},
		{
			name: "session dsn",
			yaml: "providers:\n  stt:\n    name: whisper\nsessions:\n  backend: postgres\n",
			want: "sessions.dsn is required when backend is postgres",
		},
		{
			name: "llm correction without llm",
			yaml: "providers:\n  stt:\n    name: whisper\ntranscription:\n  correction:\n    llm: true\n",
			want: "transcription.correction.llm requires providers.llm",
		},
		{
			name: "blank vocabulary term",
			yaml: "providers:\n  stt:\n    name: whisper\ntranscription:\n  vocabulary: [Snowflake, \" \"]\n",
			want: "transcription.vocabulary[1] is empty",
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: c.pem\nproviders:\n  stt:\n    name: whisper\n",
			want: "server.tls requires both cert_file and key_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
providers:
  stt:
    name: vosk
sessions:
  backend: etcd
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "vosk", "etcd"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestCerebrasDefaults(t *testing.T) {
	t.Setenv(config.CerebrasAPIKeyEnv, "csk-env")
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: whisper
  llm:
    name: cerebras
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	llm := cfg.Providers.LLM
	if llm.BaseURL != config.DefaultCerebrasBaseURL {
		t.Errorf("base_url = %q", llm.BaseURL)
	}
	if llm.Model != "llama-3.3-70b" {
		t.Errorf("model = %q", llm.Model)
	}
	if llm.APIKey != "csk-env" {
		t.Errorf("api_key = %q, want value from %s", llm.APIKey, config.CerebrasAPIKeyEnv)
	}
}

func TestCerebrasExplicitValuesWin(t *testing.T) {
	t.Setenv(config.CerebrasAPIKeyEnv, "csk-env")
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: whisper
  llm:
    name: cerebras
    api_key: csk-file
    model: llama3.1-8b
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "csk-file" || cfg.Providers.LLM.Model != "llama3.1-8b" {
		t.Errorf("llm = %+v", cfg.Providers.LLM)
	}
}

func TestCerebrasMissingKey(t *testing.T) {
	t.Setenv(config.CerebrasAPIKeyEnv, "")
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: whisper
  llm:
    name: cerebras
`))
	if err == nil {
		t.Fatal("expected error for missing cerebras key")
	}
	if !strings.Contains(err.Error(), config.CerebrasAPIKeyEnv) {
		t.Errorf("error should name %s, got: %v", config.CerebrasAPIKeyEnv, err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "llm"} {
		names, ok := config.ValidProviderNames[kind]
		if !ok {
			t.Errorf("ValidProviderNames missing kind %q", kind)
			continue
		}
		if len(names) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
	for _, name := range config.ValidProviderNames["stt"] {
		yaml := "providers:\n  stt:\n    name: " + name + "\n"
		if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
			t.Errorf("stt %q rejected: %v", name, err)
		}
	}
}

func TestLogLevelSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
		"verbose":       slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.SlogLevel(); got != want {
			t.Errorf("LogLevel(%q).SlogLevel() = %v, want %v", in, got, want)
		}
	}
}
