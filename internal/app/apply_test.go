package app

import (
	"log/slog"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/session"
	"github.com/MrWong99/voxscribe/pkg/audio"
	llmmock "github.com/MrWong99/voxscribe/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxscribe/pkg/provider/stt/mock"
)

func TestApplyDiff(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "whisper"}}}
	config.ApplyDefaults(cfg)
	cfg.Transcription.Vocabulary = []string{"Snowflake"}

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	level := new(slog.LevelVar)
	a, err := New(t.Context(), cfg,
		&Providers{STT: &sttmock.Provider{}, LLM: &llmmock.Provider{}},
		WithSessionStore(session.NewMemoryStore(time.Hour)),
		WithConverter(audio.NativeConverter{}),
		WithMetrics(metrics),
		WithLevelVar(level),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	a.ApplyDiff(config.ConfigDiff{
		LogLevelChanged:      true,
		NewLogLevel:          config.LogDebug,
		CleanupPromptChanged: true,
		NewCleanupPrompt:     "Fix punctuation only.",
		VocabularyChanged:    true,
		NewVocabulary:        []string{"Snowflake", "Cortex"},
		RestartRequired:      []string{"sessions"},
	})

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	if got := a.refiner.Prompt(); got != "Fix punctuation only." {
		t.Errorf("cleanup prompt = %q", got)
	}
	if got := a.service.Vocabulary(); !slices.Equal(got, []string{"Snowflake", "Cortex"}) {
		t.Errorf("vocabulary = %v", got)
	}
}

func TestApplyDiff_NoLLM(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "whisper"}}}
	config.ApplyDefaults(cfg)

	a, err := New(t.Context(), cfg, &Providers{STT: &sttmock.Provider{}},
		WithSessionStore(session.NewMemoryStore(time.Hour)),
		WithConverter(audio.NativeConverter{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if a.refiner != nil || a.faq != nil {
		t.Fatal("LLM features built without an LLM provider")
	}

	// A prompt change without a refiner must not panic.
	a.ApplyDiff(config.ConfigDiff{CleanupPromptChanged: true, NewCleanupPrompt: "x"})
}
