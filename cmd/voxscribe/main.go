// Command voxscribe serves the browser transcription demo: record audio,
// transcribe it with whisper, clean the transcript up with an LLM and ask
// questions about the configured FAQ.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxscribe/internal/app"
	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/resilience"
	"github.com/MrWong99/voxscribe/pkg/provider/llm"
	"github.com/MrWong99/voxscribe/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voxscribe/pkg/provider/llm/openai"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voxscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// Variables already set in the process win over the file.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxscribe: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxscribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voxscribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxscribe",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyDiff(config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		go watcher.Watch(ctx)
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// reloadOnHangup re-reads the config file on SIGHUP without waiting for the
// next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if changed, err := w.Reload(); err != nil {
				slog.Warn("config reload failed", "err", err)
			} else if !changed {
				slog.Info("config unchanged")
			}
		}
	}
}

// whisperOptions maps a config entry onto either whisper provider. The native
// provider reads its model path from Model, so WithModel only reaches the
// server-backed one.
func whisperOptions(entry config.ProviderEntry) []whisper.Option {
	opts := []whisper.Option{whisper.WithLogger(slog.Default().With("provider", entry.Name))}
	if entry.Name == "whisper" && entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	return opts
}

// anyllmBackends are the any-llm-go backends that can be named directly as
// an LLM provider.
var anyllmBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts, err := openaiOptions(entry)
		if err != nil {
			return nil, err
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("cerebras", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts, err := openaiOptions(entry)
		if err != nil {
			return nil, err
		}
		return oaillm.NewCerebras(entry.APIKey, entry.Model, opts...)
	})

	// anyllm takes the backend from options.provider.
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		backend := optString(entry.Options, "provider")
		if backend == "" {
			return nil, errors.New("anyllm: options.provider is required")
		}
		return anyllm.New(backend, entry.Model, anyllmOptions(entry)...)
	})

	for _, providerName := range anyllmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(providerName, entry.Model, anyllmOptions(entry)...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(entry.BaseURL, whisperOptions(entry)...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath, whisperOptions(entry)...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oaistt.WithPrompt(prompt))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	for _, kind := range []string{"llm", "stt"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// openaiOptions reads base_url plus the optional organization and timeout
// (a Go duration such as "30s") keys.
func openaiOptions(entry config.ProviderEntry) ([]oaillm.Option, error) {
	var opts []oaillm.Option
	if entry.BaseURL != "" {
		opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
	}
	if org := optString(entry.Options, "organization"); org != "" {
		opts = append(opts, oaillm.WithOrganization(org))
	}
	if raw := optString(entry.Options, "timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: options.timeout: %w", entry.Name, err)
		}
		opts = append(opts, oaillm.WithTimeout(d))
	}
	return opts, nil
}

func anyllmOptions(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

// buildProviders instantiates the providers named in cfg. Entries with
// fallbacks are wrapped so a failing primary hands over to the next backend.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	onError := func(kind string) func(string, error) {
		return func(name string, _ error) {
			metrics.RecordProviderError(ctx, name, kind)
		}
	}

	sttEntry := cfg.Providers.STT
	primarySTT, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sttEntry.Name, err)
	}
	ps.STT, ps.STTName = primarySTT, sttEntry.Name
	if len(sttEntry.Fallbacks) > 0 {
		fb := resilience.NewSTTFallback(primarySTT, sttEntry.Name, resilience.FallbackConfig{OnError: onError("stt")})
		for _, e := range sttEntry.Fallbacks {
			p, err := reg.CreateSTT(e)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.STT = fb
	}
	slog.Info("provider created", "kind", "stt", "name", sttEntry.Name, "fallbacks", len(sttEntry.Fallbacks))

	llmEntry := cfg.Providers.LLM
	if llmEntry.Name == "" {
		return ps, nil
	}
	primaryLLM, err := reg.CreateLLM(llmEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", llmEntry.Name, err)
	}
	ps.LLM, ps.LLMName = primaryLLM, llmEntry.Name
	if len(llmEntry.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(primaryLLM, llmEntry.Name, resilience.FallbackConfig{OnError: onError("llm")})
		for _, e := range llmEntry.Fallbacks {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.LLM = fb
	}
	slog.Info("provider created", "kind", "llm", "name", llmEntry.Name, "fallbacks", len(llmEntry.Fallbacks))
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxscribe: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printRow("Sessions", string(cfg.Sessions.Backend))
	printRow("Vocabulary", fmt.Sprintf("%d term(s)", len(cfg.Transcription.Vocabulary)))
	if cfg.FAQ.Path != "" {
		printRow("FAQ", cfg.FAQ.Topic)
	} else {
		printRow("FAQ", "(no document)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
