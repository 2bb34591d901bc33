// Package app wires the voxscribe subsystems together: audio conversion,
// transcription with vocabulary correction, transcript cleanup, the FAQ
// agent, session storage and the HTTP server.
//
// Use [New] to build an App from a config and a set of providers, [App.Run]
// to serve until the context is cancelled, and [App.Shutdown] to release
// resources.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/faq"
	"github.com/MrWong99/voxscribe/internal/health"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/session"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/internal/transcript"
	"github.com/MrWong99/voxscribe/internal/transcript/cleanup"
	"github.com/MrWong99/voxscribe/internal/transcript/llmcorrect"
	"github.com/MrWong99/voxscribe/internal/transcript/phonetic"
	"github.com/MrWong99/voxscribe/internal/web"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/llm"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the provider instances used by the application. STT is
// required. LLM is optional: without it cleanup, the FAQ agent and LLM
// correction are disabled.
type Providers struct {
	STT     stt.Provider
	STTName string

	LLM     llm.Provider
	LLMName string
}

// App owns every subsystem and manages their lifecycle.
type App struct {
	cfg       *config.Config
	providers *Providers

	level    *slog.LevelVar
	metrics  *observe.Metrics
	retry    session.RetryConfig
	ffmpeg   *audio.FFmpegConverter
	conv     audio.Converter
	sessions session.Store

	service *transcribe.Service
	refiner *cleanup.Refiner
	faq     *faq.Agent
	web     *web.Server
	srv     *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithSessionStore injects a session store instead of opening the configured
// backend. The App does not close an injected store.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithConverter injects the audio converter instead of the ffmpeg-backed
// default.
func WithConverter(c audio.Converter) Option {
	return func(a *App) { a.conv = c }
}

// WithMetrics sets the instruments shared by all subsystems. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyDiff] change the level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithSessionRetry sets how long New waits for a networked session backend.
func WithSessionRetry(rc session.RetryConfig) Option {
	return func(a *App) { a.retry = rc }
}

// New creates an App from cfg and providers. It opens the session backend
// (retrying while it comes up) and builds the HTTP server, but does not start
// listening.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: stt provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.conv == nil {
		a.ffmpeg = audio.NewFFmpeg(
			audio.WithFFmpegPath(cfg.Audio.FFmpegPath),
			audio.WithFFmpegTimeout(cfg.Audio.Timeout),
		)
		a.conv = audio.NewFallbackConverter(a.ffmpeg)
	}

	if err := a.initTranscription(); err != nil {
		return nil, err
	}
	if err := a.initLLM(); err != nil {
		return nil, err
	}
	if err := a.initSessions(ctx); err != nil {
		return nil, err
	}
	if err := a.initServer(); err != nil {
		return nil, err
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTranscription() error {
	tc := a.cfg.Transcription
	pipeOpts := []transcript.PipelineOption{
		transcript.WithPhoneticMatcher(phonetic.New()),
	}
	if tc.Correction.LLM && a.providers.LLM != nil {
		pipeOpts = append(pipeOpts, transcript.WithLLMCorrector(
			llmcorrect.New(a.providers.LLM, llmcorrect.WithLogger(slog.Default())),
		))
		if tc.Correction.LowConfidence > 0 {
			pipeOpts = append(pipeOpts, transcript.WithLLMOnLowConfidence(tc.Correction.LowConfidence))
		}
	}

	svc, err := transcribe.New(a.conv, a.providers.STT,
		transcribe.WithFormat(audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: a.cfg.Audio.Channels}),
		transcribe.WithLanguage(tc.Language),
		transcribe.WithVocabulary(tc.Vocabulary),
		transcribe.WithPipeline(transcript.NewPipeline(pipeOpts...)),
		transcribe.WithMetrics(a.metrics),
		transcribe.WithProviderName(a.providers.STTName),
	)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.service = svc
	return nil
}

// initLLM builds the cleanup refiner and the FAQ agent when an LLM is
// configured.
func (a *App) initLLM() error {
	if a.providers.LLM == nil {
		slog.Info("no llm provider configured, cleanup and faq are disabled")
		return nil
	}

	var refOpts []cleanup.Option
	if p := a.cfg.Transcription.CleanupPrompt; p != "" {
		refOpts = append(refOpts, cleanup.WithPrompt(p))
	}
	refOpts = append(refOpts, cleanup.WithMetrics(a.metrics))
	ref, err := cleanup.New(a.providers.LLM, refOpts...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.refiner = ref

	content, err := faq.LoadFAQ(a.cfg.FAQ.Path)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if content == "" && a.cfg.FAQ.Path != "" {
		slog.Warn("faq document not found, answering from model knowledge", "path", a.cfg.FAQ.Path)
	}
	ag, err := faq.NewAgent(a.providers.LLM, content, a.cfg.FAQ.Topic, faq.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.faq = ag
	return nil
}

func (a *App) initSessions(ctx context.Context) error {
	if a.sessions != nil {
		return nil
	}
	sc := a.cfg.Sessions
	st, err := session.OpenWithRetry(ctx, session.Config{
		Backend: string(sc.Backend),
		DSN:     sc.DSN,
		TTL:     sc.TTL,
	}, a.retry)
	if err != nil {
		return fmt.Errorf("app: open session store: %w", err)
	}
	a.sessions = st
	a.closers = append(a.closers, st.Close)
	slog.Info("session store ready", "backend", sc.Backend)
	return nil
}

func (a *App) initServer() error {
	checkers := []health.Checker{health.PingChecker("sessions", a.sessions)}
	if a.ffmpeg != nil {
		checkers = append(checkers, health.BinaryChecker("ffmpeg", a.ffmpeg.LookPath))
	}

	sc := a.cfg.Server
	opts := []web.Option{
		web.WithMaxUploadBytes(sc.MaxUploadBytes),
		web.WithAllowedOrigins(sc.AllowedOrigins),
		web.WithMetrics(a.metrics),
		web.WithHealth(health.New(checkers...)),
		web.WithMetricsHandler(observe.MetricsHandler()),
		web.WithSecureCookies(sc.TLS != nil),
		web.WithSessionTTL(a.cfg.Sessions.TTL),
	}
	// Nil pointers must not reach the interface-typed options.
	if a.refiner != nil {
		opts = append(opts, web.WithRefiner(a.refiner))
	}
	if a.faq != nil {
		opts = append(opts, web.WithAnswerer(a.faq))
	}

	ws, err := web.New(a.service, a.sessions, opts...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.web = ws
	a.srv = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the UI and API.
func (a *App) Handler() http.Handler { return a.web.Handler() }

// Addr returns the address the server listens on, or nil before [App.Run]
// has bound it.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests
// within the configured shutdown timeout. It returns ctx.Err() after a clean
// stop, or the error that made the server fail.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	tls := a.cfg.Server.TLS
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls != nil {
			err = a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(sctx)
	})

	slog.Info("voxscribe listening", "addr", ln.Addr().String(), "tls", tls != nil)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return ctx.Err()
}

// ApplyDiff applies the hot-reloadable parts of a config change. Changes that
// need a restart are logged.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CleanupPromptChanged && a.refiner != nil {
		a.refiner.SetPrompt(d.NewCleanupPrompt)
		slog.Info("cleanup prompt updated")
	}
	if d.VocabularyChanged {
		a.service.SetVocabulary(d.NewVocabulary)
		slog.Info("vocabulary updated", "terms", len(d.NewVocabulary))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and runs the closers in order. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
