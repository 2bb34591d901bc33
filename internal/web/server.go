// Package web serves the browser recorder UI and its JSON and websocket API.
//
// Routes:
//
//	GET    /                 recorder page
//	POST   /api/transcribe   multipart field "audio" or a raw body
//	POST   /api/refine       {"text"?} -> {"raw", "refined"}
//	GET    /api/session      current session state
//	DELETE /api/session      forget the session
//	POST   /api/ask          {"question"} -> {"answer"}
//	GET    /ws/stream        live transcription
//	GET    /healthz, /readyz, /metrics
//
// The browser session is identified by the voxscribe_session cookie. The
// raw transcript of the last recording is kept in the session so that a
// later refine call can use it.
package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/MrWong99/voxscribe/internal/health"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/session"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

//go:embed static
var staticFiles embed.FS

// DefaultMaxUploadBytes bounds request bodies when no limit is configured.
const DefaultMaxUploadBytes = 25 << 20

// Transcriber converts and transcribes recordings. *transcribe.Service
// implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
	Stream(ctx context.Context, language string, in <-chan transcribe.Frame, emit func(stt.Transcript)) error
	Format() audio.Format
}

// Refiner cleans up a raw transcript. *cleanup.Refiner implements it.
type Refiner interface {
	Refine(ctx context.Context, raw string) (string, error)
}

// Answerer answers free-form questions. *faq.Agent implements it.
type Answerer interface {
	Answer(ctx context.Context, question string) string
}

// Option configures a [Server].
type Option func(*Server)

// WithRefiner enables POST /api/refine. Without it the endpoint answers 503.
func WithRefiner(r Refiner) Option {
	return func(s *Server) { s.refiner = r }
}

// WithAnswerer enables POST /api/ask. Without it the endpoint answers 503.
func WithAnswerer(a Answerer) Option {
	return func(s *Server) { s.answerer = a }
}

// WithMaxUploadBytes bounds every request body. Default:
// [DefaultMaxUploadBytes].
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithAllowedOrigins enables CORS for the listed origins. They are also
// accepted as websocket origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithSecureCookies marks the session cookie Secure. Enable behind TLS.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secureCookies = secure }
}

// WithSessionTTL sets the cookie lifetime. It should match the store TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	transcriber    Transcriber
	sessions       session.Store
	refiner        Refiner
	answerer       Answerer
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	origins        []string
	maxUpload      int64
	secureCookies  bool
	sessionTTL     time.Duration
	now            func() time.Time

	router chi.Router
}

// New creates a Server. transcriber and sessions are required.
func New(transcriber Transcriber, sessions session.Store, opts ...Option) (*Server, error) {
	if transcriber == nil {
		return nil, errors.New("web: transcriber is required")
	}
	if sessions == nil {
		return nil, errors.New("web: session store is required")
	}
	s := &Server{
		transcriber: transcriber,
		sessions:    sessions,
		maxUpload:   DefaultMaxUploadBytes,
		sessionTTL:  session.DefaultTTL,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", observe.CorrelationHeader},
			ExposedHeaders:   []string{observe.CorrelationHeader},
			AllowCredentials: true,
		}))
	}
	r.Use(observe.Middleware(s.metrics))

	static, _ := fs.Sub(staticFiles, "static")
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, "index.html")
	})

	r.Route("/api", func(ar chi.Router) {
		ar.Post("/transcribe", s.handleTranscribe)
		ar.Post("/refine", s.handleRefine)
		ar.Get("/session", s.handleGetSession)
		ar.Delete("/session", s.handleDeleteSession)
		ar.Post("/ask", s.handleAsk)
	})
	r.Get("/ws/stream", s.handleStream)

	if s.health != nil {
		s.health.Register(r)
	}
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}
	return r
}
