package observe

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the correlation ID on requests and responses.
const CorrelationHeader = "X-Correlation-ID"

// clientIDPattern limits what a client can put into our logs.
var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

var traceContext = propagation.TraceContext{}

// Middleware traces, measures and logs every request.
//
// The server span continues a W3C traceparent when one is sent. The
// response echoes X-Correlation-ID: a well-formed client ID is kept, any
// other request gets the trace ID. Durations are labelled with the chi route
// pattern so path parameters do not explode the label set. 5xx responses
// mark the span as failed and log at error level.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := startServerSpan(r)
			defer span.End()

			ctx = correlate(ctx, r, w.Header(), span)
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rw, r)

			took := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", routeLabel(r)),
				attribute.String("status", strconv.Itoa(rw.status)),
			))

			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
			level := slog.LevelInfo
			if rw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
				level = slog.LevelError
			}
			Logger(ctx).LogAttrs(ctx, level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Duration("duration", took),
			)
		})
	}
}

func startServerSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := traceContext.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
}

// correlate attaches a valid client correlation ID to ctx and writes the
// effective ID and the trace context to the response headers.
func correlate(ctx context.Context, r *http.Request, h http.Header, span trace.Span) context.Context {
	if id := r.Header.Get(CorrelationHeader); clientIDPattern.MatchString(id) {
		ctx = WithCorrelationID(ctx, id)
		span.SetAttributes(attribute.String("correlation_id", id))
	}
	if id := CorrelationID(ctx); id != "" {
		h.Set(CorrelationHeader, id)
	}
	traceContext.Inject(ctx, propagation.HeaderCarrier(h))
	return ctx
}

// routeLabel is the chi route pattern, or the raw path outside chi.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusWriter remembers the response status. It keeps websocket upgrades
// and flushing working through [http.ResponseController].
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *statusWriter) Flush() {
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}
