// Package health serves the liveness (/healthz) and readiness (/readyz)
// probes. Both answer JSON with a "status" of "ok" or "fail"; /readyz also
// reports each named check under "checks".
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is satisfied by the session stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks p.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BinaryChecker passes while lookPath resolves an executable, for example
// the ffmpeg binary the converter shells out to.
func BinaryChecker(name string, lookPath func() (string, error)) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := lookPath(); err != nil {
			return fmt.Errorf("%s not found: %w", name, err)
		}
		return nil
	}}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves both probes. Its checkers are fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler running checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts /healthz and /readyz on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// Healthz reports the process as alive whenever it can answer.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all checks concurrently and answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.probe(r.Context())
	code := http.StatusOK
	if rep.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, rep)
}

func (h *Handler) probe(ctx context.Context) report {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			outcome := "ok"
			if err := c.Check(cctx); err != nil {
				outcome = "fail: " + err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = outcome
			if outcome != "ok" {
				rep.Status = "fail"
			}
		})
	}
	wg.Wait()
	return rep
}

func respond(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
