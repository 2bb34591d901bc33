package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/llm"
)

// errNoLLM is reported by endpoints that need a language model when none is
// configured.
var errNoLLM = errors.New("no language model configured")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes {"error": ...}. Upstream
// failures are logged with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps errors from the transcription stack to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	var reqErr *requestError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, llm.ErrContextOverflow):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, transcribe.ErrNoAudio), errors.Is(err, audio.ErrEmptyAudio):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errNoLLM):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// requestError marks a malformed client request.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &requestError{msg: msg, err: err}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	var maxErr *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &maxErr):
		return err
	default:
		return badRequest("invalid JSON body", fmt.Errorf("decode: %w", err))
	}
}
