package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/session"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/internal/transcript"
)

// maxLanguageLen bounds the language form field.
const maxLanguageLen = 35

type transcribeResponse struct {
	SessionID       string                  `json:"session_id"`
	Text            string                  `json:"text"`
	Raw             string                  `json:"raw"`
	Segments        []transcribe.Segment    `json:"segments"`
	Corrections     []transcript.Correction `json:"corrections"`
	DurationMs      int64                   `json:"duration_ms"`
	AudioDurationMs int64                   `json:"audio_duration_ms"`
}

type refineRequest struct {
	Text string `json:"text"`
}

type refineResponse struct {
	Raw     string `json:"raw"`
	Refined string `json:"refined"`
	Error   string `json:"error,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	data, lang, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.transcriber.Transcribe(r.Context(), transcribe.Request{Audio: data, Language: lang})
	if err != nil {
		writeError(w, r, err)
		return
	}

	sess, _ := s.loadSession(w, r)
	sess.SetRaw(res.Text, s.now())
	if lang != "" {
		sess.Language = lang
	}
	s.saveSession(r, sess)

	out := transcribeResponse{
		SessionID:       sess.ID,
		Text:            res.Text,
		Raw:             res.Raw,
		Segments:        res.Segments,
		Corrections:     res.Corrections,
		DurationMs:      res.Duration.Milliseconds(),
		AudioDurationMs: res.AudioDuration.Milliseconds(),
	}
	if out.Segments == nil {
		out.Segments = []transcribe.Segment{}
	}
	if out.Corrections == nil {
		out.Corrections = []transcript.Correction{}
	}
	writeJSON(w, http.StatusOK, out)
}

// readUpload returns the recording and the requested language. Multipart
// requests carry the recording in the "audio" field and may set "language";
// any other content type is taken as the raw recording. The query parameter
// "language" applies to both.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	lang := strings.TrimSpace(r.URL.Query().Get("language"))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		return data, lang, err
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", badRequest("invalid multipart body", err)
	}
	var data []byte
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, "", err
			}
			return nil, "", badRequest("invalid multipart body", err)
		}
		switch part.FormName() {
		case "audio":
			if data, err = io.ReadAll(part); err != nil {
				return nil, "", err
			}
		case "language":
			b, err := io.ReadAll(io.LimitReader(part, maxLanguageLen))
			if err != nil {
				return nil, "", err
			}
			if l := strings.TrimSpace(string(b)); l != "" {
				lang = l
			}
		}
		part.Close()
	}
	if data == nil {
		return nil, "", badRequest(`missing multipart field "audio"`, nil)
	}
	return data, lang, nil
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if s.refiner == nil {
		writeError(w, r, errNoLLM)
		return
	}

	sess, _ := s.loadSession(w, r)
	raw := strings.TrimSpace(req.Text)
	if raw != "" {
		sess.SetRaw(raw, s.now())
	} else {
		raw = sess.RawTranscript
	}
	if strings.TrimSpace(raw) == "" {
		writeError(w, r, badRequest("nothing to refine: transcribe a recording first", nil))
		return
	}

	refined, err := s.refiner.Refine(r.Context(), raw)
	if err != nil {
		// The raw transcript stays in the session for a retry.
		if req.Text != "" {
			s.saveSession(r, sess)
		}
		observe.Logger(r.Context()).Warn("transcript cleanup failed", "error", err)
		writeJSON(w, statusFor(err), refineResponse{Raw: raw, Error: err.Error()})
		return
	}

	sess.SetRefined(refined, s.now())
	s.saveSession(r, sess)
	writeJSON(w, http.StatusOK, refineResponse{Raw: raw, Refined: refined})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, created := s.loadSession(w, r)
	if created {
		s.saveSession(r, sess)
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil && session.ValidID(c.Value) {
		if err := s.sessions.Delete(r.Context(), c.Value); err != nil {
			observe.Logger(r.Context()).Warn("session delete failed", "error", err)
		}
	}
	s.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if s.answerer == nil {
		writeError(w, r, errNoLLM)
		return
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		writeError(w, r, badRequest("question is required", nil))
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: s.answerer.Answer(r.Context(), q)})
}
