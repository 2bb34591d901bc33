package web

import (
	"errors"
	"net/http"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/session"
)

// CookieName carries the session ID.
const CookieName = "voxscribe_session"

// loadSession returns the session named by the request cookie. A missing,
// malformed, expired or unreadable session is replaced by a new, unsaved one
// and the cookie for it is set on w; created reports that case.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (sess *session.Session, created bool) {
	ctx := r.Context()
	if c, err := r.Cookie(CookieName); err == nil && session.ValidID(c.Value) {
		sess, err := s.sessions.Get(ctx, c.Value)
		if err == nil {
			return sess, false
		}
		if !errors.Is(err, session.ErrNotFound) {
			observe.Logger(ctx).Warn("session lookup failed, starting a new one", "error", err)
		}
	}
	sess = session.New(s.now())
	s.setCookie(w, sess.ID)
	return sess, true
}

// saveSession stores sess. A failure is logged; the response still carries
// the result the client asked for.
func (s *Server) saveSession(r *http.Request, sess *session.Session) {
	if err := s.sessions.Put(r.Context(), sess); err != nil {
		observe.Logger(r.Context()).Error("session save failed", "session_id", sess.ID, "error", err)
	}
}

func (s *Server) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
