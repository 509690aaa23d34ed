package web

import (
	"net/http"

	"github.com/vbonduro/platescan/internal/domain"
)

const sessionCookieName = "platescan_session"

// session returns the caller's session, starting a new one and setting the
// cookie if the request carries none or an expired one. On failure it has
// already written a 500.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	var id string
	if c, err := r.Cookie(sessionCookieName); err == nil {
		id = c.Value
	}

	sess, err := s.service.StartSession(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("start session failed", "error", err)
		return nil, false
	}
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess, true
}
