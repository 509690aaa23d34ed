package web

import (
	"errors"
	"net/http"

	"github.com/vbonduro/platescan/internal/store"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.renderPage(w, s.view(sess), pageFiles...); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	updated, err := s.service.TriggerAnalysis(r.Context(), sess.ID)
	switch {
	case errors.Is(err, store.ErrAnalysisInProgress):
		s.respond(w, r, http.StatusConflict, "status", updated)
		return
	case updated == nil:
		http.Error(w, "failed to start analysis", http.StatusInternalServerError)
		s.logger.Error("trigger analysis failed", "session_id", sess.ID, "error", err)
		return
	}
	// An input error (no image) is already recorded on the session.
	s.respond(w, r, http.StatusOK, "status", updated)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.renderPartial(w, http.StatusOK, "status", s.view(sess), statusFiles...); err != nil {
		s.logger.Error("render partial failed", "template", "status", "error", err)
	}
}
