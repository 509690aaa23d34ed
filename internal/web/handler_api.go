package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vbonduro/platescan/internal/vision"
)

type apiError struct {
	Error string `json:"error"`
}

// handleAPIAnalyze runs one stateless analysis for programmatic clients.
func (s *Server) handleAPIAnalyze(w http.ResponseWriter, r *http.Request) {
	imageData, mimeType, err := s.readImage(w, r)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	if mimeType == "" {
		// Empty file; let the service classify it.
		mimeType = "application/octet-stream"
	}

	result, err := s.service.AnalyzeImage(r.Context(), imageData, mimeType)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	var verr *vision.Error
	if errors.As(err, &verr) && verr.Kind == vision.KindInput {
		writeJSON(w, http.StatusBadRequest, apiError{Error: vision.UserMessage(err)})
		return
	}
	s.logger.Error("api analysis failed", "kind", vision.KindOf(err), "error", err)
	writeJSON(w, http.StatusBadGateway, apiError{Error: vision.UserMessage(err)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
