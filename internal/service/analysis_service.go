package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/platescan/internal/domain"
	"github.com/vbonduro/platescan/internal/previewstore"
	"github.com/vbonduro/platescan/internal/store"
	"github.com/vbonduro/platescan/internal/vision"
)

// User-facing messages for rejected input.
const (
	MsgNoImage            = "Please select an image first."
	MsgAnalysisInProgress = "An analysis is already running for this image."
	MsgEmptyImage         = "The selected file is empty."
)

// sessionRepository is the subset of store.SessionStore that AnalysisService requires.
type sessionRepository interface {
	Create(ctx context.Context) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Touch(ctx context.Context, id string) error
	SetImage(ctx context.Context, id, previewKey, mimeType string, size int64) (string, error)
	SetError(ctx context.Context, id, kind, message string) error
	BeginAnalysis(ctx context.Context, id string) (*domain.Session, error)
	CompleteAnalysis(ctx context.Context, id string, seq int64, result *domain.AnalysisResult) (bool, error)
	FailAnalysis(ctx context.Context, id string, seq int64, kind, message string) (bool, error)
	ListIdleSince(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteIdle(ctx context.Context, id string, cutoff time.Time) (bool, error)
}

type AnalysisService struct {
	sessions sessionRepository
	analyzer vision.Analyzer
	previews previewstore.PreviewStore
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	inflight sync.WaitGroup
}

type Option func(*AnalysisService)

// WithAnalysisTimeout bounds each model call. Zero means no limit.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(s *AnalysisService) { s.timeout = d }
}

func NewAnalysisService(
	sessions sessionRepository,
	analyzer vision.Analyzer,
	previews previewstore.PreviewStore,
	logger *slog.Logger,
	opts ...Option,
) *AnalysisService {
	s := &AnalysisService{
		sessions: sessions,
		analyzer: analyzer,
		previews: previews,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession returns the session with the given id, or a new one if the id
// is empty, unknown or expired.
func (s *AnalysisService) StartSession(ctx context.Context, id string) (*domain.Session, error) {
	if id != "" {
		sess, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			if err := s.sessions.Touch(ctx, id); err != nil {
				return nil, fmt.Errorf("failed to touch session: %w", err)
			}
			return sess, nil
		}
	}
	sess, err := s.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("session created", "session_id", sess.ID)
	return sess, nil
}

// GetSession returns store.ErrSessionNotFound for unknown ids.
func (s *AnalysisService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, store.ErrSessionNotFound
	}
	return sess, nil
}

// SelectImage stores a new image as the session's preview, clears any prior
// result or error and releases the preview it replaces.
func (s *AnalysisService) SelectImage(ctx context.Context, sessionID string, imageData []byte, mimeType string) (*domain.Session, error) {
	if len(imageData) == 0 {
		return s.rejectInput(ctx, sessionID, vision.InputError("select image", MsgEmptyImage))
	}

	key, err := s.previews.Save(ctx, "preview", mimeType, bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to save preview: %w", err)
	}

	old, err := s.sessions.SetImage(ctx, sessionID, key, mimeType, int64(len(imageData)))
	if err != nil {
		s.release(ctx, key)
		return nil, fmt.Errorf("failed to select image: %w", err)
	}
	if old != "" {
		s.release(ctx, old)
	}
	s.logger.Info("image selected", "session_id", sessionID, "mime_type", mimeType, "bytes", len(imageData))

	return s.GetSession(ctx, sessionID)
}

// RejectImage records an input error for an upload that never reached the
// preview store, e.g. an unsupported format.
func (s *AnalysisService) RejectImage(ctx context.Context, sessionID string, err *vision.Error) (*domain.Session, error) {
	return s.rejectInput(ctx, sessionID, err)
}

func (s *AnalysisService) rejectInput(ctx context.Context, sessionID string, inputErr *vision.Error) (*domain.Session, error) {
	s.logger.Info("input rejected", "session_id", sessionID, "error", inputErr)
	if err := s.sessions.SetError(ctx, sessionID, string(inputErr.Kind), vision.UserMessage(inputErr)); err != nil {
		return nil, fmt.Errorf("failed to record input error: %w", err)
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess, inputErr
}

// TriggerAnalysis moves the session to the loading state and starts the
// model call in the background. The returned session is in StateLoading.
// With no image selected the session records an input error and the model
// is not called. A trigger while loading returns store.ErrAnalysisInProgress
// and leaves the session untouched.
func (s *AnalysisService) TriggerAnalysis(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.sessions.BeginAnalysis(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNoImage):
		return s.rejectInput(ctx, sessionID, vision.InputError("trigger analysis", MsgNoImage))
	case errors.Is(err, store.ErrAnalysisInProgress):
		current, gerr := s.GetSession(ctx, sessionID)
		if gerr != nil {
			return nil, gerr
		}
		return current, err
	case err != nil:
		return nil, err
	}

	s.logger.Info("analysis started", "session_id", sessionID, "seq", sess.Seq, "mime_type", sess.MimeType)

	// The analysis outlives the request that triggered it.
	bg := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.runAnalysis(bg, sess)
	}()

	return sess, nil
}

func (s *AnalysisService) runAnalysis(ctx context.Context, sess *domain.Session) {
	start := s.now()
	result, err := s.analyzePreview(ctx, sess.PreviewKey, sess.MimeType)

	var applied bool
	var storeErr error
	if err != nil {
		s.logger.Error("analysis failed",
			"session_id", sess.ID, "seq", sess.Seq, "kind", vision.KindOf(err), "error", err)
		applied, storeErr = s.sessions.FailAnalysis(ctx, sess.ID, sess.Seq, string(vision.KindOf(err)), vision.UserMessage(err))
	} else {
		s.logger.Info("analysis complete",
			"session_id", sess.ID, "seq", sess.Seq,
			"ingredients", len(result.Ingredients), "steps", len(result.Recipe), "allergens", len(result.Allergens),
			"duration_ms", s.now().Sub(start).Milliseconds())
		applied, storeErr = s.sessions.CompleteAnalysis(ctx, sess.ID, sess.Seq, result)
	}

	if storeErr != nil {
		s.logger.Error("failed to store analysis outcome", "session_id", sess.ID, "error", storeErr)
		return
	}
	if !applied {
		s.logger.Info("stale analysis discarded", "session_id", sess.ID, "seq", sess.Seq)
	}
}

func (s *AnalysisService) analyzePreview(ctx context.Context, previewKey, mimeType string) (*domain.AnalysisResult, error) {
	r, _, err := s.previews.Get(ctx, previewKey)
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindInput, Op: "load preview", Err: err}
	}
	defer func() {
		if err := r.Close(); err != nil {
			s.logger.Error("failed to close preview", "storage_key", previewKey, "error", err)
		}
	}()
	return s.analyze(ctx, r, mimeType)
}

func (s *AnalysisService) analyze(ctx context.Context, r io.Reader, mimeType string) (*domain.AnalysisResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.analyzer.Analyze(ctx, r, mimeType)
}

// AnalyzeImage runs one analysis without touching any session. It backs the
// JSON API.
func (s *AnalysisService) AnalyzeImage(ctx context.Context, imageData []byte, mimeType string) (*domain.AnalysisResult, error) {
	if len(imageData) == 0 {
		return nil, vision.InputError("analyze image", MsgEmptyImage)
	}
	s.logger.Info("vision analysis started", "mime_type", mimeType, "bytes", len(imageData))
	result, err := s.analyze(ctx, bytes.NewReader(imageData), mimeType)
	if err != nil {
		s.logger.Error("vision analysis failed", "kind", vision.KindOf(err), "error", err)
		return nil, err
	}
	s.logger.Info("vision analysis complete", "ingredients", len(result.Ingredients))
	return result, nil
}

// OpenPreview returns the image behind previewKey if it is the session's
// current preview. Superseded or foreign keys report previewstore.ErrNotFound.
func (s *AnalysisService) OpenPreview(ctx context.Context, sessionID, previewKey string) (io.ReadCloser, string, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if sess == nil || sess.PreviewKey == "" || sess.PreviewKey != previewKey {
		return nil, "", previewstore.ErrNotFound
	}
	r, _, err := s.previews.Get(ctx, previewKey)
	if err != nil {
		return nil, "", err
	}
	return r, sess.MimeType, nil
}

// ReleaseIdle deletes sessions idle for longer than ttl and releases their
// previews. A session that sees activity after the sweep lists it is kept.
// It returns the number of sessions removed.
func (s *AnalysisService) ReleaseIdle(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)
	idle, err := s.sessions.ListIdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	return s.releaseSessions(ctx, idle, func(ctx context.Context, id string) (bool, error) {
		return s.sessions.DeleteIdle(ctx, id, cutoff)
	})
}

// releaseSessions deletes each session with del and, when a row was removed,
// releases the preview it held.
func (s *AnalysisService) releaseSessions(
	ctx context.Context,
	sessions []*domain.Session,
	del func(ctx context.Context, id string) (bool, error),
) (int, error) {
	removed := 0
	for _, sess := range sessions {
		deleted, err := del(ctx, sess.ID)
		if err != nil {
			return removed, fmt.Errorf("failed to delete session %s: %w", sess.ID, err)
		}
		if !deleted {
			continue
		}
		if sess.PreviewKey != "" {
			s.release(ctx, sess.PreviewKey)
		}
		removed++
	}
	return removed, nil
}

func (s *AnalysisService) deleteSession(ctx context.Context, id string) (bool, error) {
	err := s.sessions.Delete(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return false, nil
	}
	return err == nil, err
}

// RunJanitor calls ReleaseIdle every interval until ctx is cancelled.
func (s *AnalysisService) RunJanitor(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.ReleaseIdle(ctx, ttl)
			if err != nil {
				s.logger.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("idle sessions released", "count", n)
			}
		}
	}
}

// Wait blocks until every background analysis started by TriggerAnalysis has
// stored its outcome. Close waits the same way, bounded by its context; Wait
// is for callers that need the outcome without tearing sessions down.
func (s *AnalysisService) Wait() {
	s.inflight.Wait()
}

// Close waits for in-flight analyses, bounded by ctx, then drops every session
// and releases its preview.
func (s *AnalysisService) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutting down with analyses still running")
	}

	all, err := s.sessions.List(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	n, err := s.releaseSessions(context.WithoutCancel(ctx), all, s.deleteSession)
	s.logger.Info("sessions released on shutdown", "count", n)
	return err
}

// release deletes a preview handle. A handle that is already gone is fine.
func (s *AnalysisService) release(ctx context.Context, key string) {
	if err := s.previews.Delete(ctx, key); err != nil && !errors.Is(err, previewstore.ErrNotFound) {
		s.logger.Error("failed to release preview", "storage_key", key, "error", err)
		return
	}
	s.logger.Debug("preview released", "storage_key", key)
}
