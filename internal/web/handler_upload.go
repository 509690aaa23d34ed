package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vbonduro/platescan/internal/service"
	"github.com/vbonduro/platescan/internal/vision"
)

// multipartOverhead is the allowance on top of the image size for multipart
// boundaries and headers.
const multipartOverhead = 64 << 10

const (
	MsgUnsupportedImage = "Unsupported image format. Please choose a PNG, JPEG or WEBP image."
	MsgImageTooLarge    = "That image is too large. Please choose a smaller one."
	MsgBadUpload        = "The upload could not be read. Please try again."
)

// allowedImageTypes is the set of MIME types accepted for uploaded images.
var allowedImageTypes = []string{"image/png", "image/jpeg", "image/webp"}

// allowedImageMIME sniffs data and returns its MIME type and true if it is an
// accepted image format, or ("", false) otherwise. The client-declared type
// is never trusted.
func allowedImageMIME(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	detected := mimetype.Detect(data)
	for _, t := range allowedImageTypes {
		if detected.Is(t) {
			return t, true
		}
	}
	return "", false
}

// readImage reads the "image" form file, bounded by the configured size limit.
// Problems with the upload itself come back as input errors.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", vision.InputError("read upload", MsgImageTooLarge)
		}
		return nil, "", vision.InputError("read upload", MsgBadUpload)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", vision.InputError("read upload", service.MsgNoImage)
	}
	defer closeWithLog(file, "upload file", s.logger)

	if header.Size > s.maxImageBytes {
		return nil, "", vision.InputError("read upload", MsgImageTooLarge)
	}
	imageData, err := vision.ReadImage(io.LimitReader(file, s.maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(imageData)) > s.maxImageBytes {
		return nil, "", vision.InputError("read upload", MsgImageTooLarge)
	}
	if len(imageData) == 0 {
		// The service reports empty files with its own message.
		return imageData, "", nil
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		return nil, "", vision.InputError("read upload", MsgUnsupportedImage)
	}
	return imageData, mimeType, nil
}

func (s *Server) handleSelectImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	imageData, mimeType, err := s.readImage(w, r)
	if err != nil {
		var inputErr *vision.Error
		if !errors.As(err, &inputErr) || inputErr.Kind != vision.KindInput {
			http.Error(w, "failed to read upload", http.StatusInternalServerError)
			s.logger.Error("read upload failed", "session_id", sess.ID, "error", err)
			return
		}
		updated, rerr := s.service.RejectImage(r.Context(), sess.ID, inputErr)
		if updated == nil {
			http.Error(w, "failed to record error", http.StatusInternalServerError)
			s.logger.Error("reject image failed", "session_id", sess.ID, "error", rerr)
			return
		}
		s.respond(w, r, http.StatusOK, "workspace", updated)
		return
	}

	updated, err := s.service.SelectImage(r.Context(), sess.ID, imageData, mimeType)
	if updated == nil {
		http.Error(w, "failed to select image", http.StatusInternalServerError)
		s.logger.Error("select image failed", "session_id", sess.ID, "error", err)
		return
	}
	s.respond(w, r, http.StatusOK, "workspace", updated)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	reader, mimeType, err := s.service.OpenPreview(r.Context(), c.Value, r.PathValue("key"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "preview reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write preview failed", "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
