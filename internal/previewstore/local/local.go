package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/platescan/internal/previewstore"
)

// previewExts maps each accepted image type to the extension its previews
// are stored under. The extension is how Get recovers the type.
var previewExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// ErrUnsupportedType is returned by Save for anything but PNG, JPEG or WEBP.
var ErrUnsupportedType = errors.New("unsupported preview type")

// LocalPreviewStore keeps previews as files named <prefix>_<uuid><ext>. It
// only ever reads, deletes or purges names of that form, so it can share a
// directory with unrelated files.
type LocalPreviewStore struct {
	basePath string
}

func NewLocalPreviewStore(basePath string) (*LocalPreviewStore, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create preview directory: %w", err)
	}
	return &LocalPreviewStore{basePath: basePath}, nil
}

func (s *LocalPreviewStore) Save(ctx context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	ext, ok := previewExts[mimeType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
	if prefix == "" || strings.ContainsAny(prefix, `/\.`) {
		return "", fmt.Errorf("invalid preview prefix %q", prefix)
	}
	filename := fmt.Sprintf("%s_%s%s", prefix, uuid.NewString(), ext)
	filePath := filepath.Join(s.basePath, filename)

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return filename, nil
}

func (s *LocalPreviewStore) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	filePath, err := s.safeJoin(storageKey)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", previewstore.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	mimeType, _ := previewMIME(storageKey)
	return f, mimeType, nil
}

func (s *LocalPreviewStore) Delete(ctx context.Context, storageKey string) error {
	filePath, err := s.safeJoin(storageKey)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return previewstore.ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Purge removes every preview left in the directory, typically by a previous
// process. Files whose names are not preview keys are left alone.
func (s *LocalPreviewStore) Purge(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read preview directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isPreviewKey(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// safeJoin resolves storageKey relative to basePath. Keys this store did not
// mint report previewstore.ErrNotFound; directory traversal is rejected.
func (s *LocalPreviewStore) safeJoin(storageKey string) (string, error) {
	if !isPreviewKey(storageKey) {
		return "", previewstore.ErrNotFound
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, storageKey))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

// isPreviewKey reports whether name has the form <prefix>_<uuid><ext>.
func isPreviewKey(name string) bool {
	if _, ok := previewMIME(name); !ok {
		return false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndexByte(stem, '_')
	if i <= 0 || strings.ContainsAny(stem[:i], `/\.`) {
		return false
	}
	id := stem[i+1:]
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// previewMIME returns the image type a key was saved with.
func previewMIME(name string) (string, bool) {
	ext := filepath.Ext(name)
	for mimeType, e := range previewExts {
		if e == ext {
			return mimeType, true
		}
	}
	return "", false
}
