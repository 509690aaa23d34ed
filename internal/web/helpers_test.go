package web_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vbonduro/platescan/internal/db"
	"github.com/vbonduro/platescan/internal/domain"
	"github.com/vbonduro/platescan/internal/previewstore/local"
	"github.com/vbonduro/platescan/internal/service"
	"github.com/vbonduro/platescan/internal/store"
	"github.com/vbonduro/platescan/internal/web"
	"github.com/vbonduro/platescan/internal/web/templates"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

var minimalPNG = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...)

var previewPattern = regexp.MustCompile(`/preview/([A-Za-z0-9_.-]+)`)

// stubVision records the image bytes it receives and returns a configured
// result or error. When gate is non-nil each call blocks until it is closed.
type stubVision struct {
	mu        sync.Mutex
	result    *domain.AnalysisResult
	err       error
	gate      chan struct{}
	calls     int
	lastBytes []byte
}

func (s *stubVision) Analyze(ctx context.Context, r io.Reader, _ string) (*domain.AnalysisResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls++
	s.lastBytes = data
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func (s *stubVision) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubVision) LastBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBytes
}

type testApp struct {
	srv    *httptest.Server
	svc    *service.AnalysisService
	client *http.Client
}

// newTestApp wires a real server over in-memory SQLite, a temp-dir preview
// store and the given vision stub. The client keeps cookies and does not
// follow redirects.
func newTestApp(t *testing.T, vis *stubVision, maxImageBytes int64) *testApp {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	previews, err := local.NewLocalPreviewStore(t.TempDir())
	require.NoError(t, err)

	svc := service.NewAnalysisService(store.NewSessionStore(database), vis, previews, slog.Default())
	srv := httptest.NewServer(web.NewServer(svc, templates.FS, slog.Default(), maxImageBytes))

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	t.Cleanup(func() {
		srv.Close()
		svc.Wait()
		_ = database.Close()
	})
	return &testApp{srv: srv, svc: svc, client: client}
}

// do sends req and returns the status code and body.
func (a *testApp) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (a *testApp) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, a.srv.URL+path, nil)
	require.NoError(t, err)
	return a.do(t, req)
}

// htmxPost sends a POST the way htmx does, with the HX-Request header.
func (a *testApp) htmxPost(t *testing.T, path, contentType string, body io.Reader) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("HX-Request", "true")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return a.do(t, req)
}

func (a *testApp) uploadImage(t *testing.T, imageData []byte) (*http.Response, string) {
	t.Helper()
	body, contentType := buildMultipartBody(t, imageData)
	return a.htmxPost(t, "/image", contentType, body)
}

// buildMultipartBody creates a multipart/form-data body with an "image" field.
func buildMultipartBody(t *testing.T, imageData []byte) (body *bytes.Buffer, contentType string) {
	t.Helper()
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write(imageData)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func previewKey(t *testing.T, fragment string) string {
	t.Helper()
	m := previewPattern.FindStringSubmatch(fragment)
	require.NotNil(t, m, "no preview URL in:\n%s", fragment)
	return m[1]
}
