package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/platescan/internal/vision"
)

func TestOllamaAnalyze(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)

		resp := map[string]interface{}{
			"model":    got.Model,
			"response": `{"ingredients":["lettuce","croutons"],"recipe":["Chop","Toss"],"allergens":[]}`,
			"done":     true,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	analyzer := NewOllamaAnalyzer(server.URL, "llava")
	result, err := analyzer.Analyze(context.Background(), bytes.NewReader([]byte("fake image")), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, []string{"lettuce", "croutons"}, result.Ingredients)
	assert.Equal(t, []string{"Chop", "Toss"}, result.Recipe)
	assert.Equal(t, []string{}, result.Allergens)

	assert.Equal(t, "llava", got.Model)
	assert.False(t, got.Stream)
	assert.Len(t, got.Images, 1)
	assert.InDelta(t, 0.2, got.Options.Temperature, 0.0001)
	assert.Equal(t, "object", got.Format["type"])
}

func TestOllamaAnalyzeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	analyzer := NewOllamaAnalyzer(server.URL, "llava")
	_, err := analyzer.Analyze(context.Background(), bytes.NewReader([]byte("fake image")), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, vision.KindTransport, vision.KindOf(err))
}

func TestOllamaAnalyzeMissingField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": `{"ingredients":["x"]}`})
	}))
	defer server.Close()

	analyzer := NewOllamaAnalyzer(server.URL, "llava")
	_, err := analyzer.Analyze(context.Background(), bytes.NewReader([]byte("fake image")), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, vision.KindValidation, vision.KindOf(err))
}

func TestOllamaAnalyzeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := server.URL
	server.Close()

	analyzer := NewOllamaAnalyzer(host, "llava")
	_, err := analyzer.Analyze(context.Background(), bytes.NewReader([]byte("fake image")), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, vision.KindTransport, vision.KindOf(err))
}
