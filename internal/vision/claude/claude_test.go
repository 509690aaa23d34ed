package claude

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/platescan/internal/vision"
)

// messagesServer answers every request with the given text as the first
// content block and stores the decoded request body in *captured.
func messagesServer(t *testing.T, text string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, captured)
		}
		resp := map[string]interface{}{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       DefaultModel,
			"stop_reason": "end_turn",
			"content": []map[string]interface{}{
				{"type": "text", "text": text},
			},
			"usage": map[string]int{"input_tokens": 10, "output_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClaudeAnalyze(t *testing.T) {
	var captured map[string]any
	srv := messagesServer(t, `{"ingredients":["pasta","tomato"],"recipe":["Boil pasta","Add sauce"],"allergens":["gluten"]}`, &captured)

	analyzer, err := NewClaudeAnalyzer("sk-test", DefaultModel, anthropic.WithBaseURL(srv.URL))
	require.NoError(t, err)

	image := []byte{0x89, 0x50, 0x4E, 0x47}
	result, err := analyzer.Analyze(context.Background(), bytes.NewReader(image), "image/png")
	require.NoError(t, err)
	assert.Equal(t, []string{"pasta", "tomato"}, result.Ingredients)
	assert.Equal(t, []string{"Boil pasta", "Add sauce"}, result.Recipe)
	assert.Equal(t, []string{"gluten"}, result.Allergens)

	require.NotNil(t, captured)
	assert.InDelta(t, 0.2, captured["temperature"], 0.0001)
	messages := captured["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)

	imageBlock := content[0].(map[string]any)
	assert.Equal(t, "image", imageBlock["type"])
	source := imageBlock["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/png", source["media_type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(image), source["data"])

	textBlock := content[1].(map[string]any)
	assert.Contains(t, textBlock["text"], `"required":["ingredients","recipe","allergens"]`)
}

func TestClaudeAnalyzeFencedJSON(t *testing.T) {
	srv := messagesServer(t, "```json\n{\"ingredients\":[],\"recipe\":[],\"allergens\":[]}\n```", nil)

	analyzer, err := NewClaudeAnalyzer("sk-test", DefaultModel, anthropic.WithBaseURL(srv.URL))
	require.NoError(t, err)

	result, err := analyzer.Analyze(context.Background(), bytes.NewReader([]byte{0xFF, 0xD8}), "image/jpeg")
	require.NoError(t, err)
	assert.Empty(t, result.Allergens)
}

func TestClaudeAnalyzeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad image"}}`))
	}))
	defer server.Close()

	analyzer, err := NewClaudeAnalyzer("sk-test", DefaultModel, anthropic.WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = analyzer.Analyze(context.Background(), bytes.NewReader([]byte{0xFF, 0xD8}), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, vision.KindTransport, vision.KindOf(err))
}

func TestClaudeAnalyzeReadError(t *testing.T) {
	analyzer, err := NewClaudeAnalyzer("sk-test", DefaultModel)
	require.NoError(t, err)

	_, err = analyzer.Analyze(context.Background(), &errReader{}, "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, vision.KindInput, vision.KindOf(err))
}

func TestNewClaudeAnalyzerRequiresKey(t *testing.T) {
	_, err := NewClaudeAnalyzer("", DefaultModel)
	require.Error(t, err)
	assert.Equal(t, vision.KindConfiguration, vision.KindOf(err))
}

func TestNormaliseMIME(t *testing.T) {
	assert.Equal(t, "image/webp", normaliseMIME("image/webp"))
	assert.Equal(t, "image/png", normaliseMIME("image/png"))
	assert.Equal(t, "image/jpeg", normaliseMIME("image/heic"))
}

// errReader always returns an error on Read.
type errReader struct{}

func (e *errReader) Read(_ []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
