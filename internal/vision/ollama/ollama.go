package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/platescan/internal/domain"
	"github.com/vbonduro/platescan/internal/vision"
)

type OllamaAnalyzer struct {
	host   string
	model  string
	client *http.Client
}

var _ vision.Analyzer = (*OllamaAnalyzer)(nil)

func NewOllamaAnalyzer(host, model string) *OllamaAnalyzer {
	return &OllamaAnalyzer{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Stream  bool           `json:"stream"`
	Format  map[string]any `json:"format"`
	Options options        `json:"options"`
}

type options struct {
	Temperature float32 `json:"temperature"`
}

func (a *OllamaAnalyzer) Analyze(ctx context.Context, r io.Reader, mimeType string) (*domain.AnalysisResult, error) {
	img, err := vision.EncodeImage(r, mimeType)
	if err != nil {
		return nil, err
	}

	// Ollama constrains the output to the schema passed as format.
	payload, err := json.Marshal(generateRequest{
		Model:   a.model,
		Prompt:  vision.AnalysisPrompt,
		Images:  []string{img.Data},
		Stream:  false,
		Format:  vision.JSONSchema(),
		Options: options{Temperature: vision.Temperature},
	})
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindInput, Op: "marshal ollama request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindConfiguration, Op: "create ollama request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindTransport, Op: "call ollama", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &vision.Error{
			Kind: vision.KindTransport,
			Op:   "call ollama",
			Err:  fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errBody),
		}
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, &vision.Error{Kind: vision.KindTransport, Op: "decode ollama response", Err: err}
	}

	return vision.ParseResult(respBody.Response)
}
