// Package gemini implements vision.Analyzer on top of the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/genai"

	"github.com/vbonduro/platescan/internal/domain"
	"github.com/vbonduro/platescan/internal/vision"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

var _ vision.Analyzer = (*GeminiAnalyzer)(nil)

// NewGeminiAnalyzer creates an analyzer that authenticates with an API key
// against the Gemini Developer API.
func NewGeminiAnalyzer(ctx context.Context, apiKey, model string) (*GeminiAnalyzer, error) {
	return newGeminiAnalyzer(ctx, apiKey, model, "")
}

// newGeminiAnalyzer allows tests to point the client at a local server.
func newGeminiAnalyzer(ctx context.Context, apiKey, model, baseURL string) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, &vision.Error{Kind: vision.KindConfiguration, Op: "create gemini client", Err: errors.New("api key is required")}
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindConfiguration, Op: "create gemini client", Err: err}
	}
	return &GeminiAnalyzer{client: client, model: model}, nil
}

// responseSchema translates vision.ResultFields into Gemini's schema type.
func responseSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(vision.ResultFields))
	required := make([]string, 0, len(vision.ResultFields))
	for _, f := range vision.ResultFields {
		props[f.Name] = &genai.Schema{
			Type:        genai.TypeArray,
			Description: f.Description,
			Items:       &genai.Schema{Type: genai.TypeString},
		}
		required = append(required, f.Name)
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   required,
	}
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, r io.Reader, mimeType string) (*domain.AnalysisResult, error) {
	imageData, err := vision.ReadImage(r)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(imageData, mimeType),
			genai.NewPartFromText(vision.AnalysisPrompt),
		}, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(vision.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindTransport, Op: "call gemini", Err: fmt.Errorf("gemini API request failed: %w", err)}
	}

	return vision.ParseResult(resp.Text())
}
