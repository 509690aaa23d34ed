package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/platescan/internal/domain"
	"github.com/vbonduro/platescan/internal/vision"
)

// DefaultModel is the Claude model used when none is configured.
const DefaultModel = "claude-sonnet-4-5"

// maxTokens bounds the reply.
const maxTokens = 2048

type ClaudeAnalyzer struct {
	client *anthropic.Client
	model  string
}

var _ vision.Analyzer = (*ClaudeAnalyzer)(nil)

func NewClaudeAnalyzer(apiKey, model string, opts ...anthropic.ClientOption) (*ClaudeAnalyzer, error) {
	if apiKey == "" {
		return nil, &vision.Error{Kind: vision.KindConfiguration, Op: "create claude client", Err: errors.New("api key is required")}
	}
	if model == "" {
		model = DefaultModel
	}
	return &ClaudeAnalyzer{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}, nil
}

// prompt appends the response schema to the shared instruction. The Messages
// API has no structured-output switch, so the schema travels as text.
func prompt() (string, error) {
	schema, err := json.Marshal(vision.JSONSchema())
	if err != nil {
		return "", err
	}
	return vision.AnalysisPrompt + "\nThe JSON must match this schema:\n" + string(schema), nil
}

// buildRequest constructs the Messages API payload for a vision request.
func (a *ClaudeAnalyzer) buildRequest(img *vision.EncodedImage) (anthropic.MessagesRequest, error) {
	text, err := prompt()
	if err != nil {
		return anthropic.MessagesRequest{}, fmt.Errorf("failed to render schema: %w", err)
	}
	temperature := vision.Temperature
	return anthropic.MessagesRequest{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(img.MimeType),
					img.Data,
				)),
				anthropic.NewTextMessageContent(text),
			},
		}},
	}, nil
}

func (a *ClaudeAnalyzer) Analyze(ctx context.Context, r io.Reader, mimeType string) (*domain.AnalysisResult, error) {
	img, err := vision.EncodeImage(r, mimeType)
	if err != nil {
		return nil, err
	}

	req, err := a.buildRequest(img)
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindInput, Op: "build claude request", Err: err}
	}

	resp, err := a.client.CreateMessages(ctx, req)
	if err != nil {
		return nil, &vision.Error{Kind: vision.KindTransport, Op: "call claude", Err: err}
	}

	return vision.ParseResult(resp.GetFirstContentText())
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
// Uploads are sniffed before reaching this layer, so anything unexpected is
// coerced to jpeg.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
