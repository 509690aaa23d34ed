package vision

import (
	"context"
	"io"

	"github.com/vbonduro/platescan/internal/domain"
)

// AnalysisPrompt is the shared instruction sent alongside the image by all adapters.
const AnalysisPrompt = `Analyze this photo of a dish. Provide a list of the likely ingredients,
a step-by-step recipe to prepare it, and a list of common allergens it may contain.
Respond only in JSON.`

// Temperature is the sampling temperature used by every adapter. It is kept
// low so the model sticks to the structured output.
const Temperature float32 = 0.2

// Analyzer sends one image to a vision model and returns the parsed result.
type Analyzer interface {
	Analyze(ctx context.Context, r io.Reader, mimeType string) (*domain.AnalysisResult, error)
}

// Field describes one required string-array property of the response schema.
type Field struct {
	Name        string
	Description string
}

// ResultFields lists the properties of the response object, in schema order.
// All of them are required.
var ResultFields = []Field{
	{Name: "ingredients", Description: "List of the likely ingredients in the dish."},
	{Name: "recipe", Description: "Detailed steps to prepare the dish."},
	{Name: "allergens", Description: "List of possible common allergens (e.g. gluten, dairy, nuts)."},
}

// JSONSchema renders ResultFields as a JSON Schema object, for backends that
// accept a plain schema document.
func JSONSchema() map[string]any {
	props := make(map[string]any, len(ResultFields))
	required := make([]string, 0, len(ResultFields))
	for _, f := range ResultFields {
		props[f.Name] = map[string]any{
			"type":        "array",
			"description": f.Description,
			"items":       map[string]any{"type": "string"},
		}
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
