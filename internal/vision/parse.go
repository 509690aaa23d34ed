package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vbonduro/platescan/internal/domain"
)

// rawResult keeps each field undecoded so a missing or null field can be told
// apart from an empty array, and element types are not enforced.
type rawResult struct {
	Ingredients json.RawMessage `json:"ingredients"`
	Recipe      json.RawMessage `json:"recipe"`
	Allergens   json.RawMessage `json:"allergens"`
}

// ParseResult decodes the model's JSON text and checks that all three
// required fields are present. Only presence is validated: strings pass
// through unchanged, other elements keep their JSON text and a lone value
// counts as a one-item list.
func ParseResult(raw string) (*domain.AnalysisResult, error) {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, &Error{Kind: KindParse, Op: "parse response", Err: errors.New("empty response")}
	}

	var r rawResult
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, &Error{Kind: KindParse, Op: "parse response", Err: err}
	}

	var missing []string
	for _, f := range []struct {
		name string
		raw  json.RawMessage
	}{
		{"ingredients", r.Ingredients},
		{"recipe", r.Recipe},
		{"allergens", r.Allergens},
	} {
		if isAbsent(f.raw) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{
			Kind: KindValidation,
			Op:   "parse response",
			Err:  fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")),
		}
	}

	result := &domain.AnalysisResult{}
	for _, f := range []struct {
		raw json.RawMessage
		dst *[]string
	}{
		{r.Ingredients, &result.Ingredients},
		{r.Recipe, &result.Recipe},
		{r.Allergens, &result.Allergens},
	} {
		items, err := toStrings(f.raw)
		if err != nil {
			return nil, &Error{Kind: KindParse, Op: "parse response", Err: err}
		}
		*f.dst = items
	}
	return result, nil
}

func isAbsent(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v == "" || v == "null"
}

// toStrings turns a field into display strings without judging its shape.
func toStrings(raw json.RawMessage) ([]string, error) {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		var single any
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, err
		}
		items = []any{single}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := itemText(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func itemText(item any) (string, error) {
	if s, ok := item.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// stripFence removes a surrounding ```json ... ``` block, which some models add
// even when asked for bare JSON.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
