package domain

import "time"

// AnalysisResult is the structured breakdown of a dish returned by the vision model.
type AnalysisResult struct {
	Ingredients []string `json:"ingredients"`
	Recipe      []string `json:"recipe"`
	Allergens   []string `json:"allergens"`
}

// State is the position of a session in the Idle -> Loading -> Success/Failure cycle.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// Session is the per-browser UI state. Seq is bumped on every image selection
// and trigger; an analysis completion only applies while it still carries the
// current value.
type Session struct {
	ID         string
	PreviewKey string
	MimeType   string
	ImageBytes int64
	Result     *AnalysisResult
	Error      string
	ErrorKind  string
	IsLoading  bool
	Seq        int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasImage reports whether an image has been selected.
func (s *Session) HasImage() bool {
	return s.PreviewKey != ""
}

func (s *Session) State() State {
	switch {
	case s.IsLoading:
		return StateLoading
	case s.Error != "":
		return StateFailure
	case s.Result != nil:
		return StateSuccess
	default:
		return StateIdle
	}
}

// CanAnalyze reports whether the trigger should be enabled.
func (s *Session) CanAnalyze() bool {
	return s.HasImage() && !s.IsLoading
}
