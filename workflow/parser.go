package workflow

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/orchestral-ai/orchestral/types"
)

// Evaluation is the structured result parsed from an evaluator agent's
// raw text output.
type Evaluation struct {
	// Score is the quality score, 0-100.
	Score float64 `json:"score"`
	// Feedback is the evaluator's critique, fed to the optimizer.
	Feedback string `json:"feedback"`
}

// EvaluationParser turns free-text evaluator output into an Evaluation.
//
// Free-text extraction is inherently brittle; callers that can demand
// structured output from their provider should supply their own parser
// (for example, one that unmarshals schema-validated JSON). A parse
// failure surfaces as a types.ErrParseFailure error, never as a silent
// default score.
type EvaluationParser interface {
	Parse(raw string) (Evaluation, error)
}

// EvaluationParserFunc adapts a function to the EvaluationParser interface.
type EvaluationParserFunc func(raw string) (Evaluation, error)

func (f EvaluationParserFunc) Parse(raw string) (Evaluation, error) { return f(raw) }

var (
	scoreMarkerRe    = regexp.MustCompile(`(?im)^\s*(?:\*\*)?SCORE(?:\*\*)?\s*[:：]\s*(\d+(?:\.\d+)?)`)
	feedbackMarkerRe = regexp.MustCompile(`(?is)(?:\*\*)?FEEDBACK(?:\*\*)?\s*[:：]\s*(.+)$`)
)

// markerParser is the default EvaluationParser: regex extraction of
// SCORE:/FEEDBACK: markers from the evaluator's text.
type markerParser struct{}

// NewMarkerParser returns the default SCORE:/FEEDBACK: parser.
func NewMarkerParser() EvaluationParser { return markerParser{} }

func (markerParser) Parse(raw string) (Evaluation, error) {
	m := scoreMarkerRe.FindStringSubmatch(raw)
	if m == nil {
		return Evaluation{}, types.NewError(types.ErrParseFailure, "evaluator output has no SCORE marker")
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Evaluation{}, types.NewError(types.ErrParseFailure, "unreadable score value").WithCause(err)
	}
	if score < 0 || score > 100 {
		return Evaluation{}, types.NewError(types.ErrParseFailure, "score out of 0-100 range")
	}

	ev := Evaluation{Score: score}
	if fm := feedbackMarkerRe.FindStringSubmatch(raw); fm != nil {
		ev.Feedback = strings.TrimSpace(fm[1])
	}
	return ev, nil
}
