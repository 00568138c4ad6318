// Package feedback validates the model's JSON output against the analysis
// schema and converts it into a typed Feedback value.
package feedback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
)

// Grade is a letter grade.
type Grade string

// Grades lists every accepted final_score, best first.
var Grades = []Grade{"A+", "A", "B+", "B", "B-", "C+", "C", "C-", "D", "F"}

// Valid reports whether g is one of Grades.
func (g Grade) Valid() bool {
	for _, v := range Grades {
		if g == v {
			return true
		}
	}
	return false
}

// Severity ranks a feedback point.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Severities lists accepted severities, most severe first.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// Valid reports whether s is one of Severities.
func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}

// Rank orders severities for display: high=0, medium=1, low=2.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if s == v {
			return i
		}
	}
	return len(Severities)
}

// Point is one piece of cell-level feedback.
type Point struct {
	Criterion  string   `json:"criterion"`
	CellIndex  int      `json:"cell_index"`
	Severity   Severity `json:"severity"`
	Comment    string   `json:"comment"`
	Suggestion string   `json:"suggestion"`
}

// Feedback is the validated model output for one analysis.
type Feedback struct {
	GlobalEvaluation string  `json:"global_evaluation"`
	Points           []Point `json:"feedback_points"`
	FinalScore       Grade   `json:"final_score"`
}

// Warning flags a non-fatal inconsistency in otherwise valid feedback.
type Warning struct {
	Field   string
	Message string
}

func (w Warning) String() string {
	return w.Field + ": " + w.Message
}

// Parse validates raw against the feedback schema. cellCount is the number of
// cells in the analyzed document; cell_index values outside [0, cellCount) are
// accepted and reported as warnings. A negative cellCount disables that check.
func Parse(raw json.RawMessage, cellCount int) (*Feedback, []Warning, error) {
	var obj map[string]json.RawMessage
	if err := unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, nil, apperr.Field("$", "response is not a JSON object")
	}

	global, err := requireString(obj, "global_evaluation", "global_evaluation")
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(global) == "" {
		return nil, nil, apperr.Field("global_evaluation", "must not be empty")
	}

	score, err := requireString(obj, "final_score", "final_score")
	if err != nil {
		return nil, nil, err
	}
	grade := Grade(strings.TrimSpace(score))
	if !grade.Valid() {
		return nil, nil, apperr.Field("final_score", "%q is not a valid grade", score)
	}

	pointsRaw, ok := obj["feedback_points"]
	if !ok {
		return nil, nil, apperr.Field("feedback_points", "is required")
	}
	var items []json.RawMessage
	if err := unmarshal(pointsRaw, &items); err != nil || items == nil {
		return nil, nil, apperr.Field("feedback_points", "must be an array")
	}

	fb := &Feedback{
		GlobalEvaluation: global,
		Points:           make([]Point, 0, len(items)),
		FinalScore:       grade,
	}
	var warnings []Warning
	for i, item := range items {
		p, err := parsePoint(i, item)
		if err != nil {
			return nil, nil, err
		}
		if cellCount >= 0 && p.CellIndex >= cellCount {
			w := Warning{
				Field:   fmt.Sprintf("feedback_points[%d].cell_index", i),
				Message: fmt.Sprintf("cell %d does not exist (document has %d cells)", p.CellIndex, cellCount),
			}
			log.Printf("feedback: %s", w)
			warnings = append(warnings, w)
		}
		fb.Points = append(fb.Points, p)
	}
	return fb, warnings, nil
}

func parsePoint(i int, raw json.RawMessage) (Point, error) {
	prefix := fmt.Sprintf("feedback_points[%d]", i)
	var obj map[string]json.RawMessage
	if err := unmarshal(raw, &obj); err != nil || obj == nil {
		return Point{}, apperr.Field(prefix, "must be an object")
	}

	var p Point
	var err error
	if p.Criterion, err = requireString(obj, "criterion", prefix+".criterion"); err != nil {
		return Point{}, err
	}
	if p.Comment, err = requireString(obj, "comment", prefix+".comment"); err != nil {
		return Point{}, err
	}
	if p.Suggestion, err = requireString(obj, "suggestion", prefix+".suggestion"); err != nil {
		return Point{}, err
	}

	sev, err := requireString(obj, "severity", prefix+".severity")
	if err != nil {
		return Point{}, err
	}
	p.Severity = Severity(strings.TrimSpace(sev))
	if !p.Severity.Valid() {
		return Point{}, apperr.Field(prefix+".severity", "%q must be one of high, medium, low", sev)
	}

	idxRaw, ok := obj["cell_index"]
	if !ok {
		return Point{}, apperr.Field(prefix+".cell_index", "is required")
	}
	// json.Number also accepts quoted numbers; the schema wants a bare integer.
	trimmed := bytes.TrimSpace(idxRaw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return Point{}, apperr.Field(prefix+".cell_index", "must be an integer")
	}
	var n json.Number
	if err := unmarshal(trimmed, &n); err != nil {
		return Point{}, apperr.Field(prefix+".cell_index", "must be an integer")
	}
	idx, err := n.Int64()
	if err != nil {
		return Point{}, apperr.Field(prefix+".cell_index", "%s is not an integer", n)
	}
	if idx < 0 {
		return Point{}, apperr.Field(prefix+".cell_index", "must be >= 0, got %d", idx)
	}
	p.CellIndex = int(idx)
	return p, nil
}

func requireString(obj map[string]json.RawMessage, key, field string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", apperr.Field(field, "is required")
	}
	var s string
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", apperr.Field(field, "must be a string, got null")
	}
	if err := unmarshal(raw, &s); err != nil {
		return "", apperr.Field(field, "must be a string")
	}
	return s, nil
}

func unmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
