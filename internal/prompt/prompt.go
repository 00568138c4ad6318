package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/notebook"
)

// SystemMessage is sent as the system role alongside every evaluation prompt.
const SystemMessage = "You are a scientific mentor AI. Respond only with valid JSON."

const evaluationPrompt = `You are a scientific mentor AI specialized in analyzing Jupyter notebooks. Your task is to evaluate the scientific validity, physical coherence, and conceptual accuracy of the notebook content.

Analyze the following notebook (%d cells, indexed from 0) and provide structured feedback:

%s

Evaluate based on these criteria:
1. **Physical Coherence**: Are the physical laws and formulas correctly applied?
2. **Scientific Reasoning**: Is the scientific logic sound and well-explained?
3. **Conceptual Errors**: Are there any conceptual mistakes or misconceptions?

Respond with a JSON object containing:
{
  "global_evaluation": "Overall assessment of the notebook",
  "feedback_points": [
    {
      "criterion": "Criterion name",
      "cell_index": 0,
      "severity": "%s",
      "comment": "Specific feedback",
      "suggestion": "How to improve"
    }
  ],
  "final_score": "%s"
}

cell_index must be the index of the cell the feedback refers to. feedback_points may be empty.
Provide only the JSON object, no additional text.`

// Prompt is the rendered evaluation request for one document.
type Prompt struct {
	System string
	User   string
}

type serializedNotebook struct {
	Cells []serializedCell `json:"cells"`
}

type serializedCell struct {
	Index    int            `json:"index"`
	CellType string         `json:"cell_type"`
	Source   []string       `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Build renders the evaluation prompt for doc. The output depends only on doc.
func Build(doc *notebook.Document) Prompt {
	return Prompt{
		System: SystemMessage,
		User: fmt.Sprintf(evaluationPrompt,
			doc.CellCount(),
			Serialize(doc),
			joinSeverities(),
			joinGrades(),
		),
	}
}

// Serialize renders the full notebook as indented JSON. Map keys are sorted by
// encoding/json, so the result is stable.
func Serialize(doc *notebook.Document) string {
	nb := serializedNotebook{Cells: make([]serializedCell, len(doc.Cells))}
	for i, c := range doc.Cells {
		source := c.Source
		if source == nil {
			source = []string{}
		}
		nb.Cells[i] = serializedCell{
			Index:    i,
			CellType: c.Type,
			Source:   source,
			Metadata: c.Metadata,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(nb); err != nil {
		// Only reachable for metadata values encoding/json cannot represent,
		// which a parsed Document never contains.
		return fmt.Sprintf("%+v", nb)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func joinSeverities() string {
	parts := make([]string, len(feedback.Severities))
	for i, s := range feedback.Severities {
		parts[i] = string(s)
	}
	return strings.Join(parts, "|")
}

func joinGrades() string {
	parts := make([]string, len(feedback.Grades))
	for i, g := range feedback.Grades {
		parts[i] = string(g)
	}
	return strings.Join(parts, "|")
}
