package llm

import (
	"encoding/json"
	"strings"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
)

// ExtractJSON returns the JSON value in an LLM reply, handling markdown code
// blocks. Text that is not valid JSON yields MalformedJSON.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.EmptyResponse, "model returned no content")
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		if endIdx <= 1 {
			text = ""
		} else {
			text = strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
		}
	}

	if !json.Valid([]byte(text)) {
		return nil, apperr.New(apperr.MalformedJSON, "model reply is not valid JSON: %s", snippet(text))
	}
	return json.RawMessage(text), nil
}

func snippet(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
