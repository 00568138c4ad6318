package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	genai "google.golang.org/genai"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
)

func TestClassifyGeminiAPIError(t *testing.T) {
	err := classifyGeminiError(genai.APIError{Code: 429, Message: "You exceeded your current quota", Status: "RESOURCE_EXHAUSTED"})
	assert.ErrorIs(t, err, apperr.ProviderError)
	assert.Contains(t, err.Error(), "(429): You exceeded your current quota")
}

func TestClassifyGeminiAPIErrorPointer(t *testing.T) {
	wrapped := fmt.Errorf("generate: %w", &genai.APIError{Code: 500, Status: "INTERNAL"})
	err := classifyGeminiError(wrapped)
	assert.ErrorIs(t, err, apperr.ProviderError)
	assert.Contains(t, err.Error(), "(500): INTERNAL")
}

func TestClassifyGeminiTransportError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := classifyGeminiError(cause)
	assert.ErrorIs(t, err, apperr.ProviderUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestGeminiAPIErrorDetailFallbacks(t *testing.T) {
	tests := []struct {
		code    int
		message string
		status  string
		want    string
	}{
		{400, "Invalid JSON payload", "INVALID_ARGUMENT", "(400): Invalid JSON payload"},
		{403, "", "PERMISSION_DENIED", "(403): PERMISSION_DENIED"},
		{503, "", "", "(503): Service Unavailable"},
	}
	for _, tt := range tests {
		err := geminiAPIError(tt.code, tt.message, tt.status)
		assert.ErrorIs(t, err, apperr.ProviderError)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: `{"a":`}, nil, {Text: `1}`}}},
	}}}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestResponseTextEmpty(t *testing.T) {
	tests := map[string]*genai.GenerateContentResponse{
		"nil response":  nil,
		"no candidates": {},
		"nil content":   {Candidates: []*genai.Candidate{{}}},
		"no parts":      {Candidates: []*genai.Candidate{{Content: &genai.Content{}}}},
		"blank parts":   {Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: ""}}}}}},
	}
	for name, resp := range tests {
		_, err := responseText(resp)
		assert.ErrorIs(t, err, apperr.EmptyResponse, name)
	}
}

func TestGeminiCompleteWithoutKey(t *testing.T) {
	t.Setenv("SCIMENTOR_TEST_GEMINI_KEY", "")
	g, err := NewGeminiProvider(context.Background(), "", "SCIMENTOR_TEST_GEMINI_KEY", 0.9)
	require.NoError(t, err)
	assert.False(t, g.IsConfigured())
	assert.Equal(t, "gemini:"+DefaultGeminiModel, g.Name())
	assert.Equal(t, MaxTemperature, g.Temperature)

	_, err = g.Complete(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.ProviderUnavailable)
}
