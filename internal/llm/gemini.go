package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	genai "google.golang.org/genai"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/prompt"
)

// DefaultGeminiModel is used when the gemini provider has no model configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider is a thin wrapper around the official genai client.
type GeminiProvider struct {
	Model       string
	Temperature float64
	cli         *genai.Client
}

// NewGeminiProvider creates a Gemini provider. Without an API key the client is
// not constructed and Complete reports ProviderUnavailable.
func NewGeminiProvider(ctx context.Context, model, apiKeyEnv string, temperature float64) (*GeminiProvider, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	g := &GeminiProvider{Model: model, Temperature: ClampTemperature(temperature)}

	key := os.Getenv(apiKeyEnv)
	if key == "" {
		return g, nil
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	g.cli = cli
	return g, nil
}

func (g *GeminiProvider) Name() string { return "gemini:" + g.Model }

func (g *GeminiProvider) IsConfigured() bool { return g.cli != nil }

// Complete sends the user prompt with the system message as a system
// instruction and asks for application/json output.
func (g *GeminiProvider) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	if g.cli == nil {
		return "", apperr.New(apperr.ProviderUnavailable, "Gemini API key not configured")
	}

	temp := float32(g.Temperature)
	resp, err := g.cli.Models.GenerateContent(ctx, g.Model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: p.User}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: p.System}}},
			Temperature:       &temp,
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	return responseText(resp)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", apperr.New(apperr.EmptyResponse, "no response from Gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", apperr.New(apperr.EmptyResponse, "no response from Gemini")
	}
	return sb.String(), nil
}

// classifyGeminiError separates API status errors from transport failures.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return geminiAPIError(apiErr.Code, apiErr.Message, apiErr.Status)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return geminiAPIError(apiErrPtr.Code, apiErrPtr.Message, apiErrPtr.Status)
	}
	return apperr.Wrap(apperr.ProviderUnavailable, err, "Gemini API unreachable")
}

func geminiAPIError(code int, message, status string) error {
	detail := message
	if detail == "" {
		detail = status
	}
	if detail == "" {
		detail = http.StatusText(code)
	}
	return apperr.New(apperr.ProviderError, "Gemini API error (%d): %s", code, detail)
}
