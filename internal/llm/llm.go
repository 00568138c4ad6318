package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/prompt"
)

const (
	// DefaultOpenAIBaseURL is used when no base_url is configured.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultTemperature keeps grading output close to deterministic.
	DefaultTemperature = 0.1
	// MaxTemperature is the highest temperature accepted from config.
	// Grading must stay near-deterministic.
	MaxTemperature = 0.3
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 120 * time.Second
)

// Provider is the interface for LLM providers. Complete returns the raw text
// content of the model's reply, or an *apperr.Error.
type Provider interface {
	Complete(ctx context.Context, p prompt.Prompt) (string, error)
	Name() string
	IsConfigured() bool
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	client      *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider. The key is read from
// apiKeyEnv once, here.
func NewOpenAIProvider(model, baseURL, apiKeyEnv string, temperature float64, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIProvider{
		Model:       model,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      os.Getenv(apiKeyEnv),
		Temperature: ClampTemperature(temperature),
		client:      &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider in logs.
func (o *OpenAIProvider) Name() string { return "openai:" + o.Model }

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt as a system + user message pair and asks for a
// JSON object reply.
func (o *OpenAIProvider) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	if o.APIKey == "" {
		return "", apperr.New(apperr.ProviderUnavailable, "OpenAI API key not configured")
	}

	body := chatRequest{
		Model: o.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature:    o.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", apperr.Wrap(apperr.ProviderUnavailable, err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.ProviderUnavailable, err, "OpenAI API unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.ProviderUnavailable, err, "reading OpenAI response")
	}

	var result chatResponse
	decodeErr := json.Unmarshal(respBody, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := http.StatusText(resp.StatusCode)
		if decodeErr == nil && result.Error != nil && result.Error.Message != "" {
			detail = result.Error.Message
		}
		return "", apperr.New(apperr.ProviderError, "OpenAI API error (%d): %s", resp.StatusCode, detail)
	}
	// A success status with an unreadable body carries no completion.
	if decodeErr != nil {
		return "", apperr.Wrap(apperr.EmptyResponse, decodeErr, "decoding OpenAI response")
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == nil || *result.Choices[0].Message.Content == "" {
		return "", apperr.New(apperr.EmptyResponse, "no response from OpenAI")
	}
	return *result.Choices[0].Message.Content, nil
}

// Options selects and configures a provider.
type Options struct {
	Provider          string // openai or gemini
	Model             string
	BaseURL           string
	APIKeyEnv         string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// ErrUnknownProvider is returned by CreateProvider for unsupported names.
var ErrUnknownProvider = errors.New("unknown LLM provider")

// CreateProvider creates an LLM provider based on configuration, wrapped in a
// rate limiter when opts.RequestsPerSecond is positive. An unconfigured
// provider is still returned so calls fail with ProviderUnavailable.
func CreateProvider(ctx context.Context, opts Options) (Provider, error) {
	var p Provider
	switch strings.ToLower(opts.Provider) {
	case "", "openai":
		p = NewOpenAIProvider(opts.Model, opts.BaseURL, opts.APIKeyEnv, opts.Temperature, opts.Timeout)
	case "gemini":
		g, err := NewGeminiProvider(ctx, opts.Model, opts.APIKeyEnv, opts.Temperature)
		if err != nil {
			return nil, err
		}
		p = g
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}

	if p.IsConfigured() {
		log.Printf("Using %s", p.Name())
	} else {
		log.Printf("LLM provider %s has no API key; set %s", p.Name(), opts.APIKeyEnv)
	}

	return NewRateLimited(p, opts.RequestsPerSecond, opts.Burst), nil
}

// ClampTemperature maps t into [0, MaxTemperature]; zero selects the default.
func ClampTemperature(t float64) float64 {
	switch {
	case t <= 0:
		return DefaultTemperature
	case t > MaxTemperature:
		return MaxTemperature
	default:
		return t
	}
}
