package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/prompt"
)

var testPrompt = prompt.Prompt{System: prompt.SystemMessage, User: "grade this"}

func TestExtractJSONPlain(t *testing.T) {
	raw, err := ExtractJSON(`{"key": "value", "num": 42}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key": "value", "num": 42}`, string(raw))
}

func TestExtractJSONWithCodeFence(t *testing.T) {
	raw, err := ExtractJSON("```json\n{\"key\": \"value\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key": "value"}`, string(raw))
}

func TestExtractJSONWithPlainFence(t *testing.T) {
	raw, err := ExtractJSON("```\n{\"key\": \"value\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key": "value"}`, string(raw))
}

func TestExtractJSONInvalid(t *testing.T) {
	_, err := ExtractJSON("not json at all")
	assert.ErrorIs(t, err, apperr.MalformedJSON)

	_, err = ExtractJSON("```json\n```")
	assert.ErrorIs(t, err, apperr.MalformedJSON)
}

func TestExtractJSONEmpty(t *testing.T) {
	_, err := ExtractJSON("  \n ")
	assert.ErrorIs(t, err, apperr.EmptyResponse)
}

func TestExtractJSONWhitespace(t *testing.T) {
	raw, err := ExtractJSON("  \n  {\"key\": \"value\"}  \n  ")
	require.NoError(t, err)
	assert.Equal(t, `{"key": "value"}`, string(raw))
}

func newOpenAI(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	t.Setenv("SCIMENTOR_TEST_OPENAI_KEY", "sk-test")
	return NewOpenAIProvider("gpt-4o-mini", url, "SCIMENTOR_TEST_OPENAI_KEY", 0.1, 5*time.Second)
}

func TestOpenAICompleteSendsJSONModeRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.InDelta(t, 0.1, req.Temperature, 1e-9)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, prompt.SystemMessage, req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "grade this", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"final_score\":\"A\"}"}}]}`))
	}))
	defer srv.Close()

	text, err := newOpenAI(t, srv.URL).Complete(context.Background(), testPrompt)
	require.NoError(t, err)
	assert.Equal(t, `{"final_score":"A"}`, text)
}

func TestOpenAICompleteErrorMessageFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	_, err := newOpenAI(t, srv.URL).Complete(context.Background(), testPrompt)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ProviderError)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Contains(t, err.Error(), "500")
}

func TestOpenAICompleteErrorFallsBackToStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	_, err := newOpenAI(t, srv.URL).Complete(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.ProviderError)
	assert.Contains(t, err.Error(), "Bad Gateway")
}

func TestOpenAICompleteEmptyResponse(t *testing.T) {
	for name, body := range map[string]string{
		"no choices":    `{"choices":[]}`,
		"null content":  `{"choices":[{"message":{"content":null}}]}`,
		"empty content": `{"choices":[{"message":{"content":""}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newOpenAI(t, srv.URL).Complete(context.Background(), testPrompt)
			assert.ErrorIs(t, err, apperr.EmptyResponse)
		})
	}
}

func TestOpenAICompleteNonJSONSuccessIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html>captive portal</html>`))
	}))
	defer srv.Close()

	_, err := newOpenAI(t, srv.URL).Complete(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.EmptyResponse)
	assert.NotErrorIs(t, err, apperr.ProviderError)
}

func TestOpenAICompleteMissingKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	t.Setenv("SCIMENTOR_TEST_EMPTY_KEY", "")
	p := NewOpenAIProvider("gpt-4o-mini", srv.URL, "SCIMENTOR_TEST_EMPTY_KEY", 0.1, time.Second)
	assert.False(t, p.IsConfigured())

	_, err := p.Complete(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.ProviderUnavailable)
	assert.Zero(t, calls.Load())
}

func TestOpenAICompleteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newOpenAI(t, url).Complete(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.ProviderUnavailable)
}

type mockProvider struct {
	response string
	err      error
	sawErr   error
	calls    int
}

func (m *mockProvider) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	m.calls++
	m.sawErr = ctx.Err()
	return m.response, m.err
}

func (m *mockProvider) Name() string       { return "mock" }
func (m *mockProvider) IsConfigured() bool { return true }

func TestInvokeIgnoresCallerCancellation(t *testing.T) {
	mock := &mockProvider{response: "```json\n{\"ok\": true}\n```"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw, err := NewInvoker(mock, time.Second).Invoke(ctx, testPrompt)
	require.NoError(t, err)
	assert.NoError(t, mock.sawErr)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
}

func TestInvokeMalformedJSON(t *testing.T) {
	mock := &mockProvider{response: "Here is my review: great job"}
	_, err := NewInvoker(mock, time.Second).Invoke(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.MalformedJSON)
	assert.Equal(t, 1, mock.calls)
}

func TestInvokePassesProviderErrors(t *testing.T) {
	mock := &mockProvider{err: apperr.New(apperr.ProviderError, "boom")}
	_, err := NewInvoker(mock, 0).Invoke(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.ProviderError)
}

func TestNewRateLimited(t *testing.T) {
	mock := &mockProvider{response: "{}"}
	assert.Same(t, Provider(mock), NewRateLimited(mock, 0, 1))

	limited := NewRateLimited(mock, 100, 0)
	require.IsType(t, &RateLimited{}, limited)
	_, err := limited.Complete(context.Background(), testPrompt)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.calls)
	assert.Equal(t, "mock", limited.Name())
}

func TestClampTemperature(t *testing.T) {
	assert.Equal(t, DefaultTemperature, ClampTemperature(0))
	assert.Equal(t, 0.2, ClampTemperature(0.2))
	assert.Equal(t, MaxTemperature, ClampTemperature(0.9))
}

func TestCreateProvider(t *testing.T) {
	t.Setenv("SCIMENTOR_TEST_EMPTY_KEY", "")

	_, err := CreateProvider(context.Background(), Options{Provider: "ollama"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	p, err := CreateProvider(context.Background(), Options{Provider: "gemini", APIKeyEnv: "SCIMENTOR_TEST_EMPTY_KEY"})
	require.NoError(t, err)
	assert.False(t, p.IsConfigured())
	assert.Equal(t, "gemini:"+DefaultGeminiModel, p.Name())
	_, err = p.Complete(context.Background(), testPrompt)
	assert.ErrorIs(t, err, apperr.ProviderUnavailable)

	p, err = CreateProvider(context.Background(), Options{Provider: "OpenAI", Model: "gpt-4o-mini", APIKeyEnv: "SCIMENTOR_TEST_EMPTY_KEY", RequestsPerSecond: 2})
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, p)
}
