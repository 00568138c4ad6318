package llm

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/basamba1990/scimentor-ai/internal/prompt"
)

// Invoker sends one evaluation prompt per call and returns the model's JSON.
type Invoker struct {
	Provider Provider
	Timeout  time.Duration
}

// NewInvoker creates an invoker bounded by timeout (DefaultTimeout if <= 0).
func NewInvoker(p Provider, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{Provider: p, Timeout: timeout}
}

// Invoke runs the request on a context detached from the caller's
// cancellation: an abandoned analysis still finishes its provider call, and
// the result is dropped by the caller. Only the timeout bounds it.
func (inv *Invoker) Invoke(ctx context.Context, p prompt.Prompt) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inv.timeout())
	defer cancel()

	start := time.Now()
	text, err := inv.Provider.Complete(callCtx, p)
	if err != nil {
		log.Printf("llm: %s failed after %s: %v", inv.Provider.Name(), time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}
	log.Printf("llm: %s replied in %s (%d bytes)", inv.Provider.Name(), time.Since(start).Round(time.Millisecond), len(text))

	return ExtractJSON(text)
}

func (inv *Invoker) timeout() time.Duration {
	if inv.Timeout <= 0 {
		return DefaultTimeout
	}
	return inv.Timeout
}
