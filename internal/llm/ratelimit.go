package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/prompt"
)

// RateLimited throttles calls to the wrapped provider with a token bucket
// shared by every caller in the process.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p. A non-positive rps disables throttling and returns p
// unchanged.
func NewRateLimited(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for a token, then delegates.
func (r *RateLimited) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", apperr.Wrap(apperr.ProviderUnavailable, err, "rate limit wait")
	}
	return r.Provider.Complete(ctx, p)
}
