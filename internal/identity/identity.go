// Package identity resolves the owner of a request. Authentication itself
// happens upstream; this package only reads the result.
package identity

import (
	"net/http"
	"strings"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
)

// DefaultHeader carries the authenticated user id set by the auth proxy.
const DefaultHeader = "X-User-ID"

// Provider returns the owner id for an HTTP request.
type Provider interface {
	OwnerID(r *http.Request) (string, error)
}

// HeaderProvider trusts a header set by an upstream authenticating proxy.
type HeaderProvider struct {
	Header string
}

func NewHeaderProvider(header string) HeaderProvider {
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}
	return HeaderProvider{Header: header}
}

func (h HeaderProvider) OwnerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(h.Header))
	if id == "" {
		return "", apperr.New(apperr.Unauthenticated, "missing %s header", h.Header)
	}
	return id, nil
}

// Static always returns the same owner. Used by the CLI and TUI, where the
// owner is passed as a flag.
type Static string

func (s Static) OwnerID(*http.Request) (string, error) {
	id := strings.TrimSpace(string(s))
	if id == "" {
		return "", apperr.New(apperr.Unauthenticated, "no owner configured")
	}
	return id, nil
}
