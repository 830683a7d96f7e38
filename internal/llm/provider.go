// Package llm asks a hosted language model whether page content is
// consistent with the agent's stated intent. The provider sits behind a
// single-method interface so the core stays deterministic once a response
// is fixed; tests interpose a scripted completer.
package llm

import (
	"context"
	"errors"
)

// Provider error classes. Their messages double as LayerReport error
// details so callers can distinguish timeout, auth, and malformed-response
// failures without unwrapping.
var (
	ErrProviderTimeout   = errors.New("ProviderTimeout")
	ErrProviderMalformed = errors.New("ProviderMalformedResponse")
	ErrProviderAuth      = errors.New("ProviderAuthError")
)

// Completer is the single-method contract with the hosted model. Complete
// blocks until the model answers, the context is done, or the provider
// fails.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
