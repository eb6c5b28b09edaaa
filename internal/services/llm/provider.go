package llm

import (
	"context"
)

// ChatProvider is the minimal completion surface the extractor needs from an
// LLM backend.
type ChatProvider interface {
	// Complete sends one system+user exchange and returns the assistant text.
	Complete(ctx context.Context, system, user string) (string, error)
	// Name identifies the provider in logs and parse_method values.
	Name() string
}
