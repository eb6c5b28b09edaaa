package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/services/parser"
)

// NewParser returns the parser implementation for a parse method. "manual"
// needs no credentials; "claude" and "gemini" fail fast when the provider
// cannot be initialized so the sheet records a clear failure reason.
func NewParser(ctx context.Context, cfg *common.LLMConfig, method string, headers parser.HeaderMap, logger arbor.ILogger) (parser.Parser, error) {
	switch method {
	case "", "manual":
		return parser.NewManualParser(headers, logger), nil

	case "claude":
		provider, err := NewClaudeProvider(&cfg.Claude, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude provider: %w", err)
		}
		return NewExtractor(provider, cfg.RequestsPerMinute, logger), nil

	case "gemini":
		provider, err := NewGeminiProvider(ctx, &cfg.Gemini, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		return NewExtractor(provider, cfg.RequestsPerMinute, logger), nil

	default:
		return nil, fmt.Errorf("unsupported parse method: %s", method)
	}
}
