package ai

import (
	"context"

	"saigbox-backend/internal/assistant/domain"
)

// IntentResolver turns a free-text user message into a structured intent.
// Resolution never executes anything; the interpreter validates the result
// independently.
type IntentResolver interface {
	ResolveIntent(ctx context.Context, message string) (domain.Intent, error)
}

// ProviderType selects the resolver implementation.
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderRules  ProviderType = "rules"
	ProviderAuto   ProviderType = "auto"
)
