package ai

import (
	"saigbox-backend/pkg/gemini"
)

// Config holds intent resolver configuration.
type Config struct {
	Provider ProviderType // "gemini", "rules" or "auto"

	// Gemini config
	GeminiAPIKey string

	// Ollama config
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"
}

// NewIntentResolver creates an IntentResolver based on the config. The
// returned resolver always has the rules resolver as its final fallback.
func NewIntentResolver(cfg Config) IntentResolver {
	rules := NewRulesService()

	switch cfg.Provider {
	case ProviderRules:
		return rules

	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return rules
		}
		return NewFallbackService(gemini.NewGeminiService(cfg.GeminiAPIKey), nil, rules)

	default:
		var geminiResolver IntentResolver
		if cfg.GeminiAPIKey != "" {
			geminiResolver = gemini.NewGeminiService(cfg.GeminiAPIKey)
		}
		var ollamaResolver IntentResolver
		if cfg.OllamaBaseURL != "" {
			ollamaResolver = NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)
		}
		if geminiResolver == nil && ollamaResolver == nil {
			return rules
		}
		return NewFallbackService(geminiResolver, ollamaResolver, rules)
	}
}
