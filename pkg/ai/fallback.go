package ai

import (
	"context"
	"log"
	"net"
	"strings"

	"saigbox-backend/internal/assistant/domain"
)

// FallbackService routes intent resolution across providers:
// Gemini first (best quality), Ollama on quota or connection failure, and
// the deterministic rules resolver when no LLM answers. The rules resolver
// never fails, so resolution as a whole never fails.
type FallbackService struct {
	gemini IntentResolver
	ollama IntentResolver
	rules  *RulesService
}

// NewFallbackService creates the routing resolver. gemini and ollama may be
// nil; rules must not be.
func NewFallbackService(gemini, ollama IntentResolver, rules *RulesService) *FallbackService {
	return &FallbackService{gemini: gemini, ollama: ollama, rules: rules}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// ResolveIntent implements IntentResolver.
func (f *FallbackService) ResolveIntent(ctx context.Context, message string) (domain.Intent, error) {
	if f.gemini != nil {
		intent, err := f.gemini.ResolveIntent(ctx, message)
		if err == nil {
			return intent, nil
		}
		if isQuotaError(err) {
			log.Printf("[AI] Gemini quota exhausted: %v, falling back", err)
		} else {
			log.Printf("[AI] Gemini error: %v, falling back", err)
		}
	}

	if f.ollama != nil {
		intent, err := f.ollama.ResolveIntent(ctx, message)
		if err == nil {
			return intent, nil
		}
		if isConnectionError(err) {
			log.Printf("[AI] Ollama unreachable: %v, falling back to rules", err)
		} else {
			log.Printf("[AI] Ollama error: %v, falling back to rules", err)
		}
	}

	return f.rules.ResolveIntent(ctx, message)
}
