package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"saigbox-backend/internal/assistant/domain"
)

// GeminiService resolves free-text commands into structured intents via the
// Gemini generateContent API.
type GeminiService struct {
	ApiKey string
}

func NewGeminiService(apiKey string) *GeminiService {
	return &GeminiService{ApiKey: apiKey}
}

const intentPrompt = `You are the command parser of an email client. Convert the user's message into EXACTLY ONE JSON object describing an intent.

TODAY: %s

Supported intent names and their parameters:
- "search": {"filter": {"sender", "unread", "starred", "query", "in_trash"}}
- "markRead" / "markUnread" / "star": {"email_id"} or {"filter": {...}}
- "moveToTrash" / "restore": {"email_id"} or {"filter": {...}}
- "compose": {"to": ["addr"], "subject", "body"}
- "reply": {"email_id", "body"}
- "createActionItem": {"title", "due_date" (RFC3339, optional), "priority" (low/medium/high/urgent, optional), "email_id" (optional)}
- "completeActionItem": {"action_item_id"}
- "createHuddle": {"huddle_name", "members": ["addr"]}

RULES:
1. Output ONLY the JSON object, no other text.
2. Never invent an email address, subject, body or id the user did not give. Omit missing fields instead.
3. If the message fits none of the intents, use {"name": "search", "filter": {"query": "<the message>"}}.

USER MESSAGE:
%s

JSON:`

// ResolveIntent implements ai.IntentResolver.
func (g *GeminiService) ResolveIntent(ctx context.Context, message string) (domain.Intent, error) {
	url := "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent?key=" + g.ApiKey

	prompt := fmt.Sprintf(intentPrompt, time.Now().Format("2006-01-02"), message)

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature":      0.1,
			"responseMimeType": "application/json",
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return domain.Intent{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Intent{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return domain.Intent{}, fmt.Errorf("Gemini API error: %s", string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.Intent{}, err
	}

	text, ok := extractText(result)
	if !ok {
		return domain.Intent{}, fmt.Errorf("no intent returned")
	}

	return parseIntentJSON(text)
}

func extractText(result map[string]interface{}) (string, bool) {
	if c, ok := result["candidates"].([]interface{}); ok && len(c) > 0 {
		if cand, ok := c[0].(map[string]interface{}); ok {
			if content, ok := cand["content"].(map[string]interface{}); ok {
				if parts, ok := content["parts"].([]interface{}); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]interface{}); ok {
						if text, ok := part["text"].(string); ok {
							return text, true
						}
					}
				}
			}
		}
	}
	return "", false
}

// parseIntentJSON unmarshals the model output, tolerating markdown fences
// and surrounding prose.
func parseIntentJSON(text string) (domain.Intent, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return domain.Intent{}, fmt.Errorf("no JSON object in model output")
	}

	var intent domain.Intent
	if err := json.Unmarshal([]byte(text[start:end+1]), &intent); err != nil {
		return domain.Intent{}, fmt.Errorf("failed to parse intent JSON: %w", err)
	}
	if intent.Name == "" {
		return domain.Intent{}, fmt.Errorf("model output has no intent name")
	}
	return intent, nil
}
