package ai

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

// OllamaService resolves intents through a local Ollama LLM.
type OllamaService struct {
	baseURL string
	model   string
}

// NewOllamaService creates an Ollama resolver.
func NewOllamaService(baseURL, model string) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaService{baseURL: baseURL, model: model}
}

const ollamaIntentPrompt = `You are the command parser of an email client. Convert the user's message into EXACTLY ONE JSON object describing an intent.

TODAY: %s

Intent names: search, markRead, markUnread, star, moveToTrash, restore, compose, reply, createActionItem, completeActionItem, createHuddle.
Parameters: email_id, filter {sender, unread, starred, query, in_trash}, to, subject, body, title, due_date (RFC3339), priority, action_item_id, huddle_name, members.

Output ONLY the JSON object. Never invent addresses, ids or text the user did not give; omit missing fields.

USER MESSAGE:
%s

JSON:`

// ResolveIntent implements IntentResolver.
func (o *OllamaService) ResolveIntent(ctx context.Context, message string) (domain.Intent, error) {
	url := o.baseURL + "/api/generate"

	prompt := fmt.Sprintf(ollamaIntentPrompt, time.Now().Format("2006-01-02"), message)

	payload := map[string]interface{}{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": 0.1,
			"num_predict": 300,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return domain.Intent{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Intent{}, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.Intent{}, fmt.Errorf("failed to parse response: %w", err)
	}

	return parseIntentJSON(result.Response)
}

// parseIntentJSON unmarshals model output, tolerating markdown fences and
// surrounding prose.
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
