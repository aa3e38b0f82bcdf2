package ai

import (
	"context"
	"testing"

	"saigbox-backend/internal/assistant/domain"
)

func TestResolveIntentKeywordRouting(t *testing.T) {
	r := NewRulesService()

	tests := []struct {
		message string
		want    domain.IntentName
	}{
		{"mark all emails from newsletter@shop.com as read", domain.IntentMarkRead},
		{"mark the message from bob as unread", domain.IntentMarkUnread},
		{"star the email from alice@example.com", domain.IntentStar},
		{"trash everything from spam@junk.io", domain.IntentMoveToTrash},
		{"delete the emails from noreply", domain.IntentMoveToTrash},
		{"restore the email from alice", domain.IntentRestore},
		{"reply saying I will be there", domain.IntentReply},
		{"send an email to bob@example.com about \"budget\" saying see attached", domain.IntentCompose},
		{"compose a message to carol@example.com", domain.IntentCompose},
		{"remind me to file the expense report", domain.IntentCreateActionItem},
		{"create a task \"renew domain\"", domain.IntentCreateActionItem},
		{"complete the task about invoices", domain.IntentCompleteActionItem},
		{"make a huddle \"launch prep\" with dave@example.com", domain.IntentCreateHuddle},
		{"anything about the offsite next month", domain.IntentSearch},
	}

	for _, tt := range tests {
		intent, err := r.ResolveIntent(context.Background(), tt.message)
		if err != nil {
			t.Errorf("ResolveIntent(%q): %v", tt.message, err)
			continue
		}
		if intent.Name != tt.want {
			t.Errorf("ResolveIntent(%q) = %s, want %s", tt.message, intent.Name, tt.want)
		}
	}
}

func TestResolveIntentExtractsSenderFilter(t *testing.T) {
	r := NewRulesService()

	intent, err := r.ResolveIntent(context.Background(), "mark all emails from newsletter@shop.com as read")
	if err != nil {
		t.Fatalf("ResolveIntent: %v", err)
	}
	if intent.Filter == nil || intent.Filter.Sender != "newsletter@shop.com" {
		t.Errorf("filter = %+v, want sender newsletter@shop.com", intent.Filter)
	}
}

func TestResolveIntentLeavesMissingTargetEmpty(t *testing.T) {
	r := NewRulesService()

	// No sender and no filterable clause: the resolver must not invent a
	// target; the interpreter rejects the incomplete intent downstream.
	intent, err := r.ResolveIntent(context.Background(), "trash it")
	if err != nil {
		t.Fatalf("ResolveIntent: %v", err)
	}
	if intent.Name != domain.IntentMoveToTrash {
		t.Fatalf("name = %s, want moveToTrash", intent.Name)
	}
	if intent.EmailID != "" || intent.Filter != nil {
		t.Errorf("intent has an invented target: %+v", intent)
	}
}

func TestResolveIntentRestoreFilterInTrash(t *testing.T) {
	r := NewRulesService()

	intent, err := r.ResolveIntent(context.Background(), "restore the emails from alice@example.com")
	if err != nil {
		t.Fatalf("ResolveIntent: %v", err)
	}
	if intent.Filter == nil || !intent.Filter.InTrash {
		t.Errorf("restore filter = %+v, want InTrash set", intent.Filter)
	}
}

func TestResolveIntentComposeFields(t *testing.T) {
	r := NewRulesService()

	intent, err := r.ResolveIntent(context.Background(),
		`send an email to bob@example.com about "Budget review" saying numbers look fine`)
	if err != nil {
		t.Fatalf("ResolveIntent: %v", err)
	}
	if len(intent.To) != 1 || intent.To[0] != "bob@example.com" {
		t.Errorf("to = %v", intent.To)
	}
	if intent.Subject != "Budget review" {
		t.Errorf("subject = %q", intent.Subject)
	}
	if intent.Body != "numbers look fine" {
		t.Errorf("body = %q", intent.Body)
	}
}

func TestResolveIntentDefaultsToSearch(t *testing.T) {
	r := NewRulesService()

	intent, err := r.ResolveIntent(context.Background(), "flight confirmation for next tuesday")
	if err != nil {
		t.Fatalf("ResolveIntent: %v", err)
	}
	if intent.Name != domain.IntentSearch {
		t.Fatalf("name = %s, want search", intent.Name)
	}
	if intent.Filter == nil || intent.Filter.Query != "flight confirmation for next tuesday" {
		t.Errorf("filter = %+v, want the full message as query", intent.Filter)
	}
}
