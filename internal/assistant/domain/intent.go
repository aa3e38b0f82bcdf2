package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	emaildomain "saigbox-backend/internal/email/domain"
)

// IntentName identifies one operation in the closed intent set.
type IntentName string

const (
	IntentSearch             IntentName = "search"
	IntentMarkRead           IntentName = "markRead"
	IntentMarkUnread         IntentName = "markUnread"
	IntentStar               IntentName = "star"
	IntentMoveToTrash        IntentName = "moveToTrash"
	IntentRestore            IntentName = "restore"
	IntentCompose            IntentName = "compose"
	IntentReply              IntentName = "reply"
	IntentCreateActionItem   IntentName = "createActionItem"
	IntentCompleteActionItem IntentName = "completeActionItem"
	IntentCreateHuddle       IntentName = "createHuddle"
)

// KnownIntent reports whether name belongs to the closed set.
func KnownIntent(name IntentName) bool {
	switch name {
	case IntentSearch, IntentMarkRead, IntentMarkUnread, IntentStar,
		IntentMoveToTrash, IntentRestore, IntentCompose, IntentReply,
		IntentCreateActionItem, IntentCompleteActionItem, IntentCreateHuddle:
		return true
	}
	return false
}

// Intent is a structured command: a name plus typed parameters. The language
// model resolves free text into this shape; the interpreter validates it
// independently of how it was produced.
type Intent struct {
	Name IntentName `json:"name"`

	// Target selection for email-directed intents. Exactly one of EmailID
	// or Filter is expected; Filter resolves to a match set at execution
	// time.
	EmailID string              `json:"email_id,omitempty"`
	Filter  *emaildomain.Filter `json:"filter,omitempty"`

	// compose / reply
	To      []string `json:"to,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body,omitempty"`

	// createActionItem / completeActionItem
	Title        string     `json:"title,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	ActionItemID string     `json:"action_item_id,omitempty"`

	// createHuddle
	HuddleName string   `json:"huddle_name,omitempty"`
	Members    []string `json:"members,omitempty"`
}

// ErrUnsupportedIntent means the intent name is outside the closed set.
var ErrUnsupportedIntent = errors.New("unsupported intent")

// IncompleteIntentError means a required parameter is missing on an
// irreversible or externally visible intent. The interpreter fails closed
// rather than guessing a default.
type IncompleteIntentError struct {
	Intent  IntentName
	Missing []string
}

func (e *IncompleteIntentError) Error() string {
	return fmt.Sprintf("intent %s is missing required parameter(s): %s",
		e.Intent, strings.Join(e.Missing, ", "))
}

// TargetResult reports the outcome for one email in a batch mutation.
type TargetResult struct {
	EmailID string `json:"email_id"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// Result is the interpreter's answer for one executed intent.
type Result struct {
	Intent  IntentName             `json:"intent"`
	Message string                 `json:"message"`
	Emails  []*emaildomain.Email   `json:"emails,omitempty"`
	Targets []TargetResult         `json:"targets,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
