package ai

import (
	"context"
	"regexp"
	"strings"

	"saigbox-backend/internal/assistant/domain"
	emaildomain "saigbox-backend/internal/email/domain"
)

// RulesService is a deterministic keyword resolver. It never fails and
// never invents parameters: what it cannot extract it leaves empty, and the
// interpreter fails closed on missing required fields.
type RulesService struct{}

// NewRulesService creates a RulesService.
func NewRulesService() *RulesService {
	return &RulesService{}
}

var (
	senderRe  = regexp.MustCompile(`from\s+([\w.+-]+@[\w.-]+|\w+)`)
	addressRe = regexp.MustCompile(`[\w.+-]+@[\w.-]+`)
	quotedRe  = regexp.MustCompile(`["'“]([^"'”]+)["'”]`)
)

// ResolveIntent implements IntentResolver with keyword rules.
func (r *RulesService) ResolveIntent(_ context.Context, message string) (domain.Intent, error) {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "unread"):
		return targetedIntent(domain.IntentMarkUnread, lower), nil

	case strings.Contains(lower, "mark") && strings.Contains(lower, "read"):
		return targetedIntent(domain.IntentMarkRead, lower), nil

	case strings.Contains(lower, "star"):
		return targetedIntent(domain.IntentStar, lower), nil

	case strings.Contains(lower, "restore") || strings.Contains(lower, "untrash"):
		intent := targetedIntent(domain.IntentRestore, lower)
		if intent.Filter != nil {
			intent.Filter.InTrash = true
		}
		return intent, nil

	case strings.Contains(lower, "trash") || strings.Contains(lower, "delete"):
		return targetedIntent(domain.IntentMoveToTrash, lower), nil

	case strings.Contains(lower, "reply"):
		return domain.Intent{Name: domain.IntentReply, Body: bodyAfter(message, "saying")}, nil

	case strings.Contains(lower, "send") && strings.Contains(lower, "email"),
		strings.Contains(lower, "compose"):
		intent := domain.Intent{Name: domain.IntentCompose}
		if addr := addressRe.FindString(message); addr != "" {
			intent.To = []string{addr}
		}
		if m := quotedRe.FindStringSubmatch(message); m != nil {
			intent.Subject = m[1]
		}
		intent.Body = bodyAfter(message, "saying")
		return intent, nil

	case strings.Contains(lower, "complete") && (strings.Contains(lower, "task") || strings.Contains(lower, "action")):
		return domain.Intent{Name: domain.IntentCompleteActionItem}, nil

	case (strings.Contains(lower, "task") || strings.Contains(lower, "action item") || strings.Contains(lower, "remind me")) &&
		(strings.Contains(lower, "create") || strings.Contains(lower, "add") || strings.Contains(lower, "remind me")):
		intent := domain.Intent{Name: domain.IntentCreateActionItem}
		if m := quotedRe.FindStringSubmatch(message); m != nil {
			intent.Title = m[1]
		} else {
			intent.Title = strings.TrimSpace(bodyAfter(message, "remind me to"))
		}
		return intent, nil

	case strings.Contains(lower, "huddle"):
		intent := domain.Intent{Name: domain.IntentCreateHuddle}
		if m := quotedRe.FindStringSubmatch(message); m != nil {
			intent.HuddleName = m[1]
		}
		intent.Members = addressRe.FindAllString(message, -1)
		return intent, nil

	default:
		return domain.Intent{
			Name:   domain.IntentSearch,
			Filter: &emaildomain.Filter{Query: strings.TrimSpace(message)},
		}, nil
	}
}

// targetedIntent builds a flag/trash intent whose target is a filter derived
// from the message. "all" plus a sender clause becomes a batch filter.
func targetedIntent(name domain.IntentName, lower string) domain.Intent {
	filter := &emaildomain.Filter{}
	if m := senderRe.FindStringSubmatch(lower); m != nil {
		filter.Sender = m[1]
	}
	if strings.Contains(lower, "unread emails") || strings.Contains(lower, "unread messages") {
		unread := true
		filter.Unread = &unread
	}
	if filter.IsZero() {
		// Nothing extractable; the interpreter reports the incomplete intent.
		return domain.Intent{Name: name}
	}
	return domain.Intent{Name: name, Filter: filter}
}

func bodyAfter(message, marker string) string {
	lower := strings.ToLower(message)
	idx := strings.Index(lower, marker)
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(message[idx+len(marker):])
}
