package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"

	accountdomain "saigbox-backend/internal/account/domain"
	accountusecase "saigbox-backend/internal/account/usecase"
	actionusecase "saigbox-backend/internal/action/usecase"
	"saigbox-backend/internal/assistant/domain"
	emaildomain "saigbox-backend/internal/email/domain"
	emailrepo "saigbox-backend/internal/email/repository"
	emailusecase "saigbox-backend/internal/email/usecase"
	huddleusecase "saigbox-backend/internal/huddle/usecase"
	"saigbox-backend/pkg/keylock"
)

// Interpreter executes structured intents against the local store and the
// remote mailbox adapter. Validation is independent of how the intent was
// produced; irreversible intents fail closed when a required parameter is
// missing.
type Interpreter struct {
	emailRepo emailrepo.EmailRepository
	trash     *emailusecase.TrashLifecycle
	providers map[string]emaildomain.MailProvider
	tokens    accountusecase.TokenProvider
	actions   *actionusecase.ActionUsecase
	huddles   *huddleusecase.HuddleUsecase
	rowLocks  *keylock.KeyedMutex
	publisher emaildomain.Publisher
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(
	emailRepo emailrepo.EmailRepository,
	trash *emailusecase.TrashLifecycle,
	providers map[string]emaildomain.MailProvider,
	tokens accountusecase.TokenProvider,
	actions *actionusecase.ActionUsecase,
	huddles *huddleusecase.HuddleUsecase,
	rowLocks *keylock.KeyedMutex,
	publisher emaildomain.Publisher,
) *Interpreter {
	return &Interpreter{
		emailRepo: emailRepo,
		trash:     trash,
		providers: providers,
		tokens:    tokens,
		actions:   actions,
		huddles:   huddles,
		rowLocks:  rowLocks,
		publisher: publisher,
	}
}

// Execute runs one intent for the account. Unrecognized intent names return
// ErrUnsupportedIntent. Batch targets resolve against current local state;
// each target succeeds or fails individually and partial failures do not
// roll back the others.
func (i *Interpreter) Execute(ctx context.Context, account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	if !domain.KnownIntent(intent.Name) {
		return nil, fmt.Errorf("%q: %w", intent.Name, domain.ErrUnsupportedIntent)
	}

	switch intent.Name {
	case domain.IntentSearch:
		return i.search(account, intent)
	case domain.IntentMarkRead:
		read := true
		return i.applyFlagIntent(ctx, account, intent, emaildomain.Flags{Read: &read})
	case domain.IntentMarkUnread:
		read := false
		return i.applyFlagIntent(ctx, account, intent, emaildomain.Flags{Read: &read})
	case domain.IntentStar:
		starred := true
		return i.applyFlagIntent(ctx, account, intent, emaildomain.Flags{Starred: &starred})
	case domain.IntentMoveToTrash:
		return i.moveToTrash(account, intent)
	case domain.IntentRestore:
		return i.restore(account, intent)
	case domain.IntentCompose:
		return i.compose(ctx, account, intent)
	case domain.IntentReply:
		return i.reply(ctx, account, intent)
	case domain.IntentCreateActionItem:
		return i.createActionItem(account, intent)
	case domain.IntentCompleteActionItem:
		return i.completeActionItem(account, intent)
	case domain.IntentCreateHuddle:
		return i.createHuddle(account, intent)
	}
	return nil, fmt.Errorf("%q: %w", intent.Name, domain.ErrUnsupportedIntent)
}

func (i *Interpreter) search(account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	filter := emaildomain.Filter{}
	if intent.Filter != nil {
		filter = *intent.Filter
	}
	emails, err := i.emailRepo.Search(account.ID, filter)
	if err != nil {
		return nil, err
	}
	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Found %d email(s)", len(emails)),
		Emails:  emails,
	}, nil
}

// resolveTargets computes the intent's target set against current local
// state. A single id resolves to exactly that email; a filter resolves at
// execution time, not at parse time.
func (i *Interpreter) resolveTargets(account *accountdomain.Account, intent domain.Intent) ([]*emaildomain.Email, error) {
	if intent.EmailID != "" {
		email, err := i.emailRepo.FindByID(intent.EmailID)
		if err != nil {
			return nil, err
		}
		if email == nil || email.AccountID != account.ID {
			return nil, fmt.Errorf("email %s: %w", intent.EmailID, emaildomain.ErrNotFound)
		}
		return []*emaildomain.Email{email}, nil
	}
	if intent.Filter != nil && !intent.Filter.IsZero() {
		return i.emailRepo.Search(account.ID, *intent.Filter)
	}
	return nil, &domain.IncompleteIntentError{Intent: intent.Name, Missing: []string{"emailId or filter"}}
}

// applyFlagIntent mutates each target locally under its row lock, then
// pushes the flag change to the provider. A failed target is reported in
// its TargetResult; the rest proceed.
func (i *Interpreter) applyFlagIntent(ctx context.Context, account *accountdomain.Account, intent domain.Intent, flags emaildomain.Flags) (*domain.Result, error) {
	targets, err := i.resolveTargets(account, intent)
	if err != nil {
		return nil, err
	}

	creds, err := i.tokens.Credentials(account)
	if err != nil {
		return nil, err
	}
	provider := i.provider(account)

	results := make([]domain.TargetResult, 0, len(targets))
	succeeded := 0
	for _, target := range targets {
		err := i.applyFlagsToOne(ctx, provider, creds, target.ID, flags)
		tr := domain.TargetResult{EmailID: target.ID, Err: err}
		if err != nil {
			tr.Error = err.Error()
		} else {
			succeeded++
			if i.publisher != nil {
				i.publisher.Publish(account.ID, emaildomain.ChangeEvent{
					Kind:     emaildomain.ChangeEmailUpdated,
					EntityID: target.ID,
				})
			}
		}
		results = append(results, tr)
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Updated %d of %d email(s)", succeeded, len(targets)),
		Targets: results,
	}, nil
}

func (i *Interpreter) applyFlagsToOne(ctx context.Context, provider emaildomain.MailProvider, creds emaildomain.ProviderCredentials, emailID string, flags emaildomain.Flags) error {
	unlock := i.rowLocks.Lock(emailID)
	defer unlock()

	email, err := i.emailRepo.FindByID(emailID)
	if err != nil {
		return err
	}
	if email == nil {
		return emaildomain.ErrNotFound
	}

	if flags.Read != nil {
		email.IsRead = *flags.Read
	}
	if flags.Starred != nil {
		email.IsStarred = *flags.Starred
	}
	if err := i.emailRepo.UpdateWithVersion(email); err != nil {
		return err
	}

	if provider != nil {
		if err := provider.ApplyFlags(ctx, creds, email.RemoteID, flags); err != nil {
			// Local state is already updated; the next sync reconciles.
			log.Printf("[Interpreter] Remote flag update for %s failed: %v", email.RemoteID, err)
			return err
		}
	}
	return nil
}

func (i *Interpreter) moveToTrash(account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	// Externally visible: the target set must be fully resolved before any
	// side effect.
	if intent.EmailID == "" && (intent.Filter == nil || intent.Filter.IsZero()) {
		return nil, &domain.IncompleteIntentError{Intent: intent.Name, Missing: []string{"emailId or filter"}}
	}

	targets, err := i.resolveTargets(account, intent)
	if err != nil {
		return nil, err
	}

	results := make([]domain.TargetResult, 0, len(targets))
	succeeded := 0
	for _, target := range targets {
		err := i.trash.MoveToTrash(target.ID)
		tr := domain.TargetResult{EmailID: target.ID, Err: err}
		if err != nil {
			tr.Error = err.Error()
		} else {
			succeeded++
		}
		results = append(results, tr)
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Moved %d of %d email(s) to trash", succeeded, len(targets)),
		Targets: results,
	}, nil
}

func (i *Interpreter) restore(account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	if intent.Filter != nil && !intent.Filter.InTrash {
		// Restore targets live in the trash by definition.
		filter := *intent.Filter
		filter.InTrash = true
		intent.Filter = &filter
	}

	targets, err := i.resolveTargets(account, intent)
	if err != nil {
		return nil, err
	}

	results := make([]domain.TargetResult, 0, len(targets))
	succeeded := 0
	for _, target := range targets {
		err := i.trash.Restore(target.ID)
		tr := domain.TargetResult{EmailID: target.ID, Err: err}
		if err != nil {
			tr.Error = err.Error()
		} else {
			succeeded++
		}
		results = append(results, tr)
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Restored %d of %d email(s)", succeeded, len(targets)),
		Targets: results,
	}, nil
}

func (i *Interpreter) compose(ctx context.Context, account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	var missing []string
	if len(intent.To) == 0 {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(intent.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(intent.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return nil, &domain.IncompleteIntentError{Intent: intent.Name, Missing: missing}
	}

	remoteID, err := i.send(ctx, account, emaildomain.OutgoingMessage{
		From:     account.Email,
		FromName: account.Name,
		To:       intent.To,
		Subject:  intent.Subject,
		Body:     intent.Body,
	})
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Email sent to %s", strings.Join(intent.To, ", ")),
		Data:    map[string]interface{}{"remote_id": remoteID},
	}, nil
}

func (i *Interpreter) reply(ctx context.Context, account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	var missing []string
	if intent.EmailID == "" {
		missing = append(missing, "emailId")
	}
	if strings.TrimSpace(intent.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return nil, &domain.IncompleteIntentError{Intent: intent.Name, Missing: missing}
	}

	original, err := i.emailRepo.FindByID(intent.EmailID)
	if err != nil {
		return nil, err
	}
	if original == nil || original.AccountID != account.ID {
		return nil, fmt.Errorf("email %s: %w", intent.EmailID, emaildomain.ErrNotFound)
	}

	subject := original.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	remoteID, err := i.send(ctx, account, emaildomain.OutgoingMessage{
		From:      account.Email,
		FromName:  account.Name,
		To:        []string{original.Sender},
		Subject:   subject,
		Body:      intent.Body,
		ThreadID:  original.ThreadID,
		InReplyTo: original.RemoteID,
	})
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Reply sent to %s", original.Sender),
		Data:    map[string]interface{}{"remote_id": remoteID},
	}, nil
}

func (i *Interpreter) send(ctx context.Context, account *accountdomain.Account, msg emaildomain.OutgoingMessage) (string, error) {
	creds, err := i.tokens.Credentials(account)
	if err != nil {
		return "", err
	}
	provider := i.provider(account)
	if provider == nil {
		return "", fmt.Errorf("no provider configured for account %s", account.ID)
	}
	remoteID, err := provider.Send(ctx, creds, msg)
	if err != nil {
		return "", err
	}
	if _, err := emailusecase.StoreSentCopy(i.emailRepo, i.publisher, account, msg, remoteID); err != nil {
		log.Printf("[Interpreter] Failed to store sent copy %s: %v", remoteID, err)
	}
	return remoteID, nil
}

func (i *Interpreter) createActionItem(account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	if strings.TrimSpace(intent.Title) == "" {
		return nil, &domain.IncompleteIntentError{Intent: intent.Name, Missing: []string{"title"}}
	}

	item, err := i.actions.Create(actionusecase.CreateInput{
		AccountID: account.ID,
		EmailID:   intent.EmailID,
		Title:     intent.Title,
		DueDate:   intent.DueDate,
		Priority:  intent.Priority,
	})
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Created action item %q", item.Title),
		Data:    map[string]interface{}{"action_item": item},
	}, nil
}

func (i *Interpreter) completeActionItem(account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	if intent.ActionItemID == "" {
		return nil, &domain.IncompleteIntentError{Intent: intent.Name, Missing: []string{"actionItemId"}}
	}

	item, err := i.actions.Complete(account.ID, intent.ActionItemID)
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Completed action item %q", item.Title),
		Data:    map[string]interface{}{"action_item": item},
	}, nil
}

func (i *Interpreter) createHuddle(account *accountdomain.Account, intent domain.Intent) (*domain.Result, error) {
	if strings.TrimSpace(intent.HuddleName) == "" {
		return nil, &domain.IncompleteIntentError{Intent: intent.Name, Missing: []string{"name"}}
	}

	huddle, err := i.huddles.Create(account.Email, intent.HuddleName, "", intent.Members)
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		Intent:  intent.Name,
		Message: fmt.Sprintf("Created huddle %q with %d member(s)", huddle.Name, len(huddle.Members)),
		Data:    map[string]interface{}{"huddle": huddle},
	}, nil
}

func (i *Interpreter) provider(account *accountdomain.Account) emaildomain.MailProvider {
	if p, ok := i.providers[account.Provider]; ok {
		return p
	}
	return i.providers[accountdomain.ProviderGmail]
}
