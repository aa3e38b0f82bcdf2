package usecase

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	accountdomain "saigbox-backend/internal/account/domain"
	accountusecase "saigbox-backend/internal/account/usecase"
	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/email/repository"
	"saigbox-backend/pkg/fuzzy"
	"saigbox-backend/pkg/keylock"
)

// EmailUsecase serves the direct mailbox endpoints over the local
// mirror. Mutations apply locally first; the remote call is best-effort
// and the next sync reconciles any divergence.
type EmailUsecase struct {
	emailRepo repository.EmailRepository
	providers map[string]emaildomain.MailProvider
	tokens    accountusecase.TokenProvider
	rowLocks  *keylock.KeyedMutex
	publisher emaildomain.Publisher
}

// NewEmailUsecase creates the usecase.
func NewEmailUsecase(
	emailRepo repository.EmailRepository,
	providers map[string]emaildomain.MailProvider,
	tokens accountusecase.TokenProvider,
	rowLocks *keylock.KeyedMutex,
	publisher emaildomain.Publisher,
) *EmailUsecase {
	return &EmailUsecase{
		emailRepo: emailRepo,
		providers: providers,
		tokens:    tokens,
		rowLocks:  rowLocks,
		publisher: publisher,
	}
}

// ListInbox returns non-trashed emails, newest first.
func (u *EmailUsecase) ListInbox(accountID string, limit, offset int) ([]*emaildomain.Email, int64, error) {
	return u.emailRepo.ListInbox(accountID, limit, offset)
}

// ListTrash returns trashed emails, most recently trashed first.
func (u *EmailUsecase) ListTrash(accountID string) ([]*emaildomain.Email, error) {
	return u.emailRepo.ListTrash(accountID)
}

// Get returns one email scoped to the account.
func (u *EmailUsecase) Get(accountID, emailID string) (*emaildomain.Email, error) {
	email, err := u.emailRepo.FindByID(emailID)
	if err != nil {
		return nil, err
	}
	if email == nil || email.AccountID != accountID {
		return nil, fmt.Errorf("email %s: %w", emailID, emaildomain.ErrNotFound)
	}
	return email, nil
}

// Search filters the local mirror. A free-text query additionally
// fuzzy-ranks the structured results so near-misses still surface.
func (u *EmailUsecase) Search(accountID string, filter emaildomain.Filter) ([]*emaildomain.Email, error) {
	query := strings.TrimSpace(filter.Query)
	if query == "" {
		return u.emailRepo.Search(accountID, filter)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	// Over-fetch without the text predicate, then match and rank here.
	wide := filter
	wide.Query = ""
	wide.Limit = limit * 4
	if wide.Limit > 400 {
		wide.Limit = 400
	}
	candidates, err := u.emailRepo.Search(accountID, wide)
	if err != nil {
		return nil, err
	}

	type scored struct {
		email *emaildomain.Email
		score float64
	}
	matched := make([]scored, 0, len(candidates))
	for _, email := range candidates {
		if !fuzzy.MatchEmail(query, email.Subject, email.Sender, email.SenderName, email.Body) {
			continue
		}
		matched = append(matched, scored{
			email: email,
			score: fuzzy.ScoreEmail(query, email.Subject, email.Sender, email.SenderName),
		})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].email.ReceivedAt.After(matched[j].email.ReceivedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	results := make([]*emaildomain.Email, 0, len(matched))
	for _, m := range matched {
		results = append(results, m.email)
	}
	return results, nil
}

// SetRead marks one email read or unread.
func (u *EmailUsecase) SetRead(ctx context.Context, account *accountdomain.Account, emailID string, read bool) (*emaildomain.Email, error) {
	return u.applyFlags(ctx, account, emailID, emaildomain.Flags{Read: &read})
}

// SetStarred stars or unstars one email.
func (u *EmailUsecase) SetStarred(ctx context.Context, account *accountdomain.Account, emailID string, starred bool) (*emaildomain.Email, error) {
	return u.applyFlags(ctx, account, emailID, emaildomain.Flags{Starred: &starred})
}

// applyFlags commits the local change under the email's row lock, then
// pushes it to the provider. A remote failure is logged but does not
// undo the local write.
func (u *EmailUsecase) applyFlags(ctx context.Context, account *accountdomain.Account, emailID string, flags emaildomain.Flags) (*emaildomain.Email, error) {
	unlock := u.rowLocks.Lock(emailID)
	defer unlock()

	email, err := u.emailRepo.FindByID(emailID)
	if err != nil {
		return nil, err
	}
	if email == nil || email.AccountID != account.ID {
		return nil, fmt.Errorf("email %s: %w", emailID, emaildomain.ErrNotFound)
	}

	if flags.Read != nil {
		email.IsRead = *flags.Read
	}
	if flags.Starred != nil {
		email.IsStarred = *flags.Starred
	}
	if err := u.emailRepo.UpdateWithVersion(email); err != nil {
		return nil, err
	}

	if provider := u.provider(account); provider != nil {
		creds, err := u.tokens.Credentials(account)
		if err == nil {
			if err := provider.ApplyFlags(ctx, creds, email.RemoteID, flags); err != nil {
				// The next sync reconciles.
				log.Printf("[Email] Remote flag update for %s failed: %v", email.RemoteID, err)
			}
		} else {
			log.Printf("[Email] No credentials for account %s: %v", account.ID, err)
		}
	}

	if u.publisher != nil {
		u.publisher.Publish(account.ID, emaildomain.ChangeEvent{
			Kind:     emaildomain.ChangeEmailUpdated,
			EntityID: email.ID,
		})
	}
	return email, nil
}

// Send sends a message through the account's provider, mirrors the sent
// copy into the local store, and returns its remote id.
func (u *EmailUsecase) Send(ctx context.Context, account *accountdomain.Account, msg emaildomain.OutgoingMessage) (string, error) {
	provider := u.provider(account)
	if provider == nil {
		return "", fmt.Errorf("no provider configured for account %s", account.ID)
	}
	creds, err := u.tokens.Credentials(account)
	if err != nil {
		return "", err
	}
	if msg.From == "" {
		msg.From = account.Email
	}
	if msg.FromName == "" {
		msg.FromName = account.Name
	}
	remoteID, err := provider.Send(ctx, creds, msg)
	if err != nil {
		return "", err
	}
	if _, err := StoreSentCopy(u.emailRepo, u.publisher, account, msg, remoteID); err != nil {
		// The message is out; the local mirror catches up on the next sync.
		log.Printf("[Email] Failed to store sent copy %s: %v", remoteID, err)
	}
	return remoteID, nil
}

// StoreSentCopy mirrors a just-sent message into the local store so it is
// visible before the next sync. IMAP accounts only sync INBOX, so this is
// their sole record of sent mail; for providers that do ingest sent mail
// the later sync merges into the same row by remote id.
func StoreSentCopy(emailRepo repository.EmailRepository, publisher emaildomain.Publisher, account *accountdomain.Account, msg emaildomain.OutgoingMessage, remoteID string) (*emaildomain.Email, error) {
	snippet := msg.Body
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	email := &emaildomain.Email{
		AccountID:  account.ID,
		RemoteID:   remoteID,
		ThreadID:   msg.ThreadID,
		Subject:    msg.Subject,
		Sender:     account.Email,
		SenderName: account.Name,
		Recipients: emaildomain.StringList(msg.To),
		CC:         emaildomain.StringList(msg.CC),
		Body:       msg.Body,
		Snippet:    snippet,
		Labels:     emaildomain.StringList{"SENT"},
		IsRead:     true,
		ReceivedAt: time.Now(),
	}
	if err := emailRepo.Create(email); err != nil {
		return nil, err
	}
	if publisher != nil {
		publisher.Publish(account.ID, emaildomain.ChangeEvent{
			Kind:     emaildomain.ChangeEmailCreated,
			EntityID: email.ID,
		})
	}
	return email, nil
}

func (u *EmailUsecase) provider(account *accountdomain.Account) emaildomain.MailProvider {
	if p, ok := u.providers[account.Provider]; ok {
		return p
	}
	return u.providers[accountdomain.ProviderGmail]
}
