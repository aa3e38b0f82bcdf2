package usecase

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	accountdomain "saigbox-backend/internal/account/domain"
	accountrepo "saigbox-backend/internal/account/repository"
	accountusecase "saigbox-backend/internal/account/usecase"
	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/email/repository"
	"saigbox-backend/pkg/keylock"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ActionExtractor derives action items from a newly visible email. The
// scheduler calls it exactly once per new or content-changed email after the
// page commits.
type ActionExtractor interface {
	ExtractFromEmail(email *emaildomain.Email) (int, error)
}

// SyncScheduler drives periodic reconciliation between the remote mailbox
// and the local store. Ticks for the same account never overlap; transient
// provider failures back off exponentially and never stop the loop;
// authentication failures suspend the account until fresh tokens appear.
type SyncScheduler struct {
	db          *gorm.DB
	accountRepo accountrepo.AccountRepository
	cursorRepo  repository.SyncCursorRepository
	providers   map[string]emaildomain.MailProvider
	tokens      accountusecase.TokenProvider
	extractor   ActionExtractor
	publisher   emaildomain.Publisher
	rowLocks    *keylock.KeyedMutex

	interval    time.Duration
	pageSize    int
	maxPages    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu     sync.Mutex
	states map[string]*accountState
	group  singleflight.Group
}

// accountState is the per-account scheduling state. tickMu is the
// single-flight guard: one tick per account at a time, manual or scheduled.
type accountState struct {
	tickMu      sync.Mutex
	failures    int
	nextAttempt time.Time
	suspended   bool
}

// SchedulerOptions tune the scheduler; zero values fall back to defaults.
type SchedulerOptions struct {
	Interval    time.Duration
	PageSize    int
	MaxPages    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// NewSyncScheduler creates a scheduler over the given store and providers.
func NewSyncScheduler(
	db *gorm.DB,
	accountRepo accountrepo.AccountRepository,
	cursorRepo repository.SyncCursorRepository,
	providers map[string]emaildomain.MailProvider,
	tokens accountusecase.TokenProvider,
	extractor ActionExtractor,
	publisher emaildomain.Publisher,
	rowLocks *keylock.KeyedMutex,
	opts SchedulerOptions,
) *SyncScheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Minute
	}
	return &SyncScheduler{
		db:          db,
		accountRepo: accountRepo,
		cursorRepo:  cursorRepo,
		providers:   providers,
		tokens:      tokens,
		extractor:   extractor,
		publisher:   publisher,
		rowLocks:    rowLocks,
		interval:    opts.Interval,
		pageSize:    opts.PageSize,
		maxPages:    opts.MaxPages,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		states:      make(map[string]*accountState),
	}
}

func (s *SyncScheduler) state(accountID string) *accountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[accountID]
	if !ok {
		st = &accountState{}
		s.states[accountID] = st
	}
	return st
}

// StartAll launches one scheduling loop per known account. Loops stop when
// ctx is cancelled.
func (s *SyncScheduler) StartAll(ctx context.Context) error {
	accounts, err := s.accountRepo.FindAll()
	if err != nil {
		return err
	}
	for _, account := range accounts {
		s.StartAccount(ctx, account.ID)
	}
	return nil
}

// StartAccount launches the scheduling loop for one account.
func (s *SyncScheduler) StartAccount(ctx context.Context, accountID string) {
	go s.runLoop(ctx, accountID)
}

func (s *SyncScheduler) runLoop(ctx context.Context, accountID string) {
	log.Printf("[SyncScheduler] Starting loop for account %s (interval %s)", accountID, s.interval)

	if err := s.RunTick(ctx, accountID); err != nil && !errors.Is(err, emaildomain.ErrSyncInProgress) {
		log.Printf("[SyncScheduler] Initial tick for account %s: %v", accountID, err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SyncScheduler] Loop for account %s stopped", accountID)
			return
		case <-ticker.C:
			st := s.state(accountID)
			if time.Now().Before(st.nextAttempt) {
				continue
			}
			if err := s.RunTick(ctx, accountID); err != nil && !errors.Is(err, emaildomain.ErrSyncInProgress) {
				log.Printf("[SyncScheduler] Tick for account %s: %v", accountID, err)
			}
		}
	}
}

// TriggerSync runs an on-demand tick for the account. Concurrent triggers
// for the same account collapse into one execution.
func (s *SyncScheduler) TriggerSync(ctx context.Context, accountID string) error {
	_, err, _ := s.group.Do(accountID, func() (interface{}, error) {
		return nil, s.RunTick(ctx, accountID)
	})
	return err
}

// RunTick performs one bounded reconciliation pass. It returns
// ErrSyncInProgress if a tick for the account is already running.
func (s *SyncScheduler) RunTick(ctx context.Context, accountID string) error {
	st := s.state(accountID)
	if !st.tickMu.TryLock() {
		return emaildomain.ErrSyncInProgress
	}
	defer st.tickMu.Unlock()

	account, err := s.accountRepo.FindByID(accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return emaildomain.ErrNotFound
	}

	creds, err := s.tokens.Credentials(account)
	if err != nil {
		if errors.Is(err, emaildomain.ErrUnauthenticated) {
			s.suspend(account, st)
		}
		return err
	}
	if st.suspended {
		// Fresh credentials became available; resume scheduling.
		st.suspended = false
		if err := s.accountRepo.SetSuspended(account.ID, false); err != nil {
			log.Printf("[SyncScheduler] Failed to clear suspension for account %s: %v", account.ID, err)
		}
		log.Printf("[SyncScheduler] Account %s resumed", account.ID)
	}

	provider, ok := s.providers[account.Provider]
	if !ok {
		provider = s.providers[accountdomain.ProviderGmail]
	}

	// Push local trash and restore decisions outward before pulling, so
	// the remote view this tick reads already reflects them.
	s.pushPendingTrash(ctx, provider, creds, account.ID)
	untrashed := s.pushPendingUntrash(ctx, provider, creds, account.ID)

	cursor, err := s.cursorRepo.Get(account.ID)
	if err != nil {
		return err
	}

	for page := 0; page < s.maxPages; page++ {
		// Cancellation happens between pages only; a page is all-or-nothing.
		if err := ctx.Err(); err != nil {
			return err
		}

		fetched, err := provider.FetchSince(ctx, creds, cursor.Position, s.pageSize)
		if err != nil {
			return s.handleProviderError(account, st, err)
		}

		created, changed, updated, err := s.applyPage(account.ID, cursor, fetched, untrashed)
		if err != nil {
			// Uncommitted writes are discarded; the same page is retried
			// next tick because the cursor did not advance.
			return s.recordFailure(account.ID, st, err)
		}

		st.failures = 0
		st.nextAttempt = time.Time{}

		s.afterCommit(account.ID, created, changed, updated)

		if !fetched.HasMore {
			break
		}
	}

	return nil
}

// applyPage upserts one page and advances the cursor in a single
// transaction. It returns the new emails, the existing ones whose content
// changed (extraction reruns on those), and the rest that were merely
// refreshed.
func (s *SyncScheduler) applyPage(accountID string, cursor *emaildomain.SyncCursor, page *emaildomain.FetchPage, untrashed map[string]bool) (created, changed, updated []*emaildomain.Email, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		emailRepo := repository.NewEmailRepository(tx)
		cursorRepo := repository.NewSyncCursorRepository(tx)

		for i := range page.Messages {
			msg := &page.Messages[i]

			email, isNew, contentChanged, mergeErr := s.mergeRemote(emailRepo, accountID, msg, untrashed)
			if mergeErr != nil {
				return mergeErr
			}
			if email == nil {
				// Purged locally while the page was in flight; stays gone.
				continue
			}

			switch {
			case isNew:
				created = append(created, email)
			case contentChanged:
				changed = append(changed, email)
				updated = append(updated, email)
			default:
				updated = append(updated, email)
			}
		}

		if page.NextCursor != "" {
			return cursorRepo.Advance(cursor, page.NextCursor)
		}
		return cursorRepo.ResetFailures(accountID)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return created, changed, updated, nil
}

// mergeRemote upserts one remote record keyed by remote message id. Remote
// state wins for provider-visible fields; local trash and restore decisions
// that have not reached the provider yet are preserved. Existing rows are
// merged under the same per-id lock user mutations take and written with
// the version check, so a write committed between lookup and merge is never
// overwritten.
func (s *SyncScheduler) mergeRemote(emailRepo repository.EmailRepository, accountID string, msg *emaildomain.RemoteMessage, untrashed map[string]bool) (*emaildomain.Email, bool, bool, error) {
	existing, err := emailRepo.FindByRemoteID(accountID, msg.RemoteID)
	if err != nil {
		return nil, false, false, err
	}

	if existing == nil {
		email := &emaildomain.Email{
			AccountID:      accountID,
			RemoteID:       msg.RemoteID,
			ThreadID:       msg.ThreadID,
			Subject:        msg.Subject,
			Sender:         msg.Sender,
			SenderName:     msg.SenderName,
			Recipients:     msg.Recipients,
			CC:             msg.CC,
			Body:           msg.Body,
			Snippet:        msg.Snippet,
			Labels:         msg.Labels,
			IsRead:         msg.IsRead,
			IsStarred:      msg.IsStarred,
			HasAttachments: msg.HasAttachments,
			ReceivedAt:     msg.ReceivedAt,
		}
		if msg.Trashed {
			now := time.Now()
			email.DeletedAt = &now
		}
		if err := emailRepo.Create(email); err != nil {
			return nil, false, false, err
		}
		return email, true, false, nil
	}

	unlock := s.rowLocks.Lock(existing.ID)
	defer unlock()

	// Re-read under the lock; a user mutation may have committed since
	// the lookup.
	existing, err = emailRepo.FindByID(existing.ID)
	if err != nil {
		return nil, false, false, err
	}
	if existing == nil {
		return nil, false, false, nil
	}

	contentChanged := existing.Subject != msg.Subject || existing.Body != msg.Body

	existing.ThreadID = msg.ThreadID
	existing.Subject = msg.Subject
	existing.Sender = msg.Sender
	existing.SenderName = msg.SenderName
	existing.Recipients = msg.Recipients
	existing.CC = msg.CC
	existing.Body = msg.Body
	existing.Snippet = msg.Snippet
	existing.Labels = msg.Labels
	existing.IsRead = msg.IsRead
	existing.IsStarred = msg.IsStarred
	existing.HasAttachments = msg.HasAttachments
	if !msg.ReceivedAt.IsZero() {
		existing.ReceivedAt = msg.ReceivedAt
	}

	switch {
	case msg.Trashed && (existing.RemoteUntrashPending || untrashed[msg.RemoteID]):
		// A local restore is on its way out; the remote view has not
		// caught up yet.
	case msg.Trashed:
		if existing.DeletedAt == nil {
			now := time.Now()
			existing.DeletedAt = &now
		}
		existing.RemoteTrashPending = false
	case existing.RemoteUntrashPending:
		// The remote side already shows the message restored.
		existing.RemoteUntrashPending = false
	default:
		if existing.DeletedAt != nil && !existing.RemoteTrashPending {
			// The remote side restored it after our trash call landed.
			existing.DeletedAt = nil
		}
	}

	if err := emailRepo.UpdateWithVersion(existing); err != nil {
		return nil, false, false, err
	}
	return existing, false, contentChanged, nil
}

// pushPendingTrash replays local trash decisions against the provider.
// Failures leave the pending flag set; the next tick retries.
func (s *SyncScheduler) pushPendingTrash(ctx context.Context, provider emaildomain.MailProvider, creds emaildomain.ProviderCredentials, accountID string) {
	emailRepo := repository.NewEmailRepository(s.db)
	pending, err := emailRepo.ListRemoteTrashPending(accountID)
	if err != nil {
		log.Printf("[SyncScheduler] Failed to list pending trash for account %s: %v", accountID, err)
		return
	}

	for _, email := range pending {
		if err := provider.Trash(ctx, creds, email.RemoteID); err != nil {
			log.Printf("[SyncScheduler] Remote trash for %s failed: %v", email.RemoteID, err)
			continue
		}
		unlock := s.rowLocks.Lock(email.ID)
		if current, err := emailRepo.FindByID(email.ID); err == nil && current != nil {
			current.RemoteTrashPending = false
			if err := emailRepo.Save(current); err != nil {
				log.Printf("[SyncScheduler] Failed to clear trash-pending flag for %s: %v", email.ID, err)
			}
		}
		unlock()
	}
}

// pushPendingUntrash replays local restore decisions against the provider
// and reports the remote ids it restored, so this tick's merge does not
// re-trash them off a stale remote view. Failures leave the pending flag
// set; the next tick retries.
func (s *SyncScheduler) pushPendingUntrash(ctx context.Context, provider emaildomain.MailProvider, creds emaildomain.ProviderCredentials, accountID string) map[string]bool {
	emailRepo := repository.NewEmailRepository(s.db)
	pending, err := emailRepo.ListRemoteUntrashPending(accountID)
	if err != nil {
		log.Printf("[SyncScheduler] Failed to list pending untrash for account %s: %v", accountID, err)
		return nil
	}

	untrashed := make(map[string]bool)
	for _, email := range pending {
		if err := provider.Untrash(ctx, creds, email.RemoteID); err != nil {
			log.Printf("[SyncScheduler] Remote untrash for %s failed: %v", email.RemoteID, err)
			continue
		}
		unlock := s.rowLocks.Lock(email.ID)
		if current, err := emailRepo.FindByID(email.ID); err == nil && current != nil {
			current.RemoteUntrashPending = false
			if err := emailRepo.Save(current); err != nil {
				log.Printf("[SyncScheduler] Failed to clear untrash-pending flag for %s: %v", email.ID, err)
			}
		}
		unlock()
		untrashed[email.RemoteID] = true
	}
	return untrashed
}

// afterCommit runs extraction on new and content-changed emails and fans
// out the change events. Existing rows publish as updates even when their
// content changed.
func (s *SyncScheduler) afterCommit(accountID string, created, changed, updated []*emaildomain.Email) {
	for _, email := range created {
		s.extract(email)
		if s.publisher != nil {
			s.publisher.Publish(accountID, emaildomain.ChangeEvent{
				Kind:     emaildomain.ChangeEmailCreated,
				EntityID: email.ID,
			})
		}
	}
	for _, email := range changed {
		s.extract(email)
	}
	for _, email := range updated {
		if s.publisher != nil {
			s.publisher.Publish(accountID, emaildomain.ChangeEvent{
				Kind:     emaildomain.ChangeEmailUpdated,
				EntityID: email.ID,
			})
		}
	}
}

func (s *SyncScheduler) extract(email *emaildomain.Email) {
	if s.extractor == nil {
		return
	}
	if n, err := s.extractor.ExtractFromEmail(email); err != nil {
		log.Printf("[SyncScheduler] Extraction for email %s failed: %v", email.ID, err)
	} else if n > 0 {
		log.Printf("[SyncScheduler] Extracted %d action item(s) from email %s", n, email.ID)
	}
}

func (s *SyncScheduler) handleProviderError(account *accountdomain.Account, st *accountState, err error) error {
	if errors.Is(err, emaildomain.ErrUnauthenticated) {
		s.suspend(account, st)
		return err
	}
	return s.recordFailure(account.ID, st, err)
}

func (s *SyncScheduler) recordFailure(accountID string, st *accountState, err error) error {
	failures, recErr := s.cursorRepo.RecordFailure(accountID)
	if recErr != nil {
		log.Printf("[SyncScheduler] Failed to record failure for account %s: %v", accountID, recErr)
		st.failures++
		failures = st.failures
	} else {
		st.failures = failures
	}
	delay := s.backoff(failures)
	st.nextAttempt = time.Now().Add(delay)
	log.Printf("[SyncScheduler] Account %s backing off %s after %d failure(s): %v", accountID, delay, failures, err)
	return err
}

func (s *SyncScheduler) suspend(account *accountdomain.Account, st *accountState) {
	if st.suspended {
		return
	}
	st.suspended = true
	if err := s.accountRepo.SetSuspended(account.ID, true); err != nil {
		log.Printf("[SyncScheduler] Failed to mark account %s suspended: %v", account.ID, err)
	}
	log.Printf("[SyncScheduler] Account %s suspended: unauthenticated", account.ID)
}

// backoff returns the delay before the next attempt: base doubling per
// consecutive failure, capped.
func (s *SyncScheduler) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := s.baseBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.maxBackoff {
			return s.maxBackoff
		}
	}
	if delay > s.maxBackoff {
		delay = s.maxBackoff
	}
	return delay
}

// IsSuspended reports whether the account's scheduling is suspended.
func (s *SyncScheduler) IsSuspended(accountID string) bool {
	return s.state(accountID).suspended
}
