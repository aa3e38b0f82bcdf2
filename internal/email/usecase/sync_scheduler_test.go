package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	accountdomain "saigbox-backend/internal/account/domain"
	accountrepo "saigbox-backend/internal/account/repository"
	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/email/repository"
	"saigbox-backend/pkg/keylock"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&emaildomain.Email{},
		&emaildomain.SyncCursor{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeProvider is a scripted MailProvider recording every call.
type fakeProvider struct {
	mu           sync.Mutex
	pages        []*emaildomain.FetchPage
	fetchErr     error
	fetchCursors []string
	trashCalls   []string
	trashErr     error
	untrashCalls []string
	untrashErr   error
	flagCalls    []string
	sendCalls    []emaildomain.OutgoingMessage

	// When set, FetchSince signals fetchEntered and waits on fetchRelease.
	fetchEntered chan struct{}
	fetchRelease chan struct{}
}

func (f *fakeProvider) FetchSince(ctx context.Context, creds emaildomain.ProviderCredentials, cursor string, pageSize int) (*emaildomain.FetchPage, error) {
	if f.fetchEntered != nil {
		f.fetchEntered <- struct{}{}
		<-f.fetchRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCursors = append(f.fetchCursors, cursor)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.pages) == 0 {
		return &emaildomain.FetchPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeProvider) ApplyFlags(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string, flags emaildomain.Flags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagCalls = append(f.flagCalls, remoteID)
	return nil
}

func (f *fakeProvider) Trash(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trashCalls = append(f.trashCalls, remoteID)
	return f.trashErr
}

func (f *fakeProvider) Untrash(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untrashCalls = append(f.untrashCalls, remoteID)
	return f.untrashErr
}

func (f *fakeProvider) Send(ctx context.Context, creds emaildomain.ProviderCredentials, msg emaildomain.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, msg)
	return "<sent@test>", nil
}

// fakeTokens hands out static credentials or a scripted error.
type fakeTokens struct {
	err error
}

func (f *fakeTokens) Credentials(account *accountdomain.Account) (emaildomain.ProviderCredentials, error) {
	if f.err != nil {
		return emaildomain.ProviderCredentials{}, f.err
	}
	return emaildomain.ProviderCredentials{AccessToken: "test-token"}, nil
}

// fakeExtractor records which emails it was asked to analyze.
type fakeExtractor struct {
	mu     sync.Mutex
	emails []string
}

func (f *fakeExtractor) ExtractFromEmail(email *emaildomain.Email) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email.ID)
	return 0, nil
}

func (f *fakeExtractor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emails)
}

// fakePublisher records published change events.
type fakePublisher struct {
	mu     sync.Mutex
	events []emaildomain.ChangeEvent
}

func (f *fakePublisher) Publish(accountID string, event emaildomain.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) kinds() map[emaildomain.ChangeKind]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[emaildomain.ChangeKind]int)
	for _, e := range f.events {
		out[e.Kind]++
	}
	return out
}

type schedulerFixture struct {
	db        *gorm.DB
	scheduler *SyncScheduler
	provider  *fakeProvider
	tokens    *fakeTokens
	extractor *fakeExtractor
	publisher *fakePublisher
	account   *accountdomain.Account
	emailRepo repository.EmailRepository
	rowLocks  *keylock.KeyedMutex
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db := newTestDB(t)

	accounts := accountrepo.NewAccountRepository(db)
	account := &accountdomain.Account{
		Email:    "user@example.com",
		Provider: accountdomain.ProviderGmail,
	}
	if err := accounts.Create(account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	provider := &fakeProvider{}
	tokens := &fakeTokens{}
	extractor := &fakeExtractor{}
	publisher := &fakePublisher{}
	rowLocks := keylock.New()

	scheduler := NewSyncScheduler(
		db,
		accounts,
		repository.NewSyncCursorRepository(db),
		map[string]emaildomain.MailProvider{accountdomain.ProviderGmail: provider},
		tokens,
		extractor,
		publisher,
		rowLocks,
		SchedulerOptions{
			Interval:    time.Minute,
			PageSize:    10,
			BaseBackoff: time.Second,
			MaxBackoff:  8 * time.Second,
		},
	)

	return &schedulerFixture{
		db:        db,
		scheduler: scheduler,
		provider:  provider,
		tokens:    tokens,
		extractor: extractor,
		publisher: publisher,
		account:   account,
		emailRepo: repository.NewEmailRepository(db),
		rowLocks:  rowLocks,
	}
}

func remoteMsg(remoteID, subject string) emaildomain.RemoteMessage {
	return emaildomain.RemoteMessage{
		RemoteID:   remoteID,
		Subject:    subject,
		Sender:     "sender@example.com",
		Body:       "body of " + remoteID,
		ReceivedAt: time.Now().Add(-time.Hour),
	}
}

func TestRunTickStoresPageAndAdvancesCursor(t *testing.T) {
	f := newSchedulerFixture(t)
	f.provider.pages = []*emaildomain.FetchPage{{
		Messages: []emaildomain.RemoteMessage{
			remoteMsg("r1", "first"),
			remoteMsg("r2", "second"),
			remoteMsg("r3", "third"),
		},
		NextCursor: "3",
	}}

	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	var count int64
	f.db.Model(&emaildomain.Email{}).Where("account_id = ?", f.account.ID).Count(&count)
	if count != 3 {
		t.Errorf("stored %d emails, want 3", count)
	}

	cursor, err := repository.NewSyncCursorRepository(f.db).Get(f.account.ID)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor.Position != "3" {
		t.Errorf("cursor position = %q, want %q", cursor.Position, "3")
	}
	if cursor.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0", cursor.FailureCount)
	}

	if got := f.extractor.count(); got != 3 {
		t.Errorf("extractor ran on %d emails, want 3", got)
	}
	if got := f.publisher.kinds()[emaildomain.ChangeEmailCreated]; got != 3 {
		t.Errorf("published %d created events, want 3", got)
	}
}

func TestRunTickIsIdempotent(t *testing.T) {
	f := newSchedulerFixture(t)
	page := func() *emaildomain.FetchPage {
		return &emaildomain.FetchPage{
			Messages: []emaildomain.RemoteMessage{
				remoteMsg("r1", "first"),
				remoteMsg("r2", "second"),
			},
			NextCursor: "2",
		}
	}

	f.provider.pages = []*emaildomain.FetchPage{page()}
	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	// The provider replays the identical page; rows must not duplicate and
	// extraction must not re-run on unchanged content.
	f.provider.pages = []*emaildomain.FetchPage{page()}
	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	var count int64
	f.db.Model(&emaildomain.Email{}).Where("account_id = ?", f.account.ID).Count(&count)
	if count != 2 {
		t.Errorf("stored %d emails after replay, want 2", count)
	}
	if got := f.extractor.count(); got != 2 {
		t.Errorf("extractor ran %d times, want 2", got)
	}

	kinds := f.publisher.kinds()
	if kinds[emaildomain.ChangeEmailCreated] != 2 {
		t.Errorf("created events = %d, want 2", kinds[emaildomain.ChangeEmailCreated])
	}
	if kinds[emaildomain.ChangeEmailUpdated] != 2 {
		t.Errorf("updated events = %d, want 2", kinds[emaildomain.ChangeEmailUpdated])
	}
}

func TestRunTickFetchesAllPages(t *testing.T) {
	f := newSchedulerFixture(t)
	f.provider.pages = []*emaildomain.FetchPage{
		{
			Messages:   []emaildomain.RemoteMessage{remoteMsg("r1", "a"), remoteMsg("r2", "b")},
			NextCursor: "2",
			HasMore:    true,
		},
		{
			Messages:   []emaildomain.RemoteMessage{remoteMsg("r3", "c")},
			NextCursor: "3",
		},
	}

	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if len(f.provider.fetchCursors) != 2 {
		t.Fatalf("fetch called %d times, want 2", len(f.provider.fetchCursors))
	}
	if f.provider.fetchCursors[0] != "" || f.provider.fetchCursors[1] != "2" {
		t.Errorf("fetch cursors = %v, want [\"\" \"2\"]", f.provider.fetchCursors)
	}

	cursor, _ := repository.NewSyncCursorRepository(f.db).Get(f.account.ID)
	if cursor.Position != "3" {
		t.Errorf("cursor position = %q, want %q", cursor.Position, "3")
	}
}

func TestRunTickPreservesPendingLocalTrash(t *testing.T) {
	f := newSchedulerFixture(t)

	now := time.Now()
	trashed := &emaildomain.Email{
		AccountID:          f.account.ID,
		RemoteID:           "r1",
		Subject:            "first",
		Body:               "body of r1",
		DeletedAt:          &now,
		RemoteTrashPending: true,
	}
	if err := f.emailRepo.Create(trashed); err != nil {
		t.Fatalf("create email: %v", err)
	}

	// The remote trash call keeps failing and the remote view still shows
	// the message untrashed. Local deleted_at must survive the merge.
	f.provider.trashErr = errors.New("remote unavailable")
	f.provider.pages = []*emaildomain.FetchPage{{
		Messages:   []emaildomain.RemoteMessage{remoteMsg("r1", "first")},
		NextCursor: "1",
	}}

	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	after, err := f.emailRepo.FindByID(trashed.ID)
	if err != nil || after == nil {
		t.Fatalf("reload email: %v", err)
	}
	if after.DeletedAt == nil {
		t.Error("local trash state lost on merge while remote trash is pending")
	}
	if !after.RemoteTrashPending {
		t.Error("pending flag cleared although the remote trash call failed")
	}
}

func TestRunTickPushesPendingTrash(t *testing.T) {
	f := newSchedulerFixture(t)

	now := time.Now()
	trashed := &emaildomain.Email{
		AccountID:          f.account.ID,
		RemoteID:           "r9",
		Subject:            "old",
		DeletedAt:          &now,
		RemoteTrashPending: true,
	}
	if err := f.emailRepo.Create(trashed); err != nil {
		t.Fatalf("create email: %v", err)
	}

	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if len(f.provider.trashCalls) != 1 || f.provider.trashCalls[0] != "r9" {
		t.Fatalf("provider trash calls = %v, want [r9]", f.provider.trashCalls)
	}
	after, _ := f.emailRepo.FindByID(trashed.ID)
	if after.RemoteTrashPending {
		t.Error("pending flag not cleared after successful remote trash")
	}
	if after.DeletedAt == nil {
		t.Error("email left the trash after the remote call")
	}
}

func TestRunTickPushesRestoreOutward(t *testing.T) {
	f := newSchedulerFixture(t)

	// Trashed and already synced outward: no trash call pending.
	now := time.Now()
	email := &emaildomain.Email{
		AccountID: f.account.ID,
		RemoteID:  "r1",
		Subject:   "first",
		Body:      "body of r1",
		DeletedAt: &now,
	}
	if err := f.emailRepo.Create(email); err != nil {
		t.Fatalf("create email: %v", err)
	}

	lifecycle := NewTrashLifecycle(f.db, f.emailRepo, f.publisher, f.rowLocks, 0)
	if err := lifecycle.Restore(email.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// The remote view still shows the message trashed. The restore must
	// reach the provider and must not bounce back into the trash.
	stale := remoteMsg("r1", "first")
	stale.Trashed = true
	f.provider.pages = []*emaildomain.FetchPage{{
		Messages:   []emaildomain.RemoteMessage{stale},
		NextCursor: "1",
	}}

	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if len(f.provider.untrashCalls) != 1 || f.provider.untrashCalls[0] != "r1" {
		t.Fatalf("provider untrash calls = %v, want [r1]", f.provider.untrashCalls)
	}
	after, _ := f.emailRepo.FindByID(email.ID)
	if after.DeletedAt != nil {
		t.Errorf("restored email re-trashed by the next sync: deleted_at=%v", after.DeletedAt)
	}
	if after.RemoteUntrashPending {
		t.Error("pending flag not cleared after successful remote untrash")
	}
}

func TestRunTickRetriesFailedUntrash(t *testing.T) {
	f := newSchedulerFixture(t)

	// Restored locally, untrash call still pending.
	email := &emaildomain.Email{
		AccountID:            f.account.ID,
		RemoteID:             "r1",
		Subject:              "first",
		Body:                 "body of r1",
		RemoteUntrashPending: true,
	}
	if err := f.emailRepo.Create(email); err != nil {
		t.Fatalf("create email: %v", err)
	}

	f.provider.untrashErr = errors.New("remote unavailable")
	stale := remoteMsg("r1", "first")
	stale.Trashed = true
	f.provider.pages = []*emaildomain.FetchPage{{
		Messages:   []emaildomain.RemoteMessage{stale},
		NextCursor: "1",
	}}

	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	after, _ := f.emailRepo.FindByID(email.ID)
	if after.DeletedAt != nil {
		t.Error("local restore lost on merge while remote untrash is pending")
	}
	if !after.RemoteUntrashPending {
		t.Error("pending flag cleared although the remote untrash call failed")
	}
}

func TestRunTickMergeYieldsToInterleavedTrash(t *testing.T) {
	f := newSchedulerFixture(t)

	f.provider.pages = []*emaildomain.FetchPage{{
		Messages:   []emaildomain.RemoteMessage{remoteMsg("r1", "first")},
		NextCursor: "1",
	}}
	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("seed tick: %v", err)
	}
	email, err := f.emailRepo.FindByRemoteID(f.account.ID, "r1")
	if err != nil || email == nil {
		t.Fatalf("load seeded email: %v", err)
	}

	// Hold the row lock a user mutation would take, start the next tick,
	// and commit a trash decision before releasing. The merge must act on
	// the committed write, not on the row it looked up earlier.
	f.provider.fetchEntered = make(chan struct{})
	f.provider.fetchRelease = make(chan struct{})
	f.provider.pages = []*emaildomain.FetchPage{{
		Messages:   []emaildomain.RemoteMessage{remoteMsg("r1", "first")},
		NextCursor: "2",
	}}

	unlock := f.rowLocks.Lock(email.ID)
	done := make(chan error, 1)
	go func() {
		done <- f.scheduler.RunTick(context.Background(), f.account.ID)
	}()

	<-f.provider.fetchEntered
	now := time.Now()
	email.DeletedAt = &now
	email.RemoteTrashPending = true
	if err := f.emailRepo.UpdateWithVersion(email); err != nil {
		t.Fatalf("trash during tick: %v", err)
	}
	close(f.provider.fetchRelease)
	unlock()

	if err := <-done; err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	after, _ := f.emailRepo.FindByID(email.ID)
	if after.DeletedAt == nil {
		t.Error("merge overwrote a trash decision committed during the tick")
	}
	if !after.RemoteTrashPending {
		t.Error("merge cleared the pending trash flag")
	}
}

func TestRunTickContentChangePublishesUpdate(t *testing.T) {
	f := newSchedulerFixture(t)

	f.provider.pages = []*emaildomain.FetchPage{{
		Messages:   []emaildomain.RemoteMessage{remoteMsg("r1", "first")},
		NextCursor: "1",
	}}
	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	// The remote body changed; extraction reruns but the row is not new.
	edited := remoteMsg("r1", "first")
	edited.Body = "rewritten body of r1"
	f.provider.pages = []*emaildomain.FetchPage{{
		Messages:   []emaildomain.RemoteMessage{edited},
		NextCursor: "2",
	}}
	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if got := f.extractor.count(); got != 2 {
		t.Errorf("extractor ran %d times, want rerun on changed content", got)
	}
	kinds := f.publisher.kinds()
	if kinds[emaildomain.ChangeEmailCreated] != 1 {
		t.Errorf("created events = %d, want 1", kinds[emaildomain.ChangeEmailCreated])
	}
	if kinds[emaildomain.ChangeEmailUpdated] != 1 {
		t.Errorf("updated events = %d, want 1", kinds[emaildomain.ChangeEmailUpdated])
	}
}

func TestRunTickTransientFailureBacksOff(t *testing.T) {
	f := newSchedulerFixture(t)
	f.provider.fetchErr = &emaildomain.ProviderError{
		Op:        "fetch",
		Err:       errors.New("503"),
		Transient: true,
	}

	err := f.scheduler.RunTick(context.Background(), f.account.ID)
	if err == nil {
		t.Fatal("RunTick returned nil on provider failure")
	}

	cursor, _ := repository.NewSyncCursorRepository(f.db).Get(f.account.ID)
	if cursor.FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", cursor.FailureCount)
	}
	if cursor.Position != "" {
		t.Errorf("cursor advanced to %q on a failed tick", cursor.Position)
	}

	st := f.scheduler.state(f.account.ID)
	if !st.nextAttempt.After(time.Now()) {
		t.Error("no backoff window scheduled after failure")
	}
	if f.scheduler.IsSuspended(f.account.ID) {
		t.Error("transient failure suspended the account")
	}
}

func TestRunTickSuspendsAndResumes(t *testing.T) {
	f := newSchedulerFixture(t)
	f.tokens.err = emaildomain.ErrUnauthenticated

	err := f.scheduler.RunTick(context.Background(), f.account.ID)
	if !errors.Is(err, emaildomain.ErrUnauthenticated) {
		t.Fatalf("RunTick err = %v, want ErrUnauthenticated", err)
	}
	if !f.scheduler.IsSuspended(f.account.ID) {
		t.Fatal("account not suspended after auth failure")
	}

	var stored accountdomain.Account
	f.db.First(&stored, "id = ?", f.account.ID)
	if !stored.Suspended {
		t.Error("suspension not persisted")
	}

	// Fresh credentials appear; the next tick resumes the account.
	f.tokens.err = nil
	if err := f.scheduler.RunTick(context.Background(), f.account.ID); err != nil {
		t.Fatalf("RunTick after resume: %v", err)
	}
	if f.scheduler.IsSuspended(f.account.ID) {
		t.Error("account still suspended after valid credentials")
	}
	f.db.First(&stored, "id = ?", f.account.ID)
	if stored.Suspended {
		t.Error("persisted suspension not cleared")
	}
}

func TestRunTickRejectsOverlap(t *testing.T) {
	f := newSchedulerFixture(t)
	f.provider.fetchEntered = make(chan struct{})
	f.provider.fetchRelease = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.scheduler.RunTick(context.Background(), f.account.ID)
	}()

	<-f.provider.fetchEntered

	if err := f.scheduler.RunTick(context.Background(), f.account.ID); !errors.Is(err, emaildomain.ErrSyncInProgress) {
		t.Errorf("overlapping tick err = %v, want ErrSyncInProgress", err)
	}

	close(f.provider.fetchRelease)
	if err := <-done; err != nil {
		t.Fatalf("first tick: %v", err)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	f := newSchedulerFixture(t)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := f.scheduler.backoff(tt.failures); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}
