package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	accountdomain "saigbox-backend/internal/account/domain"
	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/email/repository"
	"saigbox-backend/pkg/keylock"
)

type emailFixture struct {
	usecase   *EmailUsecase
	provider  *fakeProvider
	publisher *fakePublisher
	emailRepo repository.EmailRepository
	account   *accountdomain.Account
}

func newEmailFixture(t *testing.T) *emailFixture {
	t.Helper()
	db := newTestDB(t)
	emailRepo := repository.NewEmailRepository(db)
	provider := &fakeProvider{}
	publisher := &fakePublisher{}
	account := &accountdomain.Account{
		ID:       "acct-1",
		Email:    "me@example.com",
		Provider: accountdomain.ProviderGmail,
	}

	usecase := NewEmailUsecase(
		emailRepo,
		map[string]emaildomain.MailProvider{accountdomain.ProviderGmail: provider},
		&fakeTokens{},
		keylock.New(),
		publisher,
	)
	return &emailFixture{
		usecase:   usecase,
		provider:  provider,
		publisher: publisher,
		emailRepo: emailRepo,
		account:   account,
	}
}

func (f *emailFixture) createEmail(t *testing.T, remoteID, subject, sender string, receivedAt time.Time) *emaildomain.Email {
	t.Helper()
	email := &emaildomain.Email{
		AccountID:  f.account.ID,
		RemoteID:   remoteID,
		Subject:    subject,
		Sender:     sender,
		Body:       "body",
		ReceivedAt: receivedAt,
	}
	if err := f.emailRepo.Create(email); err != nil {
		t.Fatalf("create email: %v", err)
	}
	return email
}

func TestSetReadScopesToAccount(t *testing.T) {
	f := newEmailFixture(t)
	email := f.createEmail(t, "r1", "hello", "alice@example.com", time.Now())

	updated, err := f.usecase.SetRead(context.Background(), f.account, email.ID, true)
	if err != nil {
		t.Fatalf("SetRead: %v", err)
	}
	if !updated.IsRead {
		t.Error("email not marked read")
	}
	if len(f.provider.flagCalls) != 1 || f.provider.flagCalls[0] != "r1" {
		t.Errorf("provider flag calls = %v, want [r1]", f.provider.flagCalls)
	}
	if got := f.publisher.kinds()[emaildomain.ChangeEmailUpdated]; got != 1 {
		t.Errorf("updated events = %d, want 1", got)
	}

	// Another account must not reach this email.
	other := &accountdomain.Account{ID: "acct-2", Provider: accountdomain.ProviderGmail}
	if _, err := f.usecase.SetRead(context.Background(), other, email.ID, false); !errors.Is(err, emaildomain.ErrNotFound) {
		t.Errorf("cross-account SetRead err = %v, want ErrNotFound", err)
	}
}

func TestSearchFuzzyRanksSubjectMatchesFirst(t *testing.T) {
	f := newEmailFixture(t)
	now := time.Now()
	bySubject := f.createEmail(t, "r1", "Budget review for Q2", "bob@example.com", now.Add(-2*time.Hour))
	bySender := f.createEmail(t, "r2", "weekly notes", "budget@example.com", now.Add(-time.Hour))
	f.createEmail(t, "r3", "lunch plans", "carol@example.com", now)

	results, err := f.usecase.Search(f.account.ID, emaildomain.Filter{Query: "budget"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ID != bySubject.ID {
		t.Errorf("first result = %q, want the subject match", results[0].Subject)
	}
	if results[1].ID != bySender.ID {
		t.Errorf("second result = %q, want the sender match", results[1].Subject)
	}
}

func TestSearchToleratesTypos(t *testing.T) {
	f := newEmailFixture(t)
	f.createEmail(t, "r1", "Invoice for March", "billing@vendor.com", time.Now())

	results, err := f.usecase.Search(f.account.ID, emaildomain.Filter{Query: "invocie"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 despite the typo", len(results))
	}
}

func TestSendFillsSenderFromAccount(t *testing.T) {
	f := newEmailFixture(t)

	remoteID, err := f.usecase.Send(context.Background(), f.account, emaildomain.OutgoingMessage{
		To:      []string{"dave@example.com"},
		Subject: "ping",
		Body:    "pong",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if remoteID == "" {
		t.Error("empty remote id")
	}
	if len(f.provider.sendCalls) != 1 {
		t.Fatalf("send calls = %d, want 1", len(f.provider.sendCalls))
	}
	if got := f.provider.sendCalls[0].From; got != "me@example.com" {
		t.Errorf("from = %q, want the account address", got)
	}
}

func TestSendStoresSentCopy(t *testing.T) {
	f := newEmailFixture(t)

	remoteID, err := f.usecase.Send(context.Background(), f.account, emaildomain.OutgoingMessage{
		To:      []string{"dave@example.com"},
		Subject: "ping",
		Body:    "pong",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	copyRow, err := f.emailRepo.FindByRemoteID(f.account.ID, remoteID)
	if err != nil {
		t.Fatalf("load sent copy: %v", err)
	}
	if copyRow == nil {
		t.Fatal("no local copy stored for the sent message")
	}
	if copyRow.Sender != "me@example.com" {
		t.Errorf("sent copy sender = %q, want the account address", copyRow.Sender)
	}
	if !copyRow.IsRead {
		t.Error("sent copy not marked read")
	}
	if got := f.publisher.kinds()[emaildomain.ChangeEmailCreated]; got != 1 {
		t.Errorf("created events = %d, want 1", got)
	}
}
