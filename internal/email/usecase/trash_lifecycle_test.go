package usecase

import (
	"errors"
	"testing"
	"time"

	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/email/repository"
	"saigbox-backend/pkg/keylock"

	"gorm.io/gorm"
)

type trashFixture struct {
	db        *gorm.DB
	lifecycle *TrashLifecycle
	emailRepo repository.EmailRepository
	publisher *fakePublisher
}

func newTrashFixture(t *testing.T, retention time.Duration) *trashFixture {
	t.Helper()
	db := newTestDB(t)
	emailRepo := repository.NewEmailRepository(db)
	publisher := &fakePublisher{}
	return &trashFixture{
		db:        db,
		lifecycle: NewTrashLifecycle(db, emailRepo, publisher, keylock.New(), retention),
		emailRepo: emailRepo,
		publisher: publisher,
	}
}

func (f *trashFixture) createEmail(t *testing.T, remoteID string, deletedAt *time.Time) *emaildomain.Email {
	t.Helper()
	email := &emaildomain.Email{
		AccountID: "acct-1",
		RemoteID:  remoteID,
		Subject:   "subject " + remoteID,
		DeletedAt: deletedAt,
	}
	if err := f.emailRepo.Create(email); err != nil {
		t.Fatalf("create email: %v", err)
	}
	return email
}

func TestMoveToTrashAndRestore(t *testing.T) {
	f := newTrashFixture(t, 0)
	email := f.createEmail(t, "r1", nil)

	if err := f.lifecycle.MoveToTrash(email.ID); err != nil {
		t.Fatalf("MoveToTrash: %v", err)
	}
	trashed, _ := f.emailRepo.FindByID(email.ID)
	if trashed.DeletedAt == nil {
		t.Fatal("deleted_at not set")
	}
	if !trashed.RemoteTrashPending {
		t.Error("remote trash not marked pending")
	}

	// Trashing again is a no-op.
	if err := f.lifecycle.MoveToTrash(email.ID); err != nil {
		t.Fatalf("repeat MoveToTrash: %v", err)
	}

	if err := f.lifecycle.Restore(email.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	restored, _ := f.emailRepo.FindByID(email.ID)
	if restored.DeletedAt != nil {
		t.Error("deleted_at not cleared on restore")
	}
	if restored.RemoteTrashPending {
		t.Error("pending flag survived restore")
	}
	// The trash call never reached the provider, so there is no remote
	// state to undo.
	if restored.RemoteUntrashPending {
		t.Error("untrash marked pending although the remote was never trashed")
	}
}

func TestRestoreOfSyncedTrashMarksUntrashPending(t *testing.T) {
	f := newTrashFixture(t, 0)
	now := time.Now()
	email := f.createEmail(t, "r1", &now)

	// Trashed and already synced outward.
	if err := f.lifecycle.Restore(email.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restored, _ := f.emailRepo.FindByID(email.ID)
	if restored.DeletedAt != nil {
		t.Error("deleted_at not cleared on restore")
	}
	if !restored.RemoteUntrashPending {
		t.Error("restore of a synced trash did not mark the remote untrash pending")
	}
}

func TestRestoreActiveEmailFails(t *testing.T) {
	f := newTrashFixture(t, 0)
	email := f.createEmail(t, "r1", nil)

	err := f.lifecycle.Restore(email.ID)
	if !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("Restore(active) err = %v, want ErrInvalidState", err)
	}
}

func TestPurgeIsTerminal(t *testing.T) {
	f := newTrashFixture(t, 0)
	now := time.Now()
	email := f.createEmail(t, "r1", &now)

	if err := f.lifecycle.Purge(email.ID); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	gone, err := f.emailRepo.FindByID(email.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if gone != nil {
		t.Fatal("email still present after purge")
	}

	if err := f.lifecycle.Purge(email.ID); !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("second Purge err = %v, want ErrInvalidState", err)
	}
	if err := f.lifecycle.Restore(email.ID); !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("Restore after purge err = %v, want ErrInvalidState", err)
	}

	if got := f.publisher.kinds()[emaildomain.ChangeTrashPurged]; got != 1 {
		t.Errorf("purge events = %d, want 1", got)
	}
}

func TestPurgeActiveEmailFails(t *testing.T) {
	f := newTrashFixture(t, 0)
	email := f.createEmail(t, "r1", nil)

	if err := f.lifecycle.Purge(email.ID); !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("Purge(active) err = %v, want ErrInvalidState", err)
	}
	if still, _ := f.emailRepo.FindByID(email.ID); still == nil {
		t.Error("active email was deleted by a failed purge")
	}
}

func TestSweepExpiredHonorsRetention(t *testing.T) {
	retention := 30 * 24 * time.Hour
	f := newTrashFixture(t, retention)

	old := time.Now().Add(-31 * 24 * time.Hour)
	recent := time.Now().Add(-29 * 24 * time.Hour)
	expired := f.createEmail(t, "r-old", &old)
	kept := f.createEmail(t, "r-recent", &recent)
	active := f.createEmail(t, "r-active", nil)

	purged, err := f.lifecycle.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if e, _ := f.emailRepo.FindByID(expired.ID); e != nil {
		t.Error("expired email survived the sweep")
	}
	if e, _ := f.emailRepo.FindByID(kept.ID); e == nil {
		t.Error("email inside the retention window was purged")
	}
	if e, _ := f.emailRepo.FindByID(active.ID); e == nil {
		t.Error("active email was purged")
	}
}
