package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/email/repository"
	"saigbox-backend/pkg/keylock"

	"gorm.io/gorm"
)

// TrashLifecycle enforces the Active → Trashed → {Active, Purged} state
// machine. Purged is terminal. Restore and purge on the same id are mutually
// exclusive via per-id locking; different ids never interfere.
type TrashLifecycle struct {
	db        *gorm.DB
	emailRepo repository.EmailRepository
	publisher emaildomain.Publisher
	rowLocks  *keylock.KeyedMutex
	retention time.Duration
}

// NewTrashLifecycle creates the lifecycle manager. retention is how long a
// trashed email survives before sweepExpired purges it.
func NewTrashLifecycle(db *gorm.DB, emailRepo repository.EmailRepository, publisher emaildomain.Publisher, rowLocks *keylock.KeyedMutex, retention time.Duration) *TrashLifecycle {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &TrashLifecycle{
		db:        db,
		emailRepo: emailRepo,
		publisher: publisher,
		rowLocks:  rowLocks,
		retention: retention,
	}
}

// MoveToTrash sets deleted_at and marks the remote trash call pending.
// Idempotent if the email is already trashed.
func (t *TrashLifecycle) MoveToTrash(emailID string) error {
	unlock := t.rowLocks.Lock(emailID)
	defer unlock()

	email, err := t.emailRepo.FindByID(emailID)
	if err != nil {
		return err
	}
	if email == nil {
		return fmt.Errorf("email %s: %w", emailID, emaildomain.ErrNotFound)
	}
	if email.IsTrashed() {
		return nil
	}

	now := time.Now()
	email.DeletedAt = &now
	email.RemoteTrashPending = true
	email.RemoteUntrashPending = false
	if err := t.emailRepo.UpdateWithVersion(email); err != nil {
		return err
	}

	if t.publisher != nil {
		t.publisher.Publish(email.AccountID, emaildomain.ChangeEvent{
			Kind:     emaildomain.ChangeEmailUpdated,
			EntityID: email.ID,
		})
	}
	return nil
}

// Restore clears deleted_at and marks the remote untrash call pending so
// the scheduler pushes it outward. Fails with ErrInvalidState unless the
// email is currently trashed; a purged email no longer exists and also
// fails.
func (t *TrashLifecycle) Restore(emailID string) error {
	unlock := t.rowLocks.Lock(emailID)
	defer unlock()

	email, err := t.emailRepo.FindByID(emailID)
	if err != nil {
		return err
	}
	if email == nil {
		return fmt.Errorf("email %s purged or unknown: %w", emailID, emaildomain.ErrInvalidState)
	}
	if !email.IsTrashed() {
		return fmt.Errorf("email %s is active: %w", emailID, emaildomain.ErrInvalidState)
	}

	// If the trash call never reached the provider there is nothing to
	// undo remotely.
	email.RemoteUntrashPending = !email.RemoteTrashPending
	email.DeletedAt = nil
	email.RemoteTrashPending = false
	if err := t.emailRepo.UpdateWithVersion(email); err != nil {
		return err
	}

	if t.publisher != nil {
		t.publisher.Publish(email.AccountID, emaildomain.ChangeEvent{
			Kind:     emaildomain.ChangeEmailUpdated,
			EntityID: email.ID,
		})
	}
	return nil
}

// Purge hard-deletes a trashed email. Linked action items keep their plain
// email id reference; nothing cascades. Fails with ErrInvalidState on an
// active email; a second purge of the same id fails the same way.
func (t *TrashLifecycle) Purge(emailID string) error {
	unlock := t.rowLocks.Lock(emailID)
	defer unlock()

	return t.purgeLocked(emailID)
}

func (t *TrashLifecycle) purgeLocked(emailID string) error {
	email, err := t.emailRepo.FindByID(emailID)
	if err != nil {
		return err
	}
	if email == nil {
		return fmt.Errorf("email %s purged or unknown: %w", emailID, emaildomain.ErrInvalidState)
	}
	if !email.IsTrashed() {
		return fmt.Errorf("email %s is active: %w", emailID, emaildomain.ErrInvalidState)
	}

	if err := t.emailRepo.Delete(email.ID); err != nil {
		return err
	}

	if t.publisher != nil {
		t.publisher.Publish(email.AccountID, emaildomain.ChangeEvent{
			Kind:     emaildomain.ChangeTrashPurged,
			EntityID: email.ID,
		})
	}
	return nil
}

// SweepExpired purges every trashed email whose deleted_at age exceeds the
// retention window. Safe to run concurrently with restore/purge on other
// ids; the per-id lock keeps it off any id mid-restore.
func (t *TrashLifecycle) SweepExpired() (int, error) {
	cutoff := time.Now().Add(-t.retention)
	expired, err := t.emailRepo.ListTrashedBefore(cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, email := range expired {
		unlock := t.rowLocks.Lock(email.ID)
		err := t.purgeLocked(email.ID)
		unlock()
		if err != nil {
			// Restored (or already purged) between listing and locking.
			continue
		}
		purged++
	}
	return purged, nil
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is cancelled.
func (t *TrashLifecycle) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := t.SweepExpired(); err != nil {
					log.Printf("[TrashLifecycle] Sweep failed: %v", err)
				} else if n > 0 {
					log.Printf("[TrashLifecycle] Sweep purged %d expired email(s)", n)
				}
			}
		}
	}()
}
