package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the provider rejected the account's token.
	// The scheduler suspends the account until a valid token is available.
	ErrUnauthenticated = errors.New("provider token invalid or expired")

	// ErrInvalidState is returned on trash lifecycle misuse (restoring an
	// active email, purging an active email, touching a purged one).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrConflict means a row-level mutation lost a race with a concurrent
	// writer; retrying the single operation is safe.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrNotFound is returned by repositories for missing rows.
	ErrNotFound = errors.New("record not found")

	// ErrSyncInProgress is returned when a manual sync is requested while a
	// tick for the same account is already running.
	ErrSyncInProgress = errors.New("sync already in progress for account")
)

// ProviderError wraps a remote mailbox failure with a transient/permanent
// classification. Transient errors are retried with backoff and never stop
// the scheduler loop.
type ProviderError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
