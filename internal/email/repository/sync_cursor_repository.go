package repository

import (
	"time"

	emaildomain "saigbox-backend/internal/email/domain"

	"gorm.io/gorm"
)

// SyncCursorRepository persists per-account sync positions so restarts
// resume without a full re-fetch.
type SyncCursorRepository interface {
	// Get returns the cursor for the account, creating an empty one on
	// first use.
	Get(accountID string) (*emaildomain.SyncCursor, error)
	// Advance stores a new position and resets the failure counter.
	Advance(cursor *emaildomain.SyncCursor, position string) error
	// RecordFailure bumps the consecutive-failure counter.
	RecordFailure(accountID string) (int, error)
	// ResetFailures clears the counter without touching the position.
	ResetFailures(accountID string) error
}

type syncCursorRepository struct {
	db *gorm.DB
}

// NewSyncCursorRepository creates a GORM-backed SyncCursorRepository.
func NewSyncCursorRepository(db *gorm.DB) SyncCursorRepository {
	return &syncCursorRepository{db: db}
}

func (r *syncCursorRepository) Get(accountID string) (*emaildomain.SyncCursor, error) {
	var cursor emaildomain.SyncCursor
	err := r.db.Where("account_id = ?", accountID).First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		cursor = emaildomain.SyncCursor{
			AccountID: accountID,
			UpdatedAt: time.Now(),
		}
		if err := r.db.Create(&cursor).Error; err != nil {
			return nil, err
		}
		return &cursor, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *syncCursorRepository) Advance(cursor *emaildomain.SyncCursor, position string) error {
	now := time.Now()
	cursor.Position = position
	cursor.LastSuccessAt = &now
	cursor.FailureCount = 0
	cursor.UpdatedAt = now
	return r.db.Save(cursor).Error
}

func (r *syncCursorRepository) RecordFailure(accountID string) (int, error) {
	cursor, err := r.Get(accountID)
	if err != nil {
		return 0, err
	}
	cursor.FailureCount++
	cursor.UpdatedAt = time.Now()
	if err := r.db.Save(cursor).Error; err != nil {
		return 0, err
	}
	return cursor.FailureCount, nil
}

func (r *syncCursorRepository) ResetFailures(accountID string) error {
	return r.db.Model(&emaildomain.SyncCursor{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"failure_count": 0,
			"updated_at":    time.Now(),
		}).Error
}
