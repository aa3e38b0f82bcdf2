package repository

import (
	"strings"
	"time"

	emaildomain "saigbox-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailRepository persists the local email mirror. Construct one per
// transaction scope: NewEmailRepository(tx) inside db.Transaction gives a
// repository whose writes commit or roll back with the page.
type EmailRepository interface {
	Create(email *emaildomain.Email) error
	FindByID(id string) (*emaildomain.Email, error)
	FindByRemoteID(accountID, remoteID string) (*emaildomain.Email, error)
	// Save writes all fields and bumps SyncVersion unconditionally.
	Save(email *emaildomain.Email) error
	// UpdateWithVersion writes all fields only if the row still carries the
	// SyncVersion the caller read; returns ErrConflict otherwise.
	UpdateWithVersion(email *emaildomain.Email) error
	// Delete hard-deletes the row. Used only by purge.
	Delete(id string) error

	ListInbox(accountID string, limit, offset int) ([]*emaildomain.Email, int64, error)
	ListTrash(accountID string) ([]*emaildomain.Email, error)
	ListTrashedBefore(cutoff time.Time) ([]*emaildomain.Email, error)
	ListRemoteTrashPending(accountID string) ([]*emaildomain.Email, error)
	ListRemoteUntrashPending(accountID string) ([]*emaildomain.Email, error)
	Search(accountID string, filter emaildomain.Filter) ([]*emaildomain.Email, error)
}

type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a GORM-backed EmailRepository.
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) Create(email *emaildomain.Email) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	now := time.Now()
	email.CreatedAt = now
	email.UpdatedAt = now
	return r.db.Create(email).Error
}

func (r *emailRepository) FindByID(id string) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.Where("id = ?", id).First(&email).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) FindByRemoteID(accountID, remoteID string) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.Where("account_id = ? AND remote_id = ?", accountID, remoteID).First(&email).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) Save(email *emaildomain.Email) error {
	email.SyncVersion++
	email.UpdatedAt = time.Now()
	return r.db.Save(email).Error
}

func (r *emailRepository) UpdateWithVersion(email *emaildomain.Email) error {
	readVersion := email.SyncVersion
	email.SyncVersion = readVersion + 1
	email.UpdatedAt = time.Now()

	result := r.db.Model(&emaildomain.Email{}).
		Where("id = ? AND sync_version = ?", email.ID, readVersion).
		Select("*").Updates(email)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		email.SyncVersion = readVersion
		return emaildomain.ErrConflict
	}
	return nil
}

func (r *emailRepository) Delete(id string) error {
	return r.db.Delete(&emaildomain.Email{}, "id = ?", id).Error
}

func (r *emailRepository) ListInbox(accountID string, limit, offset int) ([]*emaildomain.Email, int64, error) {
	var emails []*emaildomain.Email
	var total int64

	query := r.db.Model(&emaildomain.Email{}).
		Where("account_id = ? AND deleted_at IS NULL", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	err := query.Order("received_at DESC").Limit(limit).Offset(offset).Find(&emails).Error
	return emails, total, err
}

func (r *emailRepository) ListTrash(accountID string) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.Where("account_id = ? AND deleted_at IS NOT NULL", accountID).
		Order("deleted_at DESC").Find(&emails).Error
	return emails, err
}

func (r *emailRepository) ListTrashedBefore(cutoff time.Time) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Find(&emails).Error
	return emails, err
}

func (r *emailRepository) ListRemoteTrashPending(accountID string) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.Where("account_id = ? AND remote_trash_pending = ?", accountID, true).
		Find(&emails).Error
	return emails, err
}

func (r *emailRepository) ListRemoteUntrashPending(accountID string) ([]*emaildomain.Email, error) {
	var emails []*emaildomain.Email
	err := r.db.Where("account_id = ? AND remote_untrash_pending = ?", accountID, true).
		Find(&emails).Error
	return emails, err
}

func (r *emailRepository) Search(accountID string, filter emaildomain.Filter) ([]*emaildomain.Email, error) {
	query := r.db.Where("account_id = ?", accountID)

	if filter.InTrash {
		query = query.Where("deleted_at IS NOT NULL")
	} else {
		query = query.Where("deleted_at IS NULL")
	}
	if filter.Sender != "" {
		pattern := "%" + strings.ToLower(filter.Sender) + "%"
		query = query.Where("LOWER(sender) LIKE ? OR LOWER(sender_name) LIKE ?", pattern, pattern)
	}
	if filter.Unread != nil {
		query = query.Where("is_read = ?", !*filter.Unread)
	}
	if filter.Starred != nil {
		query = query.Where("is_starred = ?", *filter.Starred)
	}
	if filter.Query != "" {
		pattern := "%" + strings.ToLower(filter.Query) + "%"
		query = query.Where("LOWER(subject) LIKE ? OR LOWER(sender) LIKE ? OR LOWER(body) LIKE ?",
			pattern, pattern, pattern)
	}
	if filter.Before != nil {
		query = query.Where("received_at < ?", *filter.Before)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var emails []*emaildomain.Email
	err := query.Order("received_at DESC").Limit(limit).Find(&emails).Error
	return emails, err
}
