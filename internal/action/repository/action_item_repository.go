package repository

import (
	"time"

	"saigbox-backend/internal/action/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActionItemRepository persists action items.
type ActionItemRepository interface {
	Create(item *domain.ActionItem) error
	FindByID(id string) (*domain.ActionItem, error)
	FindByAccountID(accountID string, status *domain.Status, limit, offset int) ([]*domain.ActionItem, int64, error)
	// FindOpenByNormalizedTitle returns a non-completed item linked to the
	// same email with the same normalized title, if any. Used for dedup.
	FindOpenByNormalizedTitle(emailID, normalizedTitle string) (*domain.ActionItem, error)
	Update(item *domain.ActionItem) error
	Delete(id string) error
}

type actionItemRepository struct {
	db *gorm.DB
}

// NewActionItemRepository creates a GORM-backed ActionItemRepository.
func NewActionItemRepository(db *gorm.DB) ActionItemRepository {
	return &actionItemRepository{db: db}
}

func (r *actionItemRepository) Create(item *domain.ActionItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	return r.db.Create(item).Error
}

func (r *actionItemRepository) FindByID(id string) (*domain.ActionItem, error) {
	var item domain.ActionItem
	err := r.db.Where("id = ?", id).First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *actionItemRepository) FindByAccountID(accountID string, status *domain.Status, limit, offset int) ([]*domain.ActionItem, int64, error) {
	var items []*domain.ActionItem
	var total int64

	query := r.db.Model(&domain.ActionItem{}).Where("account_id = ?", accountID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	err := query.Order("CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC, created_at DESC").
		Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

func (r *actionItemRepository) FindOpenByNormalizedTitle(emailID, normalizedTitle string) (*domain.ActionItem, error) {
	var item domain.ActionItem
	err := r.db.Where("email_id = ? AND normalized_title = ? AND status <> ?",
		emailID, normalizedTitle, domain.StatusCompleted).First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *actionItemRepository) Update(item *domain.ActionItem) error {
	item.UpdatedAt = time.Now()
	return r.db.Save(item).Error
}

func (r *actionItemRepository) Delete(id string) error {
	return r.db.Delete(&domain.ActionItem{}, "id = ?", id).Error
}
