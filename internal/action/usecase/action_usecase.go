package usecase

import (
	"fmt"
	"time"

	"saigbox-backend/internal/action/domain"
	"saigbox-backend/internal/action/repository"
	emaildomain "saigbox-backend/internal/email/domain"
)

// ActionUsecase handles explicit action item operations. Auto-extraction
// lives in Extractor; both share the repository and the dedup key.
type ActionUsecase struct {
	actionRepo repository.ActionItemRepository
	publisher  emaildomain.Publisher
}

// NewActionUsecase creates an ActionUsecase.
func NewActionUsecase(actionRepo repository.ActionItemRepository, publisher emaildomain.Publisher) *ActionUsecase {
	return &ActionUsecase{actionRepo: actionRepo, publisher: publisher}
}

// CreateInput is a user-authored action item. EmailID is optional.
type CreateInput struct {
	AccountID   string
	EmailID     string
	Title       string
	Description string
	DueDate     *time.Time
	Priority    string
	SourceQuote string
}

// Create persists a user-authored action item.
func (u *ActionUsecase) Create(in CreateInput) (*domain.ActionItem, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("action item title is required")
	}

	item := &domain.ActionItem{
		AccountID:       in.AccountID,
		EmailID:         in.EmailID,
		Title:           in.Title,
		NormalizedTitle: NormalizeTitle(in.Title),
		Description:     in.Description,
		DueDate:         in.DueDate,
		Priority:        domain.ParsePriority(in.Priority),
		Status:          domain.StatusPending,
		SourceQuote:     in.SourceQuote,
	}
	if err := u.actionRepo.Create(item); err != nil {
		return nil, err
	}

	u.publish(item.AccountID, emaildomain.ChangeActionItemCreated, item.ID)
	return item, nil
}

// List returns the account's action items, optionally filtered by status.
func (u *ActionUsecase) List(accountID string, status *domain.Status, limit, offset int) ([]*domain.ActionItem, int64, error) {
	return u.actionRepo.FindByAccountID(accountID, status, limit, offset)
}

// Get returns one action item scoped to the account.
func (u *ActionUsecase) Get(accountID, id string) (*domain.ActionItem, error) {
	item, err := u.actionRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if item == nil || item.AccountID != accountID {
		return nil, emaildomain.ErrNotFound
	}
	return item, nil
}

// UpdateInput carries the mutable fields. Nil pointers leave the field
// unchanged.
type UpdateInput struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	ClearDue    bool
	Priority    *string
}

// Update edits a pending or dismissed item. Completed items are immutable.
func (u *ActionUsecase) Update(accountID, id string, in UpdateInput) (*domain.ActionItem, error) {
	item, err := u.Get(accountID, id)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.StatusCompleted {
		return nil, fmt.Errorf("action item %s is completed: %w", id, emaildomain.ErrInvalidState)
	}

	if in.Title != nil && *in.Title != "" {
		item.Title = *in.Title
		item.NormalizedTitle = NormalizeTitle(*in.Title)
	}
	if in.Description != nil {
		item.Description = *in.Description
	}
	if in.ClearDue {
		item.DueDate = nil
	} else if in.DueDate != nil {
		item.DueDate = in.DueDate
	}
	if in.Priority != nil {
		item.Priority = domain.ParsePriority(*in.Priority)
	}

	if err := u.actionRepo.Update(item); err != nil {
		return nil, err
	}
	u.publish(item.AccountID, emaildomain.ChangeActionItemUpdated, item.ID)
	return item, nil
}

// Complete marks a pending or dismissed item done. Idempotent.
func (u *ActionUsecase) Complete(accountID, id string) (*domain.ActionItem, error) {
	item, err := u.Get(accountID, id)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.StatusCompleted {
		return item, nil
	}

	now := time.Now()
	item.Status = domain.StatusCompleted
	item.CompletedAt = &now
	if err := u.actionRepo.Update(item); err != nil {
		return nil, err
	}
	u.publish(item.AccountID, emaildomain.ChangeActionItemUpdated, item.ID)
	return item, nil
}

// Dismiss hides a pending item without completing it.
func (u *ActionUsecase) Dismiss(accountID, id string) (*domain.ActionItem, error) {
	item, err := u.Get(accountID, id)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.StatusCompleted {
		return nil, fmt.Errorf("action item %s is completed: %w", id, emaildomain.ErrInvalidState)
	}
	if item.Status == domain.StatusDismissed {
		return item, nil
	}

	item.Status = domain.StatusDismissed
	if err := u.actionRepo.Update(item); err != nil {
		return nil, err
	}
	u.publish(item.AccountID, emaildomain.ChangeActionItemUpdated, item.ID)
	return item, nil
}

// Delete removes an item entirely.
func (u *ActionUsecase) Delete(accountID, id string) error {
	item, err := u.Get(accountID, id)
	if err != nil {
		return err
	}
	return u.actionRepo.Delete(item.ID)
}

func (u *ActionUsecase) publish(accountID string, kind emaildomain.ChangeKind, entityID string) {
	if u.publisher != nil {
		u.publisher.Publish(accountID, emaildomain.ChangeEvent{Kind: kind, EntityID: entityID})
	}
}
