package repository

import (
	"time"

	"saigbox-backend/internal/huddle/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HuddleRepository persists huddles and their members and messages.
type HuddleRepository interface {
	Create(huddle *domain.Huddle) error
	FindByID(id string) (*domain.Huddle, error)
	FindByMemberEmail(email string, status *domain.HuddleStatus) ([]*domain.Huddle, error)
	Update(huddle *domain.Huddle) error
	AddMember(member *domain.HuddleMember) error
	AddMessage(message *domain.HuddleMessage) error
	ListMessages(huddleID string, limit int) ([]*domain.HuddleMessage, error)
	ShareEmail(share *domain.HuddleEmail) error
}

type huddleRepository struct {
	db *gorm.DB
}

// NewHuddleRepository creates a GORM-backed HuddleRepository.
func NewHuddleRepository(db *gorm.DB) HuddleRepository {
	return &huddleRepository{db: db}
}

func (r *huddleRepository) Create(huddle *domain.Huddle) error {
	if huddle.ID == "" {
		huddle.ID = uuid.New().String()
	}
	now := time.Now()
	huddle.CreatedAt = now
	huddle.UpdatedAt = now
	for i := range huddle.Members {
		if huddle.Members[i].ID == "" {
			huddle.Members[i].ID = uuid.New().String()
		}
		huddle.Members[i].HuddleID = huddle.ID
		huddle.Members[i].JoinedAt = now
	}
	return r.db.Create(huddle).Error
}

func (r *huddleRepository) FindByID(id string) (*domain.Huddle, error) {
	var huddle domain.Huddle
	err := r.db.Preload("Members").Where("id = ?", id).First(&huddle).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &huddle, nil
}

func (r *huddleRepository) FindByMemberEmail(email string, status *domain.HuddleStatus) ([]*domain.Huddle, error) {
	var huddles []*domain.Huddle
	query := r.db.Preload("Members").
		Joins("JOIN huddle_members ON huddle_members.huddle_id = huddles.id").
		Where("huddle_members.user_email = ?", email)
	if status != nil {
		query = query.Where("huddles.status = ?", *status)
	}
	err := query.Order("huddles.updated_at DESC").Find(&huddles).Error
	return huddles, err
}

func (r *huddleRepository) Update(huddle *domain.Huddle) error {
	huddle.UpdatedAt = time.Now()
	return r.db.Save(huddle).Error
}

func (r *huddleRepository) AddMember(member *domain.HuddleMember) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	member.JoinedAt = time.Now()
	return r.db.Create(member).Error
}

func (r *huddleRepository) AddMessage(message *domain.HuddleMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now()
	return r.db.Create(message).Error
}

func (r *huddleRepository) ListMessages(huddleID string, limit int) ([]*domain.HuddleMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var messages []*domain.HuddleMessage
	err := r.db.Where("huddle_id = ?", huddleID).
		Order("created_at ASC").Limit(limit).Find(&messages).Error
	return messages, err
}

func (r *huddleRepository) ShareEmail(share *domain.HuddleEmail) error {
	if share.ID == "" {
		share.ID = uuid.New().String()
	}
	share.SharedAt = time.Now()
	return r.db.Create(share).Error
}
