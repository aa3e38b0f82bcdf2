package repository

import (
	"time"

	accountdomain "saigbox-backend/internal/account/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountRepository persists connected mailbox accounts.
type AccountRepository interface {
	Create(account *accountdomain.Account) error
	FindByID(id string) (*accountdomain.Account, error)
	FindByEmail(email string) (*accountdomain.Account, error)
	FindAll() ([]*accountdomain.Account, error)
	Update(account *accountdomain.Account) error
	SetSuspended(id string, suspended bool) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a GORM-backed AccountRepository.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *accountdomain.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	return r.db.Create(account).Error
}

func (r *accountRepository) FindByID(id string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindByEmail(email string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := r.db.Where("email = ?", email).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindAll() ([]*accountdomain.Account, error) {
	var accounts []*accountdomain.Account
	err := r.db.Order("created_at ASC").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) Update(account *accountdomain.Account) error {
	account.UpdatedAt = time.Now()
	return r.db.Save(account).Error
}

func (r *accountRepository) SetSuspended(id string, suspended bool) error {
	return r.db.Model(&accountdomain.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"suspended":  suspended,
			"updated_at": time.Now(),
		}).Error
}
