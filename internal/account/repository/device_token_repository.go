package repository

import (
	"time"

	accountdomain "saigbox-backend/internal/account/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceTokenRepository persists FCM registrations per account.
type DeviceTokenRepository interface {
	SaveToken(accountID, token, deviceInfo string) error
	FindByAccountID(accountID string) ([]accountdomain.DeviceToken, error)
	DeleteToken(token string) error
}

type deviceTokenRepository struct {
	db *gorm.DB
}

// NewDeviceTokenRepository creates a GORM-backed DeviceTokenRepository.
func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

// SaveToken upserts on the token column so a re-registering device moves
// to its current account.
func (r *deviceTokenRepository) SaveToken(accountID, token, deviceInfo string) error {
	row := &accountdomain.DeviceToken{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Token:      token,
		DeviceInfo: deviceInfo,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_id", "device_info", "updated_at"}),
	}).Create(row).Error
}

func (r *deviceTokenRepository) FindByAccountID(accountID string) ([]accountdomain.DeviceToken, error) {
	var tokens []accountdomain.DeviceToken
	err := r.db.Where("account_id = ?", accountID).Find(&tokens).Error
	return tokens, err
}

func (r *deviceTokenRepository) DeleteToken(token string) error {
	return r.db.Where("token = ?", token).Delete(&accountdomain.DeviceToken{}).Error
}
