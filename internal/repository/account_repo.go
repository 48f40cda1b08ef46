package repository

import (
	"errors"

	"gorm.io/gorm"

	"ghvault/internal/models"
)

// AccountRepository handles credential account database operations.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindAll returns accounts, optionally filtered by kind or group tag.
func (r *AccountRepository) FindAll(kind, groupTag string) ([]models.CredentialAccount, error) {
	db := r.db.Model(&models.CredentialAccount{})
	if kind != "" {
		db = db.Where("kind = ?", kind)
	}
	if groupTag != "" {
		db = db.Where("group_tag = ?", groupTag)
	}

	var accounts []models.CredentialAccount
	if err := db.Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// FindByID returns an account, or nil when it does not exist.
func (r *AccountRepository) FindByID(id uint) (*models.CredentialAccount, error) {
	var account models.CredentialAccount
	if err := r.db.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// FindByIDs returns the accounts that exist among the given ids.
func (r *AccountRepository) FindByIDs(ids []uint) ([]models.CredentialAccount, error) {
	var accounts []models.CredentialAccount
	if len(ids) == 0 {
		return accounts, nil
	}
	if err := r.db.Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Create inserts a new account.
func (r *AccountRepository) Create(account *models.CredentialAccount) error {
	return r.db.Create(account).Error
}

// Update updates account fields.
func (r *AccountRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.CredentialAccount{}).Where("id = ?", id).Updates(updates).Error
}

// Delete removes an account.
func (r *AccountRepository) Delete(id uint) error {
	return r.db.Delete(&models.CredentialAccount{}, id).Error
}
