package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pulsecare/pulsecare/internal/models"
	"github.com/pulsecare/pulsecare/internal/verification"
)

// ErrNotFound indicates that no account matches the given key.
var ErrNotFound = errors.New("accounts: not found")

// Store is the durable account collection. Email uniqueness is enforced at
// the storage layer.
type Store interface {
	Create(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// GormStore implements Store on the primary database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a database-backed account store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("accounts: db is required")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, account *models.Account) error {
	account.Email = verification.NormalizeEmail(account.Email)
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("accounts: create: %w", err)
	}
	return nil
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).
		Take(&account, "email = ?", verification.NormalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: find by email: %w", err)
	}
	return &account, nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Take(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: find by id: %w", err)
	}
	return &account, nil
}

// Touch records a successful login without rewriting the rest of the row.
func (s *GormStore) Touch(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("last_login_at", at)
	if res.Error != nil {
		return fmt.Errorf("accounts: touch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Account{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("accounts: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
