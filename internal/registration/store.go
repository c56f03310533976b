package registration

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsecare/pulsecare/internal/models"
	"github.com/pulsecare/pulsecare/internal/verification"
)

// Store persists staged registrations between sign-up submission and
// successful email verification.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customises the Store.
type Option func(*Store)

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore constructs a database-backed staging store.
func NewStore(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("registration: db is required")
	}

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Stage records sign-up data for the email, replacing any earlier staged
// registration. Re-submitting a sign-up restarts the flow.
func (s *Store) Stage(ctx context.Context, email, displayName, credential string) error {
	email = verification.NormalizeEmail(email)
	if email == "" {
		return errors.New("registration: email is required")
	}

	row := models.PendingRegistration{
		Email:       email,
		DisplayName: displayName,
		Credential:  credential,
		CreatedAt:   s.now(),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "credential", "created_at"}),
		}).Create(&row).Error
}

// Get returns the staged registration for the email, or nil when none exists.
func (s *Store) Get(ctx context.Context, email string) (*models.PendingRegistration, error) {
	var row models.PendingRegistration
	err := s.db.WithContext(ctx).Take(&row, "email = ?", verification.NormalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Delete removes the staged registration for the email, if any.
func (s *Store) Delete(ctx context.Context, email string) error {
	return s.db.WithContext(ctx).
		Delete(&models.PendingRegistration{}, "email = ?", verification.NormalizeEmail(email)).Error
}

// DeleteStale removes registrations staged before the cutoff and reports how
// many rows were purged. Used by the maintenance sweep for abandoned flows.
func (s *Store) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.PendingRegistration{})
	return res.RowsAffected, res.Error
}
