package verification

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsecare/pulsecare/internal/models"
)

// SQLStore keeps verification codes in the primary database. It is the
// fallback backend for deployments without Redis.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore constructs a database-backed code store.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("verification: db is required")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	row := models.VerificationCode{
		Email:     rec.Email,
		Code:      rec.Code,
		Purpose:   string(rec.Purpose),
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"code", "purpose", "issued_at", "expires_at"}),
		}).Create(&row).Error
}

func (s *SQLStore) Get(ctx context.Context, email string) (*Record, error) {
	var row models.VerificationCode
	err := s.db.WithContext(ctx).Take(&row, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Record{
		Email:     row.Email,
		Code:      row.Code,
		Purpose:   Purpose(row.Purpose),
		IssuedAt:  row.IssuedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *SQLStore) Delete(ctx context.Context, email string) error {
	return s.db.WithContext(ctx).Delete(&models.VerificationCode{}, "email = ?", email).Error
}

// CompareAndDelete removes the record only when the stored code matches.
// The conditional DELETE makes consumption single-winner: of two racing
// calls, exactly one sees RowsAffected == 1.
func (s *SQLStore) CompareAndDelete(ctx context.Context, email, code string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("email = ? AND code = ?", email, code).
		Delete(&models.VerificationCode{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
