package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pulsecare/pulsecare/internal/models"
	"github.com/pulsecare/pulsecare/internal/registration"
	"github.com/pulsecare/pulsecare/pkg/logger"
)

const (
	defaultSchedule         = "@every 10m"
	defaultPendingRetention = 24 * time.Hour
)

// Sweeper removes rows the verification flow leaves behind: codes past their
// deadline and staged registrations that were never verified. Consumed codes
// delete themselves; everything else ages out here.
type Sweeper struct {
	db      *gorm.DB
	staging *registration.Store
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	schedule         string
	pendingRetention time.Duration
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithPendingRetention adjusts how long unverified staged registrations are kept.
func WithPendingRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.pendingRetention = d
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, staging *registration.Store, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:               db,
		staging:          staging,
		now:              time.Now,
		schedule:         defaultSchedule,
		pendingRetention: defaultPendingRetention,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the sweep with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.db == nil && s.staging == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("verification sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running sweep to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes one sweep. Also used in tests and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	var errs error

	if s.db != nil {
		removed, err := CleanupExpiredCodes(ctx, s.db, now)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			s.log.Info("removed expired verification codes", zap.Int64("count", removed))
		}
	}

	if s.staging != nil && s.pendingRetention > 0 {
		removed, err := s.staging.DeleteStale(ctx, now.Add(-s.pendingRetention))
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			s.log.Info("removed stale pending registrations", zap.Int64("count", removed))
		}
	}

	return errs
}

// CleanupExpiredCodes deletes verification codes whose deadline has passed.
func CleanupExpiredCodes(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup codes: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}
