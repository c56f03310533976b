package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsecare/pulsecare/pkg/crypto"
	"github.com/pulsecare/pulsecare/pkg/logger"
	"github.com/pulsecare/pulsecare/pkg/mail"
	"github.com/pulsecare/pulsecare/pkg/metrics"
)

const (
	// DefaultTTL bounds how long an issued code stays valid.
	DefaultTTL = 10 * time.Minute
	// DefaultCodeWidth is the number of digits in a generated code.
	DefaultCodeWidth = 6
)

var (
	// ErrNotFound indicates no live code exists for the email: none was
	// requested, it was already consumed, or a concurrent verify won the race.
	ErrNotFound = errors.New("verification: code not found")
	// ErrExpired indicates the code exists but its validity window has passed.
	ErrExpired = errors.New("verification: code expired")
	// ErrMismatch indicates the submitted code differs from the stored one.
	ErrMismatch = errors.New("verification: code mismatch")
)

// Option customises the Service.
type Option func(*Service)

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTTL overrides the code lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithCodeWidth adjusts the number of digits in generated codes.
func WithCodeWidth(digits int) Option {
	return func(s *Service) {
		if digits > 0 {
			s.codeWidth = digits
		}
	}
}

// Service issues and consumes email verification codes.
type Service struct {
	store     CodeStore
	mailer    mail.Mailer
	ttl       time.Duration
	codeWidth int
	now       func() time.Time
	log       *zap.Logger
}

// NewService constructs a verification service around the given store and
// notification gateway. The mailer may be nil for deployments that surface
// codes through another channel.
func NewService(store CodeStore, mailer mail.Mailer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("verification: store is required")
	}

	service := &Service{
		store:     store,
		mailer:    mailer,
		ttl:       DefaultTTL,
		codeWidth: DefaultCodeWidth,
		now:       time.Now,
		log:       logger.WithModule("verification"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Issue generates a fresh code for the email, overwriting any earlier code,
// and asks the gateway to deliver it. Issuance succeeds once the record is
// stored: delivery failure is logged and absorbed, never surfaced to the
// caller.
func (s *Service) Issue(ctx context.Context, email string, purpose Purpose) (Record, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Record{}, errors.New("verification: email is required")
	}

	code, err := crypto.GenerateNumericCode(s.codeWidth)
	if err != nil {
		return Record{}, fmt.Errorf("verification: generate code: %w", err)
	}

	now := s.now()
	rec := Record{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("verification: store code: %w", err)
	}

	metrics.CodesIssued.WithLabelValues(string(purpose)).Inc()

	if s.mailer != nil {
		msg := mail.Message{
			To:      email,
			Subject: "Your PulseCare verification code",
			Body:    s.messageBody(code),
		}
		if sendErr := s.mailer.Send(ctx, msg); sendErr != nil && !errors.Is(sendErr, mail.ErrDisabled) {
			s.log.Warn("verification email delivery failed",
				zap.String("email", email),
				zap.Error(sendErr))
		}
	}

	return rec, nil
}

// Consume validates a submitted code and removes it on success. The record
// is deleted atomically against the submitted code, so a code can be spent
// at most once even under concurrent verify calls.
func (s *Service) Consume(ctx context.Context, email, submitted string) (*Record, error) {
	email = NormalizeEmail(email)
	submitted = strings.TrimSpace(submitted)

	rec, err := s.store.Get(ctx, email)
	if err != nil {
		metrics.VerifyAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("verification: fetch code: %w", err)
	}
	if rec == nil {
		metrics.VerifyAttempts.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	// An expired row is left in place for the reaper.
	if s.now().After(rec.ExpiresAt) {
		metrics.VerifyAttempts.WithLabelValues("expired").Inc()
		return nil, ErrExpired
	}

	if submitted != rec.Code {
		metrics.VerifyAttempts.WithLabelValues("mismatch").Inc()
		return nil, ErrMismatch
	}

	consumed, err := s.store.CompareAndDelete(ctx, email, submitted)
	if err != nil {
		metrics.VerifyAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("verification: consume code: %w", err)
	}
	if !consumed {
		// A concurrent verify spent the code between Get and delete.
		metrics.VerifyAttempts.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	metrics.VerifyAttempts.WithLabelValues("success").Inc()
	return rec, nil
}

func (s *Service) messageBody(code string) string {
	minutes := int(s.ttl.Minutes())
	return fmt.Sprintf("Your PulseCare verification code is %s.\n\nIt expires in %d minutes. If you did not request it, you can ignore this message.\n", code, minutes)
}

// NormalizeEmail lowercases and trims an address so it can serve as a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
