package verification

import (
	"context"
	"time"
)

// Purpose records which flow requested a code, so the validator does not
// have to infer it from the presence of staged registration data.
type Purpose string

const (
	// PurposeSignUp marks a code issued for a staged registration.
	PurposeSignUp Purpose = "signup"
	// PurposeSignIn marks a code issued to re-prove mailbox possession for
	// an existing account.
	PurposeSignIn Purpose = "signin"
)

// Record is a live verification code for one email address.
type Record struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Purpose   Purpose   `json:"purpose"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeStore persists verification records keyed by normalized email.
// Put has overwrite semantics: at most one live record exists per email.
// CompareAndDelete must be atomic so that two racing verify calls for the
// same code cannot both consume it; the loser observes a missing record.
type CodeStore interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, email string) (*Record, error)
	Delete(ctx context.Context, email string) error
	CompareAndDelete(ctx context.Context, email, code string) (bool, error)
}
