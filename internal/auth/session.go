package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsecare/pulsecare/internal/accounts"
	"github.com/pulsecare/pulsecare/internal/models"
	"github.com/pulsecare/pulsecare/internal/registration"
	"github.com/pulsecare/pulsecare/internal/verification"
	"github.com/pulsecare/pulsecare/pkg/crypto"
	"github.com/pulsecare/pulsecare/pkg/logger"
	"github.com/pulsecare/pulsecare/pkg/metrics"
)

// Phase names the position of a session in the authentication state machine.
type Phase string

const (
	// PhaseAnonymous is the initial phase; no flow is in progress.
	PhaseAnonymous Phase = "anonymous"
	// PhaseAwaitingVerification means a code was issued and the session is
	// waiting for it to be submitted.
	PhaseAwaitingVerification Phase = "awaiting_verification"
	// PhaseAuthenticated means the email was re-proven and an account id is
	// bound to the session.
	PhaseAuthenticated Phase = "authenticated"
)

// SessionState is an immutable snapshot of the session. Exactly one of
// PendingEmail and ActiveAccountID is set outside the anonymous phase,
// matching Phase.
type SessionState struct {
	Phase           Phase  `json:"phase"`
	PendingEmail    string `json:"pending_email,omitempty"`
	ActiveAccountID string `json:"active_account_id,omitempty"`
}

var (
	// ErrInvalidCredential is returned by SignIn when the email/credential
	// pair does not match an account. No code is issued in that case.
	ErrInvalidCredential = errors.New("auth: invalid credential")
	// ErrNoPendingFlow is returned by Verify when no sign-up or sign-in is
	// awaiting a code.
	ErrNoPendingFlow = errors.New("auth: no flow awaiting verification")
	// ErrNotAuthenticated guards operations that require an active account.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	// ErrStateInconsistent reports that a consumed code has no matching
	// backing data: a staged registration or account vanished mid-flow.
	// It indicates a data bug, not a user mistake.
	ErrStateInconsistent = errors.New("auth: verification state inconsistent")
)

// Config carries tunable behaviour for the SessionController.
type Config struct {
	Clock func() time.Time
}

// SessionController owns the process-local session state machine and drives
// the verification flow end to end. All mutations happen under one mutex so
// each public method is atomic from the caller's point of view.
type SessionController struct {
	codes    *verification.Service
	staging  *registration.Store
	accounts accounts.Store
	now      func() time.Time
	log      *zap.Logger

	mu             sync.Mutex
	state          SessionState
	pendingPurpose verification.Purpose
	subs           map[int]chan SessionState
	nextSub        int
}

// NewSessionController wires the controller to its collaborators. The
// session starts anonymous.
func NewSessionController(codes *verification.Service, staging *registration.Store, accountStore accounts.Store, cfg Config) (*SessionController, error) {
	if codes == nil {
		return nil, errors.New("session controller: verification service is required")
	}
	if staging == nil {
		return nil, errors.New("session controller: registration store is required")
	}
	if accountStore == nil {
		return nil, errors.New("session controller: account store is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionController{
		codes:    codes,
		staging:  staging,
		accounts: accountStore,
		now:      clock,
		log:      logger.WithModule("auth"),
		state:    SessionState{Phase: PhaseAnonymous},
		subs:     make(map[int]chan SessionState),
	}, nil
}

// State returns the current session snapshot.
func (c *SessionController) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Observe subscribes to session state changes. The current snapshot is
// delivered first; slow subscribers miss intermediate states rather than
// blocking the controller. The returned cancel func releases the stream.
func (c *SessionController) Observe() (<-chan SessionState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++

	ch := make(chan SessionState, 8)
	ch <- c.state
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SignUp stages a registration and issues a sign-up verification code. A
// sign-up or sign-in already in progress is silently abandoned in favour of
// the new flow.
func (c *SessionController) SignUp(ctx context.Context, email, displayName, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	email = verification.NormalizeEmail(email)
	if email == "" {
		return errors.New("session controller: email is required")
	}

	hashed, err := crypto.HashCredential(credential)
	if err != nil {
		return fmt.Errorf("session controller: hash credential: %w", err)
	}

	if err := c.staging.Stage(ctx, email, displayName, hashed); err != nil {
		return fmt.Errorf("session controller: stage registration: %w", err)
	}

	if _, err := c.codes.Issue(ctx, email, verification.PurposeSignUp); err != nil {
		return err
	}

	c.pendingPurpose = verification.PurposeSignUp
	c.setStateLocked(SessionState{Phase: PhaseAwaitingVerification, PendingEmail: email})
	return nil
}

// SignIn checks the credential against the account store and, only on a
// match, issues a sign-in verification code. A failed check returns
// ErrInvalidCredential before any code or email is produced.
func (c *SessionController) SignIn(ctx context.Context, email, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	email = verification.NormalizeEmail(email)

	account, err := c.accounts.FindByEmail(ctx, email)
	if errors.Is(err, accounts.ErrNotFound) {
		return ErrInvalidCredential
	}
	if err != nil {
		return fmt.Errorf("session controller: look up account: %w", err)
	}

	if !crypto.VerifyCredential(account.Credential, credential) {
		return ErrInvalidCredential
	}

	if _, err := c.codes.Issue(ctx, email, verification.PurposeSignIn); err != nil {
		return err
	}

	c.pendingPurpose = verification.PurposeSignIn
	c.setStateLocked(SessionState{Phase: PhaseAwaitingVerification, PendingEmail: email})
	return nil
}

// Verify submits a code for the pending email. On success the staged
// registration is promoted (sign-up) or the existing account touched
// (sign-in) and the session becomes authenticated. Verification failures
// leave the session awaiting so the caller can retry or restart.
func (c *SessionController) Verify(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseAwaitingVerification {
		return ErrNoPendingFlow
	}
	email := c.state.PendingEmail

	rec, err := c.codes.Consume(ctx, email, code)
	if err != nil {
		return err
	}

	var accountID string
	switch rec.Purpose {
	case verification.PurposeSignUp:
		accountID, err = c.promoteLocked(ctx, email)
	case verification.PurposeSignIn:
		accountID, err = c.touchLocked(ctx, email)
	default:
		err = fmt.Errorf("%w: unknown purpose %q", ErrStateInconsistent, rec.Purpose)
	}
	if err != nil {
		return err
	}

	c.setStateLocked(SessionState{Phase: PhaseAuthenticated, ActiveAccountID: accountID})
	return nil
}

// promoteLocked turns the staged registration into a durable account and
// clears the staging row. A failure to clear staging after the account
// exists is non-fatal: accounts are never retracted, the orphaned row is
// harmless and the sweep removes it later.
func (c *SessionController) promoteLocked(ctx context.Context, email string) (string, error) {
	staged, err := c.staging.Get(ctx, email)
	if err != nil {
		return "", fmt.Errorf("session controller: fetch staged registration: %w", err)
	}
	if staged == nil {
		c.log.Error("verified sign-up code has no staged registration", zap.String("email", email))
		return "", ErrStateInconsistent
	}

	now := c.now()
	account := &models.Account{
		Email:       email,
		DisplayName: staged.DisplayName,
		Credential:  staged.Credential,
		LastLoginAt: &now,
	}
	if err := c.accounts.Create(ctx, account); err != nil {
		return "", err
	}

	if err := c.staging.Delete(ctx, email); err != nil {
		c.log.Warn("failed to clear staged registration after promotion",
			zap.String("email", email),
			zap.Error(err))
	}

	return account.ID, nil
}

func (c *SessionController) touchLocked(ctx context.Context, email string) (string, error) {
	account, err := c.accounts.FindByEmail(ctx, email)
	if errors.Is(err, accounts.ErrNotFound) {
		c.log.Error("verified sign-in code has no matching account", zap.String("email", email))
		return "", ErrStateInconsistent
	}
	if err != nil {
		return "", err
	}

	if err := c.accounts.Touch(ctx, account.ID, c.now()); err != nil {
		return "", err
	}
	return account.ID, nil
}

// SignOut drops the session back to anonymous. It has no storage side
// effects beyond local state.
func (c *SessionController) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setStateLocked(SessionState{Phase: PhaseAnonymous})
}

// DeleteAccount removes the active account and resets the session.
func (c *SessionController) DeleteAccount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseAuthenticated {
		return ErrNotAuthenticated
	}

	if err := c.accounts.Delete(ctx, c.state.ActiveAccountID); err != nil {
		return fmt.Errorf("session controller: delete account: %w", err)
	}

	c.setStateLocked(SessionState{Phase: PhaseAnonymous})
	return nil
}

// ResendCode reissues a verification code for the pending email, keeping the
// same purpose and overwriting the earlier code.
func (c *SessionController) ResendCode(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseAwaitingVerification {
		return ErrNoPendingFlow
	}

	_, err := c.codes.Issue(ctx, c.state.PendingEmail, c.pendingPurpose)
	return err
}

// setStateLocked is the single point where the session phase changes, so the
// gauge tracks entering and leaving the authenticated phase no matter which
// operation caused the transition.
func (c *SessionController) setStateLocked(next SessionState) {
	switch {
	case c.state.Phase != PhaseAuthenticated && next.Phase == PhaseAuthenticated:
		metrics.AuthenticatedSessions.Inc()
	case c.state.Phase == PhaseAuthenticated && next.Phase != PhaseAuthenticated:
		metrics.AuthenticatedSessions.Dec()
	}

	c.state = next
	for _, sub := range c.subs {
		select {
		case sub <- next:
		default: // drop for slow subscribers
		}
	}
}
