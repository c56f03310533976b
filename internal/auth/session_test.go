package auth

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pulsecare/pulsecare/internal/accounts"
	"github.com/pulsecare/pulsecare/internal/database/testutil"
	"github.com/pulsecare/pulsecare/internal/models"
	"github.com/pulsecare/pulsecare/internal/registration"
	"github.com/pulsecare/pulsecare/internal/verification"
	"github.com/pulsecare/pulsecare/pkg/mail"
	"github.com/pulsecare/pulsecare/pkg/metrics"
)

type captureMailer struct {
	sent []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	ctrl    *SessionController
	codes   *verification.SQLStore
	staging *registration.Store
	users   *accounts.GormStore
	mailer  *captureMailer
	db      *gorm.DB
	clock   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clockFn := func() time.Time { return current }

	codeStore, err := verification.NewSQLStore(db)
	require.NoError(t, err)

	mailer := &captureMailer{}
	codeSvc, err := verification.NewService(codeStore, mailer, verification.WithClock(clockFn))
	require.NoError(t, err)

	staging, err := registration.NewStore(db, registration.WithClock(clockFn))
	require.NoError(t, err)

	users, err := accounts.NewGormStore(db)
	require.NoError(t, err)

	ctrl, err := NewSessionController(codeSvc, staging, users, Config{Clock: clockFn})
	require.NoError(t, err)

	return &fixture{
		ctrl:    ctrl,
		codes:   codeStore,
		staging: staging,
		users:   users,
		mailer:  mailer,
		db:      db,
		clock:   &current,
	}
}

func (f *fixture) issuedCode(t *testing.T, email string) string {
	t.Helper()
	rec, err := f.codes.Get(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, rec, "expected a live code for %s", email)
	return rec.Code
}

func TestSignUpThenVerifyCreatesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))

	state := f.ctrl.State()
	require.Equal(t, PhaseAwaitingVerification, state.Phase)
	require.Equal(t, "a@x.com", state.PendingEmail)

	staged, err := f.staging.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, staged)

	rec, err := f.codes.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.Code, 6)
	require.Equal(t, f.clock.Add(10*time.Minute), rec.ExpiresAt)

	require.NoError(t, f.ctrl.Verify(ctx, rec.Code))

	state = f.ctrl.State()
	require.Equal(t, PhaseAuthenticated, state.Phase)
	require.Empty(t, state.PendingEmail)
	require.NotEmpty(t, state.ActiveAccountID)

	account, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, state.ActiveAccountID, account.ID)
	require.Equal(t, "Ann", account.DisplayName)
	require.NotNil(t, account.LastLoginAt)

	var count int64
	require.NoError(t, f.db.Model(&models.Account{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	staged, err = f.staging.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.Nil(t, staged, "staged registration must be consumed by promotion")
}

func TestVerifyWrongCodeLeavesFlowIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))

	code := f.issuedCode(t, "a@x.com")
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	err := f.ctrl.Verify(ctx, wrong)
	require.ErrorIs(t, err, verification.ErrMismatch)

	require.Equal(t, PhaseAwaitingVerification, f.ctrl.State().Phase)

	staged, err := f.staging.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, staged)

	// Retry with the right code still works.
	require.NoError(t, f.ctrl.Verify(ctx, code))
	require.Equal(t, PhaseAuthenticated, f.ctrl.State().Phase)
}

func TestVerifyExpiredCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	code := f.issuedCode(t, "a@x.com")

	*f.clock = f.clock.Add(11 * time.Minute)

	err := f.ctrl.Verify(ctx, code)
	require.ErrorIs(t, err, verification.ErrExpired)

	_, err = f.users.FindByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestSignInFlowTouchesExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))
	created := f.ctrl.State().ActiveAccountID
	f.ctrl.SignOut()

	*f.clock = f.clock.Add(time.Hour)

	require.NoError(t, f.ctrl.SignIn(ctx, "a@x.com", "pw"))
	state := f.ctrl.State()
	require.Equal(t, PhaseAwaitingVerification, state.Phase)
	require.Equal(t, "a@x.com", state.PendingEmail)

	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))

	state = f.ctrl.State()
	require.Equal(t, PhaseAuthenticated, state.Phase)
	require.Equal(t, created, state.ActiveAccountID, "sign-in must reuse the existing account")

	account, err := f.users.FindByID(ctx, created)
	require.NoError(t, err)
	require.Equal(t, *f.clock, account.LastLoginAt.UTC())

	var count int64
	require.NoError(t, f.db.Model(&models.Account{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSignInWrongCredentialIssuesNoCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))
	f.ctrl.SignOut()

	sentBefore := len(f.mailer.sent)

	err := f.ctrl.SignIn(ctx, "a@x.com", "wrong-pw")
	require.ErrorIs(t, err, ErrInvalidCredential)
	require.Len(t, f.mailer.sent, sentBefore, "a failed credential check must not trigger the gateway")

	rec, err := f.codes.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.Nil(t, rec)
	require.Equal(t, PhaseAnonymous, f.ctrl.State().Phase)
}

func TestSignInUnknownEmail(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.SignIn(context.Background(), "nobody@x.com", "pw")
	require.ErrorIs(t, err, ErrInvalidCredential)
	require.Empty(t, f.mailer.sent)
}

func TestNewFlowInvalidatesEarlierCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	first := f.issuedCode(t, "a@x.com")

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	second := f.issuedCode(t, "a@x.com")

	if first != second {
		err := f.ctrl.Verify(ctx, first)
		require.ErrorIs(t, err, verification.ErrMismatch)
	}

	require.NoError(t, f.ctrl.Verify(ctx, second))
}

func TestRestartFlowSwitchesPendingEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	require.NoError(t, f.ctrl.SignUp(ctx, "b@x.com", "Ben", "pw"))

	state := f.ctrl.State()
	require.Equal(t, "b@x.com", state.PendingEmail)

	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "b@x.com")))

	account, err := f.users.FindByEmail(ctx, "b@x.com")
	require.NoError(t, err)
	require.Equal(t, "Ben", account.DisplayName)
}

func TestVerifyWithoutPendingFlow(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.Verify(context.Background(), "123456")
	require.ErrorIs(t, err, ErrNoPendingFlow)
}

func TestVerifyDetectsMissingStagedRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	require.NoError(t, f.staging.Delete(ctx, "a@x.com"))

	err := f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com"))
	require.ErrorIs(t, err, ErrStateInconsistent)
}

func TestSignOutKeepsAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))

	f.ctrl.SignOut()

	state := f.ctrl.State()
	require.Equal(t, PhaseAnonymous, state.Phase)
	require.Empty(t, state.ActiveAccountID)

	_, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.ctrl.DeleteAccount(ctx), ErrNotAuthenticated)

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))

	require.NoError(t, f.ctrl.DeleteAccount(ctx))
	require.Equal(t, PhaseAnonymous, f.ctrl.State().Phase)

	_, err := f.users.FindByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestResendCodeReissues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.ctrl.ResendCode(ctx), ErrNoPendingFlow)

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	sentBefore := len(f.mailer.sent)

	require.NoError(t, f.ctrl.ResendCode(ctx))
	require.Len(t, f.mailer.sent, sentBefore+1)

	// The reissued code completes the original sign-up flow.
	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))
	require.Equal(t, PhaseAuthenticated, f.ctrl.State().Phase)
}

func TestSessionGaugeSurvivesReauthentication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := promtest.ToFloat64(metrics.AuthenticatedSessions)

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))
	require.Equal(t, base+1, promtest.ToFloat64(metrics.AuthenticatedSessions))

	// Starting a fresh flow without signing out leaves the authenticated
	// phase, so the session stops counting until it is re-proven.
	require.NoError(t, f.ctrl.SignIn(ctx, "a@x.com", "pw"))
	require.Equal(t, base, promtest.ToFloat64(metrics.AuthenticatedSessions))

	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))
	require.Equal(t, base+1, promtest.ToFloat64(metrics.AuthenticatedSessions))

	f.ctrl.SignOut()
	require.Equal(t, base, promtest.ToFloat64(metrics.AuthenticatedSessions))

	// Signing out again is a no-op for the gauge.
	f.ctrl.SignOut()
	require.Equal(t, base, promtest.ToFloat64(metrics.AuthenticatedSessions))
}

func TestObserveStreamsTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stream, cancel := f.ctrl.Observe()
	defer cancel()

	initial := <-stream
	require.Equal(t, PhaseAnonymous, initial.Phase)

	require.NoError(t, f.ctrl.SignUp(ctx, "a@x.com", "Ann", "pw"))
	next := <-stream
	require.Equal(t, PhaseAwaitingVerification, next.Phase)
	require.Equal(t, "a@x.com", next.PendingEmail)

	require.NoError(t, f.ctrl.Verify(ctx, f.issuedCode(t, "a@x.com")))
	next = <-stream
	require.Equal(t, PhaseAuthenticated, next.Phase)
	require.NotEmpty(t, next.ActiveAccountID)
}
