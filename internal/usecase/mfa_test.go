package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap/zaptest"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/infra/security"
)

type mfaFixture struct {
	clock    *testClock
	accounts *fakeAccountRepository
	guard    *fakeMFAGuard
	events   *fakeEventPublisher
	service  *MFAService
	verifier *CredentialVerifier
}

func newMFAFixture(t *testing.T, accounts ...domain.Account) *mfaFixture {
	t.Helper()
	f := &mfaFixture{
		clock:    newTestClock(),
		accounts: newFakeAccountRepository(accounts...),
		guard:    newFakeMFAGuard(5),
		events:   &fakeEventPublisher{},
	}
	f.verifier, _ = newTestVerifier(t, f.accounts, f.clock)
	engine := security.NewTOTPEngine(security.TOTPConfig{Issuer: "City Hall", Period: 30, Skew: 1, Digits: 6})
	f.service = NewMFAService(f.accounts, engine, newTestEncryptor(t), f.verifier, zaptest.NewLogger(t)).
		WithGuard(f.guard).
		WithEvents(f.events).
		WithClock(f.clock.Now)
	return f
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}

func TestMFASetupThenVerifyEnables(t *testing.T) {
	f := newMFAFixture(t, testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	ctx := context.Background()

	key, err := f.service.Setup(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	stored := f.accounts.get("acc-1")
	if stored.MFAState != domain.MFAStatePendingSetup {
		t.Fatalf("expected pending setup, got %s", stored.MFAState)
	}
	if stored.MFASecret == "" || stored.MFASecret == key.Secret {
		t.Fatal("secret must be stored encrypted")
	}

	state, err := f.service.Verify(ctx, "acc-1", totpCode(t, key.Secret, f.clock.Now()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if state != domain.MFAStateEnabled {
		t.Fatalf("expected enabled, got %s", state)
	}
	if got := f.accounts.get("acc-1"); !got.MFAEnabled() {
		t.Fatalf("expected account MFA enabled, got %s", got.MFAState)
	}
	if len(f.events.mfa) != 2 || f.events.mfa[1].Current != domain.MFAStateEnabled {
		t.Fatalf("expected pending and enabled events, got %+v", f.events.mfa)
	}
}

func TestMFAVerifyRejectsCodeOutsideWindow(t *testing.T) {
	f := newMFAFixture(t, testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	ctx := context.Background()

	key, err := f.service.Setup(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	stale := totpCode(t, key.Secret, f.clock.Now().Add(-3*time.Minute))
	if _, err := f.service.Verify(ctx, "acc-1", stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if got := f.accounts.get("acc-1"); got.MFAState != domain.MFAStatePendingSetup {
		t.Fatalf("failed verify must not enable MFA, got %s", got.MFAState)
	}
}

func TestMFAVerifyBeforeSetup(t *testing.T) {
	f := newMFAFixture(t, testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	if _, err := f.service.Verify(context.Background(), "acc-1", "123456"); !errors.Is(err, ErrMFANotConfigured) {
		t.Fatalf("expected ErrMFANotConfigured, got %v", err)
	}
}

func TestMFASetupWhenEnabled(t *testing.T) {
	f := newMFAFixture(t, testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	ctx := context.Background()
	key, _ := f.service.Setup(ctx, "acc-1")
	if _, err := f.service.Verify(ctx, "acc-1", totpCode(t, key.Secret, f.clock.Now())); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := f.service.Setup(ctx, "acc-1"); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}
}

func TestMFAReplayAndThrottle(t *testing.T) {
	f := newMFAFixture(t, testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	f.guard.limit = 3
	ctx := context.Background()

	key, _ := f.service.Setup(ctx, "acc-1")
	code := totpCode(t, key.Secret, f.clock.Now())
	if _, err := f.service.Verify(ctx, "acc-1", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := f.service.Verify(ctx, "acc-1", code); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}

	if _, err := f.service.Verify(ctx, "acc-1", "000000"); err == nil {
		t.Fatal("expected wrong code to fail")
	}
	if _, err := f.service.Verify(ctx, "acc-1", "000000"); !errors.Is(err, ErrMFAThrottled) {
		t.Fatalf("expected ErrMFAThrottled on limit, got %v", err)
	}

	fresh := totpCode(t, key.Secret, f.clock.Now().Add(30*time.Second))
	if _, err := f.service.Verify(ctx, "acc-1", fresh); !errors.Is(err, ErrMFAThrottled) {
		t.Fatalf("throttle must hold even for valid codes, got %v", err)
	}
}

func TestMFADisableRequiresPassword(t *testing.T) {
	f := newMFAFixture(t, testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	ctx := context.Background()
	key, _ := f.service.Setup(ctx, "acc-1")
	if _, err := f.service.Verify(ctx, "acc-1", totpCode(t, key.Secret, f.clock.Now())); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if err := f.service.Disable(ctx, "acc-1", "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if got := f.accounts.get("acc-1"); !got.MFAEnabled() || got.FailedAttempts != 1 {
		t.Fatalf("failed disable must keep MFA and count the failure, got state=%s attempts=%d", got.MFAState, got.FailedAttempts)
	}

	if err := f.service.Disable(ctx, "acc-1", "s3cret-pass"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	got := f.accounts.get("acc-1")
	if got.MFAState != domain.MFAStateDisabled || got.MFASecret != "" {
		t.Fatalf("expected secret cleared, got state=%s", got.MFAState)
	}

	if err := f.service.Disable(ctx, "acc-1", "s3cret-pass"); err != nil {
		t.Fatalf("second Disable must be a no-op, got %v", err)
	}
}

func TestMFADisableWhileLocked(t *testing.T) {
	account := testAccount("acc-1", "clerk.jones", "s3cret-pass")
	until := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	account.LockedUntil = &until
	f := newMFAFixture(t, account)

	if err := f.service.Disable(context.Background(), "acc-1", "s3cret-pass"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestMFAGuardOutageFollowsDegradationPolicy(t *testing.T) {
	f := newMFAFixture(t, testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	ctx := context.Background()
	key, err := f.service.Setup(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	f.guard.err = errors.New("redis: connection refused")

	f.service.WithDegradationPolicy(domain.NewDegradationPolicy(domain.DegradationPolicyModeStrict))
	if _, err := f.service.Verify(ctx, "acc-1", totpCode(t, key.Secret, f.clock.Now())); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("strict policy: expected ErrInfrastructure, got %v", err)
	}
	if got := f.accounts.get("acc-1"); got.MFAState != domain.MFAStatePendingSetup {
		t.Fatalf("strict policy must not enable MFA, got %s", got.MFAState)
	}

	f.service.WithDegradationPolicy(domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient))
	state, err := f.service.Verify(ctx, "acc-1", totpCode(t, key.Secret, f.clock.Now()))
	if err != nil {
		t.Fatalf("lenient policy: Verify: %v", err)
	}
	if state != domain.MFAStateEnabled {
		t.Fatalf("expected enabled, got %s", state)
	}
}
