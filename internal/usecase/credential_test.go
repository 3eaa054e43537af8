package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/muniportal/portal-auth/internal/core/domain"
)

func newTestVerifier(t *testing.T, accounts *fakeAccountRepository, clock *testClock) (*CredentialVerifier, *plainHasher) {
	t.Helper()
	hasher := &plainHasher{}
	verifier := NewCredentialVerifier(accounts, hasher, CredentialPolicy{
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		ReadRetryBackoff: time.Millisecond,
	}, zaptest.NewLogger(t)).WithClock(clock.Now)
	return verifier, hasher
}

func TestCredentialVerifierSuccessResetsCounter(t *testing.T) {
	clock := newTestClock()
	account := testAccount("acc-1", "clerk.jones", "s3cret-pass")
	account.FailedAttempts = 3
	accounts := newFakeAccountRepository(account)
	verifier, _ := newTestVerifier(t, accounts, clock)

	got, err := verifier.Verify(context.Background(), "clerk.jones", "s3cret-pass")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if got.ID != "acc-1" {
		t.Fatalf("unexpected account %s", got.ID)
	}
	if stored := accounts.get("acc-1"); stored.FailedAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("expected counter reset, got attempts=%d locked=%v", stored.FailedAttempts, stored.LockedUntil)
	}
}

func TestCredentialVerifierReportsRemainingAttempts(t *testing.T) {
	clock := newTestClock()
	accounts := newFakeAccountRepository(testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	verifier, _ := newTestVerifier(t, accounts, clock)

	_, err := verifier.Verify(context.Background(), "clerk.jones", "wrong")
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if !errors.Is(err, ErrInvalidCredentials) || credErr.Locked {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if credErr.RemainingAttempts != 4 {
		t.Fatalf("expected 4 remaining attempts, got %d", credErr.RemainingAttempts)
	}
}

func TestCredentialVerifierLocksAfterThreshold(t *testing.T) {
	clock := newTestClock()
	accounts := newFakeAccountRepository(testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	events := &fakeEventPublisher{}
	verifier, _ := newTestVerifier(t, accounts, clock)
	verifier.WithEvents(events)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := verifier.Verify(ctx, "clerk.jones", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	if _, err := verifier.Verify(ctx, "clerk.jones", "wrong"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("attempt 5: expected ErrAccountLocked, got %v", err)
	}
	if len(events.locked) != 1 || events.locked[0].FailedAttempts != 5 {
		t.Fatalf("expected one account locked event, got %+v", events.locked)
	}

	// The sixth attempt is rejected even with the correct password.
	if _, err := verifier.Verify(ctx, "clerk.jones", "s3cret-pass"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("attempt 6: expected ErrAccountLocked, got %v", err)
	}
	if stored := accounts.get("acc-1"); stored.FailedAttempts != 5 {
		t.Fatalf("locked attempts must not touch the counter, got %d", stored.FailedAttempts)
	}
}

func TestCredentialVerifierLockExpires(t *testing.T) {
	clock := newTestClock()
	accounts := newFakeAccountRepository(testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	verifier, _ := newTestVerifier(t, accounts, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = verifier.Verify(ctx, "clerk.jones", "wrong")
	}
	clock.Advance(16 * time.Minute)

	_, err := verifier.Verify(ctx, "clerk.jones", "wrong")
	var credErr *CredentialError
	if !errors.As(err, &credErr) || credErr.Locked {
		t.Fatalf("expected fresh counter after lock expiry, got %v", err)
	}
	if credErr.RemainingAttempts != 4 {
		t.Fatalf("expected counter to restart, got %d remaining", credErr.RemainingAttempts)
	}

	if _, err := verifier.Verify(ctx, "clerk.jones", "s3cret-pass"); err != nil {
		t.Fatalf("expected success after lock expiry, got %v", err)
	}
}

func TestCredentialVerifierUnknownIdentifier(t *testing.T) {
	clock := newTestClock()
	accounts := newFakeAccountRepository(testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	verifier, hasher := newTestVerifier(t, accounts, clock)

	_, err := verifier.Verify(context.Background(), "nobody", "whatever")
	var credErr *CredentialError
	if !errors.As(err, &credErr) || !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if credErr.RemainingAttempts != 4 {
		t.Fatalf("unknown identifiers must look like a first failure, got %d", credErr.RemainingAttempts)
	}
	if hasher.verifyCalls != 1 {
		t.Fatalf("expected one dummy hash verification, got %d", hasher.verifyCalls)
	}
	if accounts.failCalls != 0 {
		t.Fatalf("unknown identifiers must not touch counters")
	}
}

func TestCredentialVerifierAlternateIdentifier(t *testing.T) {
	clock := newTestClock()
	account := testAccount("acc-1", "clerk.jones", "s3cret-pass")
	alt := "EMP-0042"
	account.AlternateID = &alt
	verifier, _ := newTestVerifier(t, newFakeAccountRepository(account), clock)

	if _, err := verifier.Verify(context.Background(), "EMP-0042", "s3cret-pass"); err != nil {
		t.Fatalf("expected login by alternate id, got %v", err)
	}
}

func TestCredentialVerifierInactiveAccount(t *testing.T) {
	clock := newTestClock()
	account := testAccount("acc-1", "clerk.jones", "s3cret-pass")
	account.Status = domain.AccountStatusDisabled
	verifier, _ := newTestVerifier(t, newFakeAccountRepository(account), clock)

	if _, err := verifier.Verify(context.Background(), "clerk.jones", "s3cret-pass"); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if _, err := verifier.Verify(context.Background(), "clerk.jones", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password on inactive account must report invalid credentials, got %v", err)
	}
}

func TestCredentialVerifierRetriesTransientRead(t *testing.T) {
	clock := newTestClock()
	accounts := newFakeAccountRepository(testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	accounts.getErrs = []error{errStoreDown}
	verifier, _ := newTestVerifier(t, accounts, clock)

	if _, err := verifier.Verify(context.Background(), "clerk.jones", "s3cret-pass"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if accounts.getCalls != 2 {
		t.Fatalf("expected 2 lookups, got %d", accounts.getCalls)
	}
}

func TestCredentialVerifierSurfacesPersistentFailure(t *testing.T) {
	clock := newTestClock()
	accounts := newFakeAccountRepository(testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	accounts.getErrs = []error{errStoreDown, errStoreDown}
	verifier, _ := newTestVerifier(t, accounts, clock)

	_, err := verifier.Verify(context.Background(), "clerk.jones", "s3cret-pass")
	if !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
	var infra *InfrastructureError
	if !errors.As(err, &infra) || infra.Op != "lookup account" {
		t.Fatalf("expected InfrastructureError for lookup, got %v", err)
	}
	if accounts.getCalls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", accounts.getCalls)
	}
}

func TestCredentialVerifierResetFailureIsNotRetried(t *testing.T) {
	clock := newTestClock()
	accounts := newFakeAccountRepository(testAccount("acc-1", "clerk.jones", "s3cret-pass"))
	accounts.resetErr = errStoreDown
	verifier, _ := newTestVerifier(t, accounts, clock)

	if _, err := verifier.Verify(context.Background(), "clerk.jones", "s3cret-pass"); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}
