package usecase

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/security"
	"github.com/muniportal/portal-auth/internal/repository"
)

var errStoreDown = errors.New("connection refused")

type fakeAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account

	getErrs   []error
	getCalls  int
	resetErr  error
	resets    int
	failCalls int
}

func newFakeAccountRepository(accounts ...domain.Account) *fakeAccountRepository {
	repo := &fakeAccountRepository{accounts: make(map[string]*domain.Account)}
	for i := range accounts {
		account := accounts[i]
		repo.accounts[account.ID] = &account
	}
	return repo
}

func (f *fakeAccountRepository) Create(_ context.Context, account domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account.ID] = &account
	return nil
}

func (f *fakeAccountRepository) popErr() error {
	f.getCalls++
	if len(f.getErrs) == 0 {
		return nil
	}
	err := f.getErrs[0]
	f.getErrs = f.getErrs[1:]
	return err
}

func (f *fakeAccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(); err != nil {
		return nil, err
	}
	account, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (f *fakeAccountRepository) GetByIdentifier(_ context.Context, identifier string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(); err != nil {
		return nil, err
	}
	for _, account := range f.accounts {
		if strings.EqualFold(account.Username, identifier) || (account.AlternateID != nil && *account.AlternateID == identifier) {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountRepository) RecordFailedAttempt(_ context.Context, id string, threshold int, lockUntil, at time.Time) (domain.AttemptState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCalls++
	account, ok := f.accounts[id]
	if !ok {
		return domain.AttemptState{}, repository.ErrNotFound
	}
	if account.LockedUntil != nil && !account.LockedUntil.After(at) {
		account.FailedAttempts = 0
		account.LockedUntil = nil
	}
	account.FailedAttempts++
	if account.FailedAttempts >= threshold {
		until := lockUntil
		account.LockedUntil = &until
	}
	return domain.AttemptState{FailedAttempts: account.FailedAttempts, LockedUntil: account.LockedUntil}, nil
}

func (f *fakeAccountRepository) ResetFailedAttempts(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets++
	account, ok := f.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &at
	return nil
}

func (f *fakeAccountRepository) SetMFASecret(_ context.Context, id string, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.MFASecret = secret
	account.MFAState = domain.MFAStatePendingSetup
	account.MFAEnabledAt = nil
	return nil
}

func (f *fakeAccountRepository) EnableMFA(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok || account.MFAState != domain.MFAStatePendingSetup {
		return false, nil
	}
	account.MFAState = domain.MFAStateEnabled
	account.MFAEnabledAt = &at
	return true, nil
}

func (f *fakeAccountRepository) ClearMFASecret(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.MFASecret = ""
	account.MFAState = domain.MFAStateDisabled
	account.MFAEnabledAt = nil
	return nil
}

func (f *fakeAccountRepository) get(id string) domain.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.accounts[id]
}

type fakeSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	events   []domain.SessionEvent

	countErr error
	touches  int
	gets     int
}

func newFakeSessionRepository(sessions ...domain.Session) *fakeSessionRepository {
	repo := &fakeSessionRepository{sessions: make(map[string]*domain.Session)}
	for i := range sessions {
		session := sessions[i]
		repo.sessions[session.ID] = &session
	}
	return repo
}

func (f *fakeSessionRepository) Create(_ context.Context, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.sessions[session.ID]; exists {
		return errors.New("duplicate session id")
	}
	f.sessions[session.ID] = &session
	return nil
}

func (f *fakeSessionRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	session, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionRepository) ListActive(_ context.Context, userID string) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, session := range f.sessions {
		if session.UserID == userID && session.IsActive {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeSessionRepository) CountActive(ctx context.Context, userID string) (int, error) {
	if f.countErr != nil {
		err := f.countErr
		f.countErr = nil
		return 0, err
	}
	active, _ := f.ListActive(ctx, userID)
	return len(active), nil
}

func (f *fakeSessionRepository) Revoke(_ context.Context, id, reason string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return false, nil
	}
	return session.Deactivate(at, reason), nil
}

func (f *fakeSessionRepository) revokeWhere(match func(*domain.Session) bool, reason string, at time.Time) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, session := range f.sessions {
		if match(session) && session.Deactivate(at, reason) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeSessionRepository) RevokeAllExcept(_ context.Context, userID, keep, reason string, at time.Time) ([]string, error) {
	return f.revokeWhere(func(s *domain.Session) bool { return s.UserID == userID && s.ID != keep }, reason, at), nil
}

func (f *fakeSessionRepository) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) ([]string, error) {
	return f.revokeWhere(func(s *domain.Session) bool { return s.UserID == userID }, reason, at), nil
}

func (f *fakeSessionRepository) PruneOlderThan(_ context.Context, cutoff, at time.Time) (int, error) {
	ids := f.revokeWhere(func(s *domain.Session) bool { return s.CreatedAt.Before(cutoff) }, domain.RevokeReasonPruned, at)
	return len(ids), nil
}

func (f *fakeSessionRepository) PurgeInactiveOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	purged := 0
	for id, session := range f.sessions {
		if !session.IsActive && session.CreatedAt.Before(cutoff) {
			delete(f.sessions, id)
			purged++
		}
	}
	return purged, nil
}

func (f *fakeSessionRepository) Touch(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	if session, ok := f.sessions[id]; ok {
		session.Touch(at)
	}
	return nil
}

func (f *fakeSessionRepository) StoreEvent(_ context.Context, event domain.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSessionRepository) get(id string) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

// plainHasher stands in for Argon2id to keep tests fast.
type plainHasher struct {
	verifyCalls int
}

func (h *plainHasher) Hash(password string) (string, error) {
	return "plain$" + password, nil
}

func (h *plainHasher) Verify(password, encoded string) (bool, error) {
	h.verifyCalls++
	return encoded == "plain$"+password, nil
}

type fakeSigner struct{}

func (fakeSigner) Sign(_ context.Context, userID, sessionID string, _ []string, ttl time.Duration) (string, time.Time, error) {
	return "token." + userID + "." + sessionID, time.Now().Add(ttl), nil
}

func (fakeSigner) Verify(_ context.Context, token string) (*port.AccessClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != "token" {
		return nil, security.ErrTokenInvalid
	}
	return &port.AccessClaims{UserID: parts[1], SessionID: parts[2]}, nil
}

type fakeEventPublisher struct {
	mu      sync.Mutex
	created []domain.SessionCreatedEvent
	revoked []domain.SessionRevokedEvent
	pruned  []domain.SessionsPrunedEvent
	locked  []domain.AccountLockedEvent
	mfa     []domain.MFAStateChangedEvent
}

func (f *fakeEventPublisher) PublishSessionCreated(_ context.Context, e domain.SessionCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func (f *fakeEventPublisher) PublishSessionRevoked(_ context.Context, e domain.SessionRevokedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, e)
	return nil
}

func (f *fakeEventPublisher) PublishSessionsPruned(_ context.Context, e domain.SessionsPrunedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, e)
	return nil
}

func (f *fakeEventPublisher) PublishAccountLocked(_ context.Context, e domain.AccountLockedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = append(f.locked, e)
	return nil
}

func (f *fakeEventPublisher) PublishMFAStateChanged(_ context.Context, e domain.MFAStateChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mfa = append(f.mfa, e)
	return nil
}

type fakeMFAGuard struct {
	limit    int
	failures map[string]int
	claimed  map[string]bool
	err      error
}

func newFakeMFAGuard(limit int) *fakeMFAGuard {
	return &fakeMFAGuard{limit: limit, failures: map[string]int{}, claimed: map[string]bool{}}
}

func (g *fakeMFAGuard) RecordFailure(_ context.Context, id string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	g.failures[id]++
	return g.failures[id] >= g.limit, nil
}

func (g *fakeMFAGuard) IsThrottled(_ context.Context, id string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	return g.failures[id] >= g.limit, nil
}

func (g *fakeMFAGuard) Reset(_ context.Context, id string) error {
	delete(g.failures, id)
	return nil
}

func (g *fakeMFAGuard) ClaimCode(_ context.Context, id, code string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	key := id + ":" + code
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

type fakeRevocationStore struct {
	revoked map[string]string
	ttl     time.Duration
}

func newFakeRevocationStore() *fakeRevocationStore {
	return &fakeRevocationStore{revoked: map[string]string{}}
}

func (f *fakeRevocationStore) MarkSessionRevoked(_ context.Context, id, reason string, ttl time.Duration) error {
	f.revoked[id] = reason
	f.ttl = ttl
	return nil
}

func (f *fakeRevocationStore) IsSessionRevoked(_ context.Context, id string) (bool, string, error) {
	reason, ok := f.revoked[id]
	return ok, reason, nil
}

func (f *fakeRevocationStore) ClearSessionRevocation(_ context.Context, id string) error {
	delete(f.revoked, id)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEncryptor(t *testing.T) *security.FieldEncryptor {
	t.Helper()
	enc, err := security.NewFieldEncryptor(security.EncryptionKey{ID: "test", Secret: bytes.Repeat([]byte{9}, 32)}, nil)
	if err != nil {
		t.Fatalf("NewFieldEncryptor: %v", err)
	}
	return enc
}

func testAccount(id, username, password string) domain.Account {
	return domain.Account{
		ID:           id,
		Username:     username,
		PasswordHash: "plain$" + password,
		Roles:        []string{"clerk"},
		Status:       domain.AccountStatusActive,
		MFAState:     domain.MFAStateDisabled,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
