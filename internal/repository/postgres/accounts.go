package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/repository"
)

var accountColumns = []string{
	"id",
	"username",
	"alternate_id",
	"password_hash",
	"roles",
	"status",
	"failed_attempts",
	"locked_until",
	"mfa_state",
	"mfa_secret",
	"mfa_enabled_at",
	"created_at",
	"last_login_at",
}

// recordFailedAttemptSQL increments the counter in one statement so concurrent
// failures serialize on the row lock. An expired lock restarts the count at 1.
const recordFailedAttemptSQL = `
UPDATE portal.accounts
   SET failed_attempts = CASE
           WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
           ELSE failed_attempts + 1
       END,
       locked_until = CASE
           WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1 ELSE failed_attempts + 1 END) >= $2 THEN $3
           WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN NULL
           ELSE locked_until
       END
 WHERE id = $1
RETURNING failed_attempts, locked_until`

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository wires a PostgreSQL-backed account repository.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{exec: tx, builder: r.builder}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	roles := account.Roles
	if roles == nil {
		roles = []string{}
	}
	mfaState := account.MFAState
	if mfaState == "" {
		mfaState = domain.MFAStateDisabled
	}

	stmt, args, err := r.builder.Insert("portal.accounts").
		Columns(accountColumns...).
		Values(
			account.ID,
			strings.TrimSpace(account.Username),
			optionalString(account.AlternateID),
			account.PasswordHash,
			roles,
			string(account.Status),
			account.FailedAttempts,
			optionalTime(account.LockedUntil),
			string(mfaState),
			optionalString(&account.MFASecret),
			optionalTime(account.MFAEnabledAt),
			account.CreatedAt.UTC(),
			optionalTime(account.LastLoginAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by primary key.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("portal.accounts").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}
	return r.queryOne(ctx, stmt, args)
}

// GetByIdentifier matches the username case-insensitively or the alternate id exactly.
// A username match wins over an alternate id match.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("portal.accounts").
		Where(squirrel.Or{
			squirrel.Expr("lower(username) = lower(?)", identifier),
			squirrel.Eq{"alternate_id": identifier},
		}).
		OrderByClause("lower(username) = lower(?) DESC", identifier).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by identifier sql: %w", err)
	}
	return r.queryOne(ctx, stmt, args)
}

// RecordFailedAttempt increments the failure counter and locks at threshold.
func (r *AccountRepository) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil, at time.Time) (domain.AttemptState, error) {
	var (
		state  domain.AttemptState
		locked sql.NullTime
	)
	if err := r.exec.QueryRow(ctx, recordFailedAttemptSQL, id, threshold, lockUntil.UTC(), at.UTC()).Scan(&state.FailedAttempts, &locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AttemptState{}, repository.ErrNotFound
		}
		return domain.AttemptState{}, fmt.Errorf("record failed attempt: %w", err)
	}
	state.LockedUntil = nullableTimePtr(locked)
	return state, nil
}

// ResetFailedAttempts clears the counter and any lock after a successful login.
func (r *AccountRepository) ResetFailedAttempts(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("portal.accounts").
		Set("failed_attempts", 0).
		Set("locked_until", nil).
		Set("last_login_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset failed attempts sql: %w", err)
	}
	return r.execOne(ctx, "reset failed attempts", stmt, args)
}

// SetMFASecret stores a freshly generated encrypted secret and marks setup pending.
func (r *AccountRepository) SetMFASecret(ctx context.Context, id string, encryptedSecret string) error {
	stmt, args, err := r.builder.Update("portal.accounts").
		Set("mfa_secret", encryptedSecret).
		Set("mfa_state", string(domain.MFAStatePendingSetup)).
		Set("mfa_enabled_at", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set mfa secret sql: %w", err)
	}
	return r.execOne(ctx, "set mfa secret", stmt, args)
}

// EnableMFA completes a pending setup.
func (r *AccountRepository) EnableMFA(ctx context.Context, id string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update("portal.accounts").
		Set("mfa_state", string(domain.MFAStateEnabled)).
		Set("mfa_enabled_at", at.UTC()).
		Where(squirrel.Eq{"id": id, "mfa_state": string(domain.MFAStatePendingSetup)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build enable mfa sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("enable mfa: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearMFASecret disables MFA and drops the stored secret.
func (r *AccountRepository) ClearMFASecret(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("portal.accounts").
		Set("mfa_secret", nil).
		Set("mfa_state", string(domain.MFAStateDisabled)).
		Set("mfa_enabled_at", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear mfa secret sql: %w", err)
	}
	return r.execOne(ctx, "clear mfa secret", stmt, args)
}

func (r *AccountRepository) execOne(ctx context.Context, op, stmt string, args []any) error {
	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) queryOne(ctx context.Context, stmt string, args []any) (*domain.Account, error) {
	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account      domain.Account
		alternateID  sql.NullString
		status       string
		mfaState     string
		mfaSecret    sql.NullString
		lockedUntil  sql.NullTime
		mfaEnabledAt sql.NullTime
		lastLoginAt  sql.NullTime
	)

	if err := row.Scan(
		&account.ID,
		&account.Username,
		&alternateID,
		&account.PasswordHash,
		&account.Roles,
		&status,
		&account.FailedAttempts,
		&lockedUntil,
		&mfaState,
		&mfaSecret,
		&mfaEnabledAt,
		&account.CreatedAt,
		&lastLoginAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	account.AlternateID = nullableStringPtr(alternateID)
	account.Status = domain.AccountStatus(status)
	account.MFAState = domain.MFAState(mfaState)
	if mfaSecret.Valid {
		account.MFASecret = mfaSecret.String
	}
	account.LockedUntil = nullableTimePtr(lockedUntil)
	account.MFAEnabledAt = nullableTimePtr(mfaEnabledAt)
	account.LastLoginAt = nullableTimePtr(lastLoginAt)
	account.CreatedAt = account.CreatedAt.UTC()

	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
