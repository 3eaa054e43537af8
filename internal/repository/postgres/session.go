package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var sessionColumns = []string{
	"id",
	"user_id",
	"fingerprint_hash",
	"device_metadata",
	"user_agent_enc",
	"ip_enc",
	"created_at",
	"last_seen_at",
	"is_active",
	"revoked_at",
	"revoke_reason",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{exec: tx, builder: r.builder}
}

// Create persists a new active session.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	metadata, err := marshalDeviceMetadata(session.DeviceMetadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("portal.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			session.FingerprintHash,
			metadata,
			optionalString(&session.UserAgentEnc),
			optionalString(&session.IPEnc),
			session.CreatedAt.UTC(),
			session.LastSeenAt.UTC(),
			session.IsActive,
			optionalTime(session.RevokedAt),
			optionalString(session.RevokeReason),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID fetches a session by its identifier regardless of state.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("portal.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

// ListActive returns the user's active sessions, newest first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("portal.sessions").
		Where(squirrel.Eq{"user_id": userID, "is_active": true}).
		OrderBy("created_at DESC", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// CountActive counts the user's active sessions.
func (r *SessionRepository) CountActive(ctx context.Context, userID string) (int, error) {
	stmt, args, err := r.builder.
		Select("count(*)").
		From("portal.sessions").
		Where(squirrel.Eq{"user_id": userID, "is_active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count sessions sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

// Revoke deactivates one session. Revoking an inactive or unknown session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, reason string, at time.Time) (bool, error) {
	stmt, args, err := r.deactivate(reason, at).
		Where(squirrel.Eq{"id": sessionID, "is_active": true}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllExcept deactivates every active session of userID other than keepSessionID.
func (r *SessionRepository) RevokeAllExcept(ctx context.Context, userID, keepSessionID, reason string, at time.Time) ([]string, error) {
	query := r.deactivate(reason, at).
		Where(squirrel.Eq{"user_id": userID, "is_active": true}).
		Where(squirrel.NotEq{"id": keepSessionID}).
		Suffix("RETURNING id")
	return r.revokeReturning(ctx, "revoke other sessions", query)
}

// RevokeAllForUser deactivates every active session of userID.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) ([]string, error) {
	query := r.deactivate(reason, at).
		Where(squirrel.Eq{"user_id": userID, "is_active": true}).
		Suffix("RETURNING id")
	return r.revokeReturning(ctx, "revoke sessions for user", query)
}

// PruneOlderThan deactivates active sessions created before cutoff.
func (r *SessionRepository) PruneOlderThan(ctx context.Context, cutoff time.Time, at time.Time) (int, error) {
	stmt, args, err := r.deactivate(domain.RevokeReasonPruned, at).
		Where(squirrel.Eq{"is_active": true}).
		Where(squirrel.Lt{"created_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeInactiveOlderThan deletes inactive sessions created before cutoff together with their events.
func (r *SessionRepository) PurgeInactiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("portal.sessions").
		Where(squirrel.Eq{"is_active": false}).
		Where(squirrel.Lt{"created_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Touch advances last_seen_at of an active session; it never moves backwards.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	stmt, args, err := r.builder.Update("portal.sessions").
		Set("last_seen_at", squirrel.Expr("GREATEST(last_seen_at, ?)", at.UTC())).
		Where(squirrel.Eq{"id": sessionID, "is_active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// StoreEvent persists lifecycle events for auditability.
func (r *SessionRepository) StoreEvent(ctx context.Context, event domain.SessionEvent) error {
	details, err := marshalSessionEventDetails(event.Details)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("portal.session_events").
		Columns("id", "session_id", "kind", "at", "details").
		Values(event.ID, event.SessionID, event.Kind, event.At.UTC(), details).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

func (r *SessionRepository) deactivate(reason string, at time.Time) squirrel.UpdateBuilder {
	return r.builder.Update("portal.sessions").
		Set("is_active", false).
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", normalizeReason(reason, domain.RevokeReasonUserLogout))
}

func (r *SessionRepository) revokeReturning(ctx context.Context, op string, query squirrel.UpdateBuilder) ([]string, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s sql: %w", op, err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revoked sessions: %w", err)
	}
	return ids, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session      domain.Session
		metadata     []byte
		userAgentEnc sql.NullString
		ipEnc        sql.NullString
		revokedAt    sql.NullTime
		revokeReason sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.FingerprintHash,
		&metadata,
		&userAgentEnc,
		&ipEnc,
		&session.CreatedAt,
		&session.LastSeenAt,
		&session.IsActive,
		&revokedAt,
		&revokeReason,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.DeviceMetadata); err != nil {
			return nil, fmt.Errorf("decode device metadata: %w", err)
		}
	}
	session.UserAgentEnc = userAgentEnc.String
	session.IPEnc = ipEnc.String
	session.CreatedAt = session.CreatedAt.UTC()
	session.LastSeenAt = session.LastSeenAt.UTC()
	session.RevokedAt = nullableTimePtr(revokedAt)
	session.RevokeReason = nullableStringPtr(revokeReason)

	return &session, nil
}

func marshalDeviceMetadata(metadata domain.DeviceMetadata) ([]byte, error) {
	if metadata == nil {
		metadata = domain.DeviceMetadata{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal device metadata: %w", err)
	}
	return payload, nil
}

func marshalSessionEventDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return nil, nil
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal session event details: %w", err)
	}
	return payload, nil
}

func optionalString(value *string) any {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func optionalTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return (*value).UTC()
}

func nullableStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := strings.TrimSpace(value.String)
	if v == "" {
		return nil
	}
	return &v
}

func nullableTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func normalizeReason(candidate string, fallback string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

var _ port.SessionRepository = (*SessionRepository)(nil)
