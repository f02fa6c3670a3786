package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/repository"
)

const blacklistTable = "sessions.token_blacklist"

// BlacklistRepository persists blacklist entries in sessions.token_blacklist, keyed by token_hash
// with a secondary index on subject_id.
type BlacklistRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewBlacklistRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewBlacklistRepository(exec pgExecutor) *BlacklistRepository {
	return &BlacklistRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *BlacklistRepository) WithTx(tx pgx.Tx) *BlacklistRepository {
	if tx == nil {
		return r
	}
	return &BlacklistRepository{exec: tx, builder: r.builder, now: r.now}
}

// WithClock overrides the internal clock for deterministic testing.
func (r *BlacklistRepository) WithClock(clock func() time.Time) *BlacklistRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Blacklist upserts the entry, keeping the later expiry and the newest non-empty reason.
func (r *BlacklistRepository) Blacklist(ctx context.Context, entry domain.BlacklistEntry) error {
	hash := strings.TrimSpace(entry.TokenHash)
	if hash == "" {
		return fmt.Errorf("postgres blacklist: %w: token hash is required", repository.ErrInvalidArgument)
	}
	if entry.ExpiresAt.IsZero() {
		return fmt.Errorf("postgres blacklist: %w: expires at is required", repository.ErrInvalidArgument)
	}

	blacklistedAt := entry.BlacklistedAt
	if blacklistedAt.IsZero() {
		blacklistedAt = r.now().UTC()
	}

	stmt, args, err := r.builder.Insert(blacklistTable).
		Columns("token_hash", "subject_id", "blacklisted_at", "expires_at", "reason", "session_id").
		Values(hash, entry.SubjectID, blacklistedAt, entry.ExpiresAt.UTC(), entry.Reason, entry.SessionID).
		Suffix(`ON CONFLICT (token_hash) DO UPDATE SET
			expires_at = GREATEST(` + blacklistTable + `.expires_at, EXCLUDED.expires_at),
			reason = COALESCE(NULLIF(EXCLUDED.reason, ''), ` + blacklistTable + `.reason),
			session_id = COALESCE(EXCLUDED.session_id, ` + blacklistTable + `.session_id)`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert blacklist sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert blacklist entry: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether a live row exists. Expired rows are deleted on lookup.
func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return false, nil
	}

	stmt, args, err := r.builder.Select("expires_at").
		From(blacklistTable).
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select blacklist sql: %w", err)
	}

	var expiresAt time.Time
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select blacklist entry: %w", err)
	}

	now := r.now().UTC()
	if expiresAt.After(now) {
		return true, nil
	}

	stmt, args, err = r.builder.Delete(blacklistTable).
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Where(squirrel.LtOrEq{"expires_at": now}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete blacklist sql: %w", err)
	}
	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return false, fmt.Errorf("delete expired blacklist entry: %w", err)
	}
	return false, nil
}

// SweepExpired deletes every expired row.
func (r *BlacklistRepository) SweepExpired(ctx context.Context) (int, error) {
	stmt, args, err := r.builder.Delete(blacklistTable).
		Where(squirrel.LtOrEq{"expires_at": r.now().UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sweep blacklist sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sweep blacklist: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BlacklistAllForSubject stamps reason onto the subject's live rows.
func (r *BlacklistRepository) BlacklistAllForSubject(ctx context.Context, subjectID string, reason string) (int, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, fmt.Errorf("postgres blacklist: %w: subject is required", repository.ErrInvalidArgument)
	}

	now := r.now().UTC()
	if reason == "" {
		return r.count(ctx, squirrel.Eq{"subject_id": subjectID}, squirrel.Gt{"expires_at": now})
	}

	stmt, args, err := r.builder.Update(blacklistTable).
		Set("reason", reason).
		Where(squirrel.Eq{"subject_id": subjectID}).
		Where(squirrel.Gt{"expires_at": now}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update blacklist sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("update blacklist reason: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of live rows.
func (r *BlacklistRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, squirrel.Gt{"expires_at": r.now().UTC()})
}

func (r *BlacklistRepository) count(ctx context.Context, predicates ...squirrel.Sqlizer) (int, error) {
	query := r.builder.Select("COUNT(*)").From(blacklistTable)
	for _, predicate := range predicates {
		query = query.Where(predicate)
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count blacklist sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count blacklist entries: %w", err)
	}
	return count, nil
}

var _ port.RevocationStore = (*BlacklistRepository)(nil)
