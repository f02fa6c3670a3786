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

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/repository"
)

const identityTable = "sessions.identity_subjects"

// ErrSubjectDisabled indicates the identity provider has disabled the subject.
var ErrSubjectDisabled = errors.New("identity directory: subject disabled")

// IdentityDirectory reads the identity provider's subject directory and records global revocations.
type IdentityDirectory struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewIdentityDirectory constructs a directory backed by any executor that satisfies pgExecutor.
func NewIdentityDirectory(exec pgExecutor) *IdentityDirectory {
	return &IdentityDirectory{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (d *IdentityDirectory) WithClock(clock func() time.Time) *IdentityDirectory {
	if clock != nil {
		d.now = clock
	}
	return d
}

// LookupCurrentClaims returns the subject's current role and permissions.
func (d *IdentityDirectory) LookupCurrentClaims(ctx context.Context, subjectID string) (*domain.IdentityClaims, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("identity directory: %w: subject is required", repository.ErrInvalidArgument)
	}

	stmt, args, err := d.builder.
		Select("subject_id", "email", "email_verified", "role", "permissions", "disabled", "tokens_valid_after").
		From(identityTable).
		Where(squirrel.Eq{"subject_id": subjectID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select identity sql: %w", err)
	}

	var (
		claims           domain.IdentityClaims
		email            sql.NullString
		disabled         bool
		tokensValidAfter sql.NullTime
	)
	row := d.exec.QueryRow(ctx, stmt, args...)
	if err := row.Scan(&claims.SubjectID, &email, &claims.EmailVerified, &claims.Role, &claims.Permissions, &disabled, &tokensValidAfter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity subject: %w", err)
	}
	if disabled {
		return nil, ErrSubjectDisabled
	}

	if email.Valid {
		claims.Email = email.String
	}
	if tokensValidAfter.Valid {
		at := tokensValidAfter.Time.UTC()
		claims.TokensValidAfter = &at
	}
	return &claims, nil
}

// RevokeAllSessionsForSubject invalidates every token the provider issued to the subject before now.
func (d *IdentityDirectory) RevokeAllSessionsForSubject(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("identity directory: %w: subject is required", repository.ErrInvalidArgument)
	}

	stmt, args, err := d.builder.Update(identityTable).
		Set("tokens_valid_after", d.now().UTC()).
		Where(squirrel.Eq{"subject_id": subjectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke identity sql: %w", err)
	}

	tag, err := d.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke identity sessions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ port.IdentityAdmin = (*IdentityDirectory)(nil)
