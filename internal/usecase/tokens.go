package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/infra/logger"
	"github.com/arklim/academy-sessions/internal/infra/security"
	"github.com/arklim/academy-sessions/internal/repository"
)

// Validation outcomes reported to metrics.
const (
	outcomeValid        = "valid"
	outcomeExpired      = "expired"
	outcomeBlacklisted  = "blacklisted"
	outcomeInvalid      = "invalid"
	outcomeUnregistered = "unregistered"
	outcomeUnavailable  = "unavailable"
)

// IssueTokenPair creates a session for the subject and issues an access/refresh pair bound to it.
func (m *SessionManager) IssueTokenPair(ctx context.Context, req domain.SessionRequest) (*domain.IssuedSession, error) {
	ctx, span := m.tracer.Start(ctx, "SessionManager.IssueTokenPair")
	defer span.End()

	session, device, isNew, err := m.openSession(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open session")
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", session.ID))

	pair, err := m.issuePair(ctx, session)
	if err != nil {
		// The session is unreachable without tokens.
		if _, termErr := m.sessions.Terminate(ctx, session.ID, domain.TerminationSecurity); termErr != nil {
			m.logger.Warn("rollback session after issuance failure", zap.String("session_id", session.ID), zap.Error(termErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue tokens")
		return nil, err
	}

	m.record(ctx, domain.EventTokensIssued, session.SubjectID, session.ID, map[string]any{
		"login_method":       session.LoginMethod,
		"access_expires_at":  pair.AccessTokenExpiresAt,
		"refresh_expires_at": pair.RefreshTokenExpiresAt,
		"device_fingerprint": session.DeviceFingerprint,
		"new_device":         isNew,
		"masked_ip":          logger.MaskIP(session.IPAddress),
	})

	return &domain.IssuedSession{
		TokenPair:   pair,
		Session:     session,
		Device:      device,
		IsNewDevice: isNew,
	}, nil
}

// IssueFromIdentityToken verifies a provider-issued identity token and issues a pair for its subject.
// Subject, email, role and permissions always come from the verified token.
func (m *SessionManager) IssueFromIdentityToken(ctx context.Context, rawIdentityToken string, req domain.SessionRequest) (*domain.IssuedSession, error) {
	if m.verifier == nil {
		return nil, fmt.Errorf("%w: no identity verifier configured", ErrIdentityUnavailable)
	}
	if strings.TrimSpace(rawIdentityToken) == "" {
		return nil, fmt.Errorf("%w: identity token is required", ErrInvalidInput)
	}

	claims, err := m.verifier.VerifyIdentityToken(ctx, rawIdentityToken)
	if err != nil {
		return nil, fmt.Errorf("%w: verify identity token: %w", ErrInvalidToken, err)
	}
	if m.cfg.RequireVerifiedEmail && !claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	req.SubjectID = claims.SubjectID
	req.Email = claims.Email
	req.Role = claims.Role
	req.Permissions = claims.Permissions
	if req.LoginMethod == "" {
		req.LoginMethod = domain.LoginMethodIdentityToken
	}
	return m.IssueTokenPair(ctx, req)
}

// issuePair signs both tokens for the session and registers the refresh token.
func (m *SessionManager) issuePair(ctx context.Context, session domain.Session) (domain.TokenPair, error) {
	issuedAt := m.now()

	access, accessPayload, err := m.codec.IssueAccess(domain.AccessPayload{
		SubjectID:         session.SubjectID,
		SessionID:         session.ID,
		Role:              session.Role,
		Permissions:       session.Permissions,
		DeviceFingerprint: session.DeviceFingerprint,
		IPAddress:         session.IPAddress,
		IssuedAt:          issuedAt,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: access token: %w", ErrTokenGenerationFailed, err)
	}

	refresh, refreshPayload, err := m.codec.IssueRefresh(domain.RefreshPayload{
		SubjectID:         session.SubjectID,
		SessionID:         session.ID,
		DeviceFingerprint: session.DeviceFingerprint,
		IssuedAt:          issuedAt,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: refresh token: %w", ErrTokenGenerationFailed, err)
	}

	if err := m.refresh.Register(ctx, domain.RefreshRegistration{
		TokenHash: security.HashToken(refresh),
		SubjectID: session.SubjectID,
		SessionID: session.ID,
		IssuedAt:  refreshPayload.IssuedAt,
		ExpiresAt: refreshPayload.ExpiresAt,
	}); err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: register refresh token: %w", ErrTokenGenerationFailed, err)
	}

	m.metrics.IncTokensIssued(string(domain.TokenKindAccess))
	m.metrics.IncTokensIssued(string(domain.TokenKindRefresh))

	return domain.TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessPayload.ExpiresAt,
		RefreshTokenExpiresAt: refreshPayload.ExpiresAt,
	}, nil
}

// ValidateAccessToken checks the blacklist, then signature and expiry. It never returns an error:
// every failure is reported through the result.
func (m *SessionManager) ValidateAccessToken(ctx context.Context, token string) domain.ValidationResult {
	kind := string(domain.TokenKindAccess)

	result, hash, ok := m.checkBlacklist(ctx, token)
	if !ok {
		m.metrics.IncValidation(kind, outcomeOf(result))
		return result
	}

	payload, err := m.codec.VerifyAccess(token, port.VerifyOptions{})
	if err != nil {
		result = m.verificationFailure(token, err)
		m.logger.Debug("access token rejected", zap.String("token_hash", logger.MaskTokenHash(hash)), zap.Error(err))
		m.metrics.IncValidation(kind, outcomeOf(result))
		return result
	}

	m.metrics.IncValidation(kind, outcomeValid)
	return domain.ValidationResult{IsValid: true, Access: payload}
}

// ValidateRefreshToken applies the access token checks and additionally requires the token to be
// registered, so a correctly signed token the server no longer honours is invalid.
func (m *SessionManager) ValidateRefreshToken(ctx context.Context, token string) domain.ValidationResult {
	kind := string(domain.TokenKindRefresh)

	result, hash, ok := m.checkBlacklist(ctx, token)
	if !ok {
		m.metrics.IncValidation(kind, outcomeOf(result))
		return result
	}

	payload, err := m.codec.VerifyRefresh(token, port.VerifyOptions{})
	if err != nil {
		result = m.verificationFailure(token, err)
		m.metrics.IncValidation(kind, outcomeOf(result))
		return result
	}

	registered, err := m.refresh.IsRegistered(ctx, hash)
	if err != nil {
		m.logger.Warn("refresh registry lookup failed", zap.Error(err))
		m.metrics.IncValidation(kind, outcomeUnavailable)
		return domain.ValidationResult{Error: "refresh token could not be verified"}
	}
	if !registered {
		m.metrics.IncValidation(kind, outcomeUnregistered)
		return domain.ValidationResult{Error: "refresh token is not recognized"}
	}

	m.metrics.IncValidation(kind, outcomeValid)
	return domain.ValidationResult{IsValid: true, Refresh: payload}
}

// checkBlacklist returns ok=false with a populated result when validation must stop here.
// Revocation store failures fail closed.
func (m *SessionManager) checkBlacklist(ctx context.Context, token string) (domain.ValidationResult, string, bool) {
	if strings.TrimSpace(token) == "" {
		return domain.ValidationResult{Error: "token is required"}, "", false
	}

	hash := security.HashToken(token)
	blacklisted, err := m.blacklist.IsBlacklisted(ctx, hash)
	if err != nil {
		m.logger.Warn("revocation store lookup failed", zap.Error(err))
		return domain.ValidationResult{Error: "token could not be verified"}, hash, false
	}
	if blacklisted {
		return domain.ValidationResult{IsBlacklisted: true, Error: "token has been revoked"}, hash, false
	}
	return domain.ValidationResult{}, hash, true
}

func (m *SessionManager) verificationFailure(token string, err error) domain.ValidationResult {
	if errors.Is(err, security.ErrTokenExpired) {
		return domain.ValidationResult{IsExpired: true, Error: "token has expired"}
	}

	result := domain.ValidationResult{Error: "token is invalid"}
	// A lapsed token reports as expired even when it also fails verification.
	if exp, ok := security.UnverifiedExpiry(token); ok && !exp.After(m.now()) {
		result.IsExpired = true
	}
	return result
}

func outcomeOf(result domain.ValidationResult) string {
	switch {
	case result.IsValid:
		return outcomeValid
	case result.IsBlacklisted:
		return outcomeBlacklisted
	case result.IsExpired:
		return outcomeExpired
	default:
		return outcomeInvalid
	}
}

// RefreshTokenPair exchanges a refresh token for a new pair bound to the same session.
// Role and permissions are re-derived from the identity provider when one is configured, and the
// presented refresh token is blacklisted so it cannot be used again.
func (m *SessionManager) RefreshTokenPair(ctx context.Context, refreshToken string, activity domain.SessionActivity) (domain.TokenPair, error) {
	ctx, span := m.tracer.Start(ctx, "SessionManager.RefreshTokenPair")
	defer span.End()

	pair, err := m.refreshTokenPair(ctx, refreshToken, activity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh")
	}
	return pair, err
}

func (m *SessionManager) refreshTokenPair(ctx context.Context, refreshToken string, activity domain.SessionActivity) (domain.TokenPair, error) {
	result := m.ValidateRefreshToken(ctx, refreshToken)
	if !result.IsValid {
		switch {
		case result.IsBlacklisted:
			return domain.TokenPair{}, ErrTokenBlacklisted
		case result.IsExpired:
			return domain.TokenPair{}, ErrTokenExpired
		default:
			return domain.TokenPair{}, fmt.Errorf("%w: %s", ErrInvalidToken, result.Error)
		}
	}
	payload := result.Refresh

	hash := security.HashToken(refreshToken)
	if _, busy := m.rotating.LoadOrStore(hash, struct{}{}); busy {
		return domain.TokenPair{}, ErrTokenBlacklisted
	}
	defer m.rotating.Delete(hash)

	// A rotation that finished after validation has already unregistered the token.
	registered, err := m.refresh.IsRegistered(ctx, hash)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("refresh registry: %w", err)
	}
	if !registered {
		return domain.TokenPair{}, ErrTokenBlacklisted
	}

	stored, err := m.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TokenPair{}, ErrSessionNotFound
		}
		return domain.TokenPair{}, fmt.Errorf("get session: %w", err)
	}
	session := *stored
	if session.SubjectID != payload.SubjectID {
		return domain.TokenPair{}, fmt.Errorf("%w: session belongs to another subject", ErrInvalidToken)
	}
	if !session.IsActive(m.now()) {
		return domain.TokenPair{}, ErrSessionExpired
	}

	if m.identity != nil {
		claims, err := m.currentClaims(ctx, session.SubjectID)
		if err != nil {
			return domain.TokenPair{}, err
		}
		if claims.TokensValidAfter != nil && payload.IssuedAt.Before(*claims.TokensValidAfter) {
			m.terminate(ctx, session.ID, session.SubjectID, domain.TerminationSecurity)
			return domain.TokenPair{}, ErrTokenBlacklisted
		}
		if claims.Role != "" {
			session.Role = claims.Role
		}
		session.Permissions = claims.Permissions
	}

	if activity.IPAddress != "" {
		session.IPAddress = activity.IPAddress
	}
	pair, err := m.issuePair(ctx, session)
	if err != nil {
		return domain.TokenPair{}, err
	}

	// The presented token is retired only once its replacement exists.
	m.blacklistEntry(ctx, domain.BlacklistEntry{
		TokenHash: hash,
		SubjectID: payload.SubjectID,
		ExpiresAt: payload.ExpiresAt,
		Reason:    domain.TerminationTokenRefresh,
		SessionID: &session.ID,
	})
	if err := m.refresh.Unregister(ctx, hash); err != nil {
		m.logger.Warn("unregister rotated refresh token", zap.String("session_id", session.ID), zap.Error(err))
	}

	if _, err := m.sessions.Touch(ctx, session.ID, activity); err != nil {
		m.logger.Warn("touch session after refresh", zap.String("session_id", session.ID), zap.Error(err))
	}

	m.record(ctx, domain.EventTokensRefreshed, session.SubjectID, session.ID, map[string]any{
		"role":               session.Role,
		"access_expires_at":  pair.AccessTokenExpiresAt,
		"refresh_expires_at": pair.RefreshTokenExpiresAt,
	})
	return pair, nil
}

// currentClaims asks the identity provider for the subject's current claims. No lock is held here.
func (m *SessionManager) currentClaims(ctx context.Context, subjectID string) (*domain.IdentityClaims, error) {
	providerCtx, cancel := m.providerContext(ctx)
	defer cancel()

	claims, err := m.identity.LookupCurrentClaims(providerCtx, subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: subject no longer exists", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: lookup current claims: %w", ErrIdentityUnavailable, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: empty claims", ErrIdentityUnavailable)
	}
	return claims, nil
}

// BlacklistTokenPair revokes whichever of the two tokens can be decoded. It never fails: malformed
// input is logged and skipped. Expired tokens are still decoded so their hashes can be recorded.
func (m *SessionManager) BlacklistTokenPair(ctx context.Context, accessToken, refreshToken, reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = domain.TerminationLogout
	}

	if strings.TrimSpace(accessToken) != "" {
		payload, err := m.codec.VerifyAccess(accessToken, port.VerifyOptions{IgnoreExpiration: true})
		if err != nil {
			m.logger.Debug("skip blacklisting undecodable access token", zap.Error(err))
		} else {
			sessionID := payload.SessionID
			m.blacklistEntry(ctx, domain.BlacklistEntry{
				TokenHash: security.HashToken(accessToken),
				SubjectID: payload.SubjectID,
				ExpiresAt: payload.ExpiresAt,
				Reason:    reason,
				SessionID: &sessionID,
			})
		}
	}

	if strings.TrimSpace(refreshToken) != "" {
		payload, err := m.codec.VerifyRefresh(refreshToken, port.VerifyOptions{IgnoreExpiration: true})
		if err != nil {
			m.logger.Debug("skip blacklisting undecodable refresh token", zap.Error(err))
			return
		}
		hash := security.HashToken(refreshToken)
		sessionID := payload.SessionID
		m.blacklistEntry(ctx, domain.BlacklistEntry{
			TokenHash: hash,
			SubjectID: payload.SubjectID,
			ExpiresAt: payload.ExpiresAt,
			Reason:    reason,
			SessionID: &sessionID,
		})
		if err := m.refresh.Unregister(ctx, hash); err != nil {
			m.logger.Warn("unregister blacklisted refresh token", zap.Error(err))
		}
	}
}

// blacklistEntry stores the entry and broadcasts it to peers. Failures are logged.
func (m *SessionManager) blacklistEntry(ctx context.Context, entry domain.BlacklistEntry) {
	entry.BlacklistedAt = m.now()
	if err := m.blacklist.Blacklist(ctx, entry); err != nil {
		m.logger.Error("blacklist token",
			zap.String("token_hash", logger.MaskTokenHash(entry.TokenHash)),
			zap.String("subject_id", entry.SubjectID),
			zap.Error(err),
		)
		return
	}
	m.metrics.IncBlacklisted(entry.Reason)

	sessionID := ""
	if entry.SessionID != nil {
		sessionID = *entry.SessionID
	}
	m.record(ctx, domain.EventTokenBlacklisted, entry.SubjectID, sessionID, map[string]any{
		"reason":     entry.Reason,
		"expires_at": entry.ExpiresAt,
	})

	if m.broadcaster == nil {
		return
	}
	if err := m.broadcaster.PublishTokenBlacklisted(ctx, domain.TokenBlacklistedEvent{
		TokenHash:     entry.TokenHash,
		SubjectID:     entry.SubjectID,
		SessionID:     entry.SessionID,
		Reason:        entry.Reason,
		ExpiresAt:     entry.ExpiresAt,
		BlacklistedAt: entry.BlacklistedAt,
	}); err != nil {
		m.logger.Warn("broadcast blacklisting", zap.String("subject_id", entry.SubjectID), zap.Error(err))
	}
}
