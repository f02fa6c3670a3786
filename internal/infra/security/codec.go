package security

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
)

// Token codec failures.
var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrTokenExpired     = errors.New("token: expired")
	ErrWrongAudience    = errors.New("token: wrong audience")
	ErrWrongIssuer      = errors.New("token: wrong issuer")
	ErrWrongTokenType   = errors.New("token: wrong token type")
	ErrMalformedToken   = errors.New("token: malformed")
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// CodecOptions configures a TokenCodec.
type CodecOptions struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenCodec signs and verifies HS256 access and refresh tokens, each kind with its own secret.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

type accessClaims struct {
	SessionID         string           `json:"sid"`
	Role              string           `json:"role,omitempty"`
	Permissions       []string         `json:"perms,omitempty"`
	DeviceFingerprint string           `json:"dfp,omitempty"`
	IPAddress         string           `json:"ip,omitempty"`
	TokenType         domain.TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	SessionID         string           `json:"sid"`
	DeviceFingerprint string           `json:"dfp,omitempty"`
	TokenType         domain.TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// NewTokenCodec validates options and constructs a codec.
func NewTokenCodec(opts CodecOptions) (*TokenCodec, error) {
	if len(opts.AccessSecret) == 0 || len(opts.RefreshSecret) == 0 {
		return nil, fmt.Errorf("token codec: access and refresh secrets are required")
	}
	if bytes.Equal(opts.AccessSecret, opts.RefreshSecret) {
		return nil, fmt.Errorf("token codec: access and refresh secrets must differ")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("token codec: issuer is required")
	}
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, fmt.Errorf("token codec: audience is required")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}

	return &TokenCodec{
		accessSecret:  bytes.Clone(opts.AccessSecret),
		refreshSecret: bytes.Clone(opts.RefreshSecret),
		issuer:        issuer,
		audience:      audience,
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the internal clock for deterministic testing.
func (c *TokenCodec) WithClock(clock func() time.Time) *TokenCodec {
	if clock != nil {
		c.now = clock
	}
	return c
}

// AccessTTL reports the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access token. Missing ids and timestamps are filled in and the
// normalised payload is returned so callers see exactly what verification will yield.
func (c *TokenCodec) IssueAccess(payload domain.AccessPayload) (string, domain.AccessPayload, error) {
	if strings.TrimSpace(payload.SubjectID) == "" {
		return "", domain.AccessPayload{}, fmt.Errorf("token codec: subject is required")
	}
	payload.TokenType = domain.TokenKindAccess
	payload.TokenID = ensureTokenID(payload.TokenID)
	payload.IssuedAt, payload.ExpiresAt = c.window(payload.IssuedAt, payload.ExpiresAt, c.accessTTL)
	if len(payload.Permissions) == 0 {
		payload.Permissions = nil
	}

	claims := &accessClaims{
		SessionID:         payload.SessionID,
		Role:              payload.Role,
		Permissions:       payload.Permissions,
		DeviceFingerprint: payload.DeviceFingerprint,
		IPAddress:         payload.IPAddress,
		TokenType:         payload.TokenType,
		RegisteredClaims:  c.registered(payload.SubjectID, payload.TokenID, payload.IssuedAt, payload.ExpiresAt),
	}

	signed, err := sign(claims, c.accessSecret)
	if err != nil {
		return "", domain.AccessPayload{}, err
	}
	return signed, payload, nil
}

// IssueRefresh signs a refresh token, filling in missing ids and timestamps.
func (c *TokenCodec) IssueRefresh(payload domain.RefreshPayload) (string, domain.RefreshPayload, error) {
	if strings.TrimSpace(payload.SubjectID) == "" {
		return "", domain.RefreshPayload{}, fmt.Errorf("token codec: subject is required")
	}
	payload.TokenType = domain.TokenKindRefresh
	payload.TokenID = ensureTokenID(payload.TokenID)
	payload.IssuedAt, payload.ExpiresAt = c.window(payload.IssuedAt, payload.ExpiresAt, c.refreshTTL)

	claims := &refreshClaims{
		SessionID:         payload.SessionID,
		DeviceFingerprint: payload.DeviceFingerprint,
		TokenType:         payload.TokenType,
		RegisteredClaims:  c.registered(payload.SubjectID, payload.TokenID, payload.IssuedAt, payload.ExpiresAt),
	}

	signed, err := sign(claims, c.refreshSecret)
	if err != nil {
		return "", domain.RefreshPayload{}, err
	}
	return signed, payload, nil
}

// VerifyAccess checks signature, issuer, audience and (unless ignored) expiry of an access token.
func (c *TokenCodec) VerifyAccess(token string, opts port.VerifyOptions) (*domain.AccessPayload, error) {
	claims := &accessClaims{}
	if err := c.parse(token, c.accessSecret, claims, opts); err != nil {
		return nil, err
	}
	if claims.TokenType != domain.TokenKindAccess {
		return nil, fmt.Errorf("%w: got %q", ErrWrongTokenType, claims.TokenType)
	}

	issuedAt, expiresAt := claimTimes(claims.RegisteredClaims)
	return &domain.AccessPayload{
		TokenID:           claims.ID,
		SubjectID:         claims.Subject,
		SessionID:         claims.SessionID,
		Role:              claims.Role,
		Permissions:       claims.Permissions,
		DeviceFingerprint: claims.DeviceFingerprint,
		IPAddress:         claims.IPAddress,
		TokenType:         claims.TokenType,
		IssuedAt:          issuedAt,
		ExpiresAt:         expiresAt,
	}, nil
}

// VerifyRefresh checks signature, issuer, audience and (unless ignored) expiry of a refresh token.
func (c *TokenCodec) VerifyRefresh(token string, opts port.VerifyOptions) (*domain.RefreshPayload, error) {
	claims := &refreshClaims{}
	if err := c.parse(token, c.refreshSecret, claims, opts); err != nil {
		return nil, err
	}
	if claims.TokenType != domain.TokenKindRefresh {
		return nil, fmt.Errorf("%w: got %q", ErrWrongTokenType, claims.TokenType)
	}

	issuedAt, expiresAt := claimTimes(claims.RegisteredClaims)
	return &domain.RefreshPayload{
		TokenID:           claims.ID,
		SubjectID:         claims.Subject,
		SessionID:         claims.SessionID,
		DeviceFingerprint: claims.DeviceFingerprint,
		TokenType:         claims.TokenType,
		IssuedAt:          issuedAt,
		ExpiresAt:         expiresAt,
	}, nil
}

type registeredClaimsHolder interface {
	jwt.Claims
	registeredClaims() jwt.RegisteredClaims
}

func (c *accessClaims) registeredClaims() jwt.RegisteredClaims  { return c.RegisteredClaims }
func (c *refreshClaims) registeredClaims() jwt.RegisteredClaims { return c.RegisteredClaims }

func (c *TokenCodec) parse(token string, secret []byte, claims registeredClaimsHolder, opts port.VerifyOptions) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if opts.IgnoreExpiration {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, parserOpts...)
	if err != nil {
		return classifyParseError(err)
	}

	if opts.IgnoreExpiration {
		// Claims validation was skipped entirely, so issuer and audience are checked here.
		registered := claims.registeredClaims()
		if registered.Issuer != c.issuer {
			return ErrWrongIssuer
		}
		if !slices.Contains(registered.Audience, c.audience) {
			return ErrWrongAudience
		}
	}
	return nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrWrongIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %w", ErrWrongAudience, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}

// UnverifiedExpiry reads the exp claim without checking the signature. It only serves to
// report an expired token as expired even when it fails verification for another reason.
func UnverifiedExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time.UTC(), true
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token codec: sign token: %w", err)
	}
	return signed, nil
}

func (c *TokenCodec) registered(subject, jti string, issuedAt, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{c.audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        jti,
	}
}

// window resolves issue and expiry instants at one-second resolution.
func (c *TokenCodec) window(issuedAt, expiresAt time.Time, ttl time.Duration) (time.Time, time.Time) {
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(ttl)
	}
	return issuedAt, expiresAt.UTC().Truncate(time.Second)
}

func claimTimes(claims jwt.RegisteredClaims) (time.Time, time.Time) {
	var issuedAt, expiresAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}
	return issuedAt, expiresAt
}

func ensureTokenID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString()
	}
	return id
}

var _ port.TokenCodec = (*TokenCodec)(nil)
