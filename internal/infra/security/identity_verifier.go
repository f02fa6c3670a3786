package security

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/core/port"
)

// ErrIdentityTokenInvalid indicates the identity-provider token could not be verified.
var ErrIdentityTokenInvalid = errors.New("identity token: invalid")

// ErrKeyIDMissing indicates no kid is associated with the supplied key or token.
var ErrKeyIDMissing = errors.New("identity token: missing key identifier")

// IdentityTokenClaims is the claim set the identity provider signs.
type IdentityTokenClaims struct {
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	Role          string   `json:"role,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// IdentityVerifierOptions configures an IdentityVerifier.
type IdentityVerifierOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// IdentityVerifier verifies RS256 identity tokens against keys resolved by kid.
type IdentityVerifier struct {
	provider KeyProvider
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	publicKeys map[string]*rsa.PublicKey
}

// NewIdentityVerifier constructs a verifier, seeding its key cache from the provider when it can enumerate keys.
func NewIdentityVerifier(provider KeyProvider, opts IdentityVerifierOptions) (*IdentityVerifier, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("identity verifier: issuer is required")
	}

	v := &IdentityVerifier{
		provider:   provider,
		issuer:     issuer,
		audience:   strings.TrimSpace(opts.Audience),
		leeway:     opts.Leeway,
		now:        func() time.Time { return time.Now().UTC() },
		publicKeys: make(map[string]*rsa.PublicKey),
	}

	if enumerator, ok := provider.(interface {
		ListVerificationKeys() map[string]*rsa.PublicKey
	}); ok {
		for kid, key := range enumerator.ListVerificationKeys() {
			_ = v.RegisterPublicKey(kid, key)
		}
	}
	return v, nil
}

// WithClock overrides the internal clock for deterministic testing.
func (v *IdentityVerifier) WithClock(clock func() time.Time) *IdentityVerifier {
	if clock != nil {
		v.now = clock
	}
	return v
}

// RegisterPublicKey associates a kid with a public key.
func (v *IdentityVerifier) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("identity verifier: public key for %s is nil", kid)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.publicKeys[kid] = key
	return nil
}

func (v *IdentityVerifier) verificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	v.mu.RLock()
	key, ok := v.publicKeys[kid]
	v.mu.RUnlock()
	if ok {
		return key, nil
	}

	if v.provider != nil {
		fetched, err := v.provider.GetVerificationKey(kid)
		if err == nil {
			_ = v.RegisterPublicKey(kid, fetched)
			return fetched, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

// VerifyIdentityToken validates the provider token and returns the asserted identity.
func (v *IdentityVerifier) VerifyIdentityToken(ctx context.Context, rawToken string) (*domain.IdentityClaims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrIdentityTokenInvalid)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &IdentityTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.verificationKey(kid)
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityTokenInvalid, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrIdentityTokenInvalid)
	}

	identity := &domain.IdentityClaims{
		SubjectID:     subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Role:          strings.TrimSpace(claims.Role),
		Permissions:   normalizePermissions(claims.Permissions),
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return identity, nil
}

// SignIdentityToken signs identity claims the way the provider does. Used by development tooling and tests.
func SignIdentityToken(kid string, key *rsa.PrivateKey, claims *IdentityTokenClaims) (string, error) {
	if claims == nil {
		return "", fmt.Errorf("identity token: claims required")
	}
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return "", ErrKeyIDMissing
	}
	if key == nil {
		return "", ErrSigningKeyUnavailable
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("identity token: sign token: %w", err)
	}
	return signed, nil
}

func normalizePermissions(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, permission := range input {
		permission = strings.TrimSpace(permission)
		if permission == "" {
			continue
		}
		if _, exists := seen[permission]; exists {
			continue
		}
		seen[permission] = struct{}{}
		result = append(result, permission)
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

var _ port.IdentityVerifier = (*IdentityVerifier)(nil)
