package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func writeTestKey(t *testing.T, dir, kid string) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey returned error: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(filepath.Join(dir, kid+".pem"), pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	return key
}

func TestIdentityVerifierAcceptsProviderToken(t *testing.T) {
	dir := t.TempDir()
	writeTestKey(t, dir, "idp-1")

	provider, err := NewDirKeyProvider(dir)
	if err != nil {
		t.Fatalf("NewDirKeyProvider returned error: %v", err)
	}
	kid, key, err := provider.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey returned error: %v", err)
	}
	if kid != "idp-1" {
		t.Fatalf("expected kid idp-1, got %s", kid)
	}

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	verifier, err := NewIdentityVerifier(provider, IdentityVerifierOptions{Issuer: "https://idp.example", Audience: "academy"})
	if err != nil {
		t.Fatalf("NewIdentityVerifier returned error: %v", err)
	}
	verifier.WithClock(func() time.Time { return now })

	raw, err := SignIdentityToken(kid, key, &IdentityTokenClaims{
		Email:         "learner@example.com",
		EmailVerified: true,
		Role:          "student",
		Permissions:   []string{"course:read", "course:read", " "},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://idp.example",
			Subject:   "u1",
			Audience:  jwt.ClaimStrings{"academy"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("SignIdentityToken returned error: %v", err)
	}

	claims, err := verifier.VerifyIdentityToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("VerifyIdentityToken returned error: %v", err)
	}
	if claims.SubjectID != "u1" || claims.Email != "learner@example.com" || !claims.EmailVerified || claims.Role != "student" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "course:read" {
		t.Fatalf("expected deduplicated permissions, got %v", claims.Permissions)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", claims.ExpiresAt)
	}
}

func TestIdentityVerifierRejectsInvalidTokens(t *testing.T) {
	dir := t.TempDir()
	key := writeTestKey(t, dir, "idp-1")
	provider, err := NewDirKeyProvider(dir)
	if err != nil {
		t.Fatalf("NewDirKeyProvider returned error: %v", err)
	}

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	verifier, err := NewIdentityVerifier(provider, IdentityVerifierOptions{Issuer: "https://idp.example", Audience: "academy"})
	if err != nil {
		t.Fatalf("NewIdentityVerifier returned error: %v", err)
	}
	verifier.WithClock(func() time.Time { return now })

	base := jwt.RegisteredClaims{
		Issuer:    "https://idp.example",
		Subject:   "u1",
		Audience:  jwt.ClaimStrings{"academy"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	wrongIssuer := base
	wrongIssuer.Issuer = "https://evil.example"
	expired := base
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noSubject := base
	noSubject.Subject = ""

	tests := []struct {
		name   string
		kid    string
		claims jwt.RegisteredClaims
	}{
		{name: "wrong issuer", kid: "idp-1", claims: wrongIssuer},
		{name: "expired", kid: "idp-1", claims: expired},
		{name: "missing subject", kid: "idp-1", claims: noSubject},
		{name: "unknown kid", kid: "idp-2", claims: base},
	}

	for _, tc := range tests {
		raw, err := SignIdentityToken(tc.kid, key, &IdentityTokenClaims{RegisteredClaims: tc.claims})
		if err != nil {
			t.Fatalf("%s: SignIdentityToken returned error: %v", tc.name, err)
		}
		if _, err := verifier.VerifyIdentityToken(context.Background(), raw); !errors.Is(err, ErrIdentityTokenInvalid) {
			t.Fatalf("%s: expected ErrIdentityTokenInvalid, got %v", tc.name, err)
		}
	}
}

func TestDirKeyProviderRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.pem"), []byte("not pem"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if _, err := NewDirKeyProvider(dir); err == nil {
		t.Fatal("expected garbage key file to be rejected")
	}

	if _, err := NewDirKeyProvider(t.TempDir()); err == nil {
		t.Fatal("expected empty key directory to be rejected")
	}
}
