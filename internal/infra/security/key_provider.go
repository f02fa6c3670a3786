package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrSigningKeyUnavailable = errors.New("signing key not available")
	ErrKeyNotFound           = errors.New("key not found")
)

// KeyProvider resolves identity-provider verification keys by kid.
type KeyProvider interface {
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// DirKeyProvider reads identity-provider keys from PEM files in a directory.
// The file name without extension is the kid.
type DirKeyProvider struct {
	keys map[string]*rsa.PublicKey
	// Private keys are only present in development key directories.
	signingKID string
	signingKey *rsa.PrivateKey
}

// NewDirKeyProvider loads every PEM file found in keyDir.
func NewDirKeyProvider(keyDir string) (*DirKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		names = append(names, file.Name())
	}
	sort.Strings(names)

	provider := &DirKeyProvider{keys: make(map[string]*rsa.PublicKey)}
	for _, name := range names {
		path := filepath.Join(keyDir, name)
		keyData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(name, filepath.Ext(name))
		public, private, err := parsePEMKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key from file %s: %w", path, err)
		}
		provider.keys[kid] = public
		if private != nil && provider.signingKey == nil {
			provider.signingKID = kid
			provider.signingKey = private
		}
	}

	if len(provider.keys) == 0 {
		return nil, fmt.Errorf("no keys found in %s", keyDir)
	}
	return provider, nil
}

// GetVerificationKey returns the public key registered under kid.
func (p *DirKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// ListVerificationKeys returns a copy of every loaded public key.
func (p *DirKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

// SigningKey returns the first private key found, for minting development identity tokens.
func (p *DirKeyProvider) SigningKey() (string, *rsa.PrivateKey, error) {
	if p.signingKey == nil {
		return "", nil, ErrSigningKeyUnavailable
	}
	return p.signingKID, p.signingKey, nil
}

func parsePEMKey(data []byte) (*rsa.PublicKey, *rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("failed to decode PEM block")
	}

	// PKCS#1 (RSA PRIVATE KEY)
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &key.PublicKey, key, nil
	}
	// PKCS#8 (PRIVATE KEY)
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return &rsaKey.PublicKey, rsaKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil, nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil, nil
		}
	}
	return nil, nil, errors.New("unsupported key type")
}
