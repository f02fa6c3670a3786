package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	minMasterSecretLength = 32
	derivedSecretLength   = 32

	accessSecretInfo  = "academy-sessions/access-token"
	refreshSecretInfo = "academy-sessions/refresh-token"
)

// DeriveTokenSecrets expands one master secret into distinct access and refresh signing secrets.
func DeriveTokenSecrets(master []byte, salt string) ([]byte, []byte, error) {
	if len(master) < minMasterSecretLength {
		return nil, nil, fmt.Errorf("derive token secrets: master secret must be at least %d bytes", minMasterSecretLength)
	}

	access, err := deriveSecret(master, salt, accessSecretInfo)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := deriveSecret(master, salt, refreshSecretInfo)
	if err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

func deriveSecret(master []byte, salt, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, master, []byte(salt), []byte(info))
	out := make([]byte, derivedSecretLength)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("derive %s secret: %w", info, err)
	}
	return out, nil
}
