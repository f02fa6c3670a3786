package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashToken calculates a SHA-256 hash of the provided value.
// Raw tokens are never stored; every blacklist and registry key is derived here.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}
