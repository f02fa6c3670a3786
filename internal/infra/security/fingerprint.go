package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

const fingerprintLength = 32

// DeviceFingerprint derives a stable identifier from the reported device characteristics.
func DeviceFingerprint(info domain.DeviceInfo, userAgent string) string {
	parts := []string{
		normalizeFingerprintPart(string(info.Platform)),
		normalizeFingerprintPart(info.Browser),
		normalizeFingerprintPart(info.OS),
		normalizeFingerprintPart(info.ScreenResolution),
		normalizeFingerprintPart(info.Timezone),
		normalizeFingerprintPart(info.Language),
		strconv.FormatBool(info.IsMobile),
		strconv.FormatBool(info.IsTablet),
		strconv.FormatBool(info.IsDesktop),
		normalizeFingerprintPart(userAgent),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

func normalizeFingerprintPart(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
