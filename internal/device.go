package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintVersion prefixes every fingerprint so the derivation can change
// without colliding with stored values.
const FingerprintVersion = "v1"

// Fingerprint hashes the non-empty components into "v1:<32 hex>".
// It returns "" when every component is empty.
func Fingerprint(components ...string) string {
	filtered := make([]string, 0, len(components))
	for _, c := range components {
		c = strings.TrimSpace(c)
		if c != "" {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join(filtered, "|")))
	return FingerprintVersion + ":" + hex.EncodeToString(sum[:16])
}

// ValidFingerprint reports whether fp has the shape Fingerprint produces.
func ValidFingerprint(fp string) bool {
	rest, ok := strings.CutPrefix(fp, FingerprintVersion+":")
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
