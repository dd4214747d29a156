package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CalculateStringSHA256 computes the SHA-256 hash of a string.
func CalculateStringSHA256(content string) string {
	hash := sha256.New()
	hash.Write([]byte(content))
	return hex.EncodeToString(hash.Sum(nil))
}

// AltContentHash fingerprints alt text for review reuse. Surrounding whitespace is ignored.
func AltContentHash(altText string) string {
	return CalculateStringSHA256(strings.TrimSpace(altText))
}
