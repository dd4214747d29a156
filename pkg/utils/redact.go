package utils

import (
	"regexp"
	"strings"
	"sync"
)

// RedactedPlaceholder replaces secrets that have no maskable shape
const RedactedPlaceholder = "[REDACTED]"

var (
	// "Incorrect API key provided: sk-abc...". The key itself is masked, the prefix kept.
	incorrectKeyRegex = regexp.MustCompile(`(?i)(Incorrect API key provided:\s*)(\S+)`)
	// Provider-style secret keys (sk-..., sk-proj-...)
	secretKeyRegex = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`)
	// Authorization headers echoed back in errors
	bearerRegex = regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9_\-.~+/=]{8,}`)
	// api_key=..., "token": "...", secret: ...
	assignmentRegex = regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|secret|bot[_-]?token)(["'\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`)

	extraPatterns   []*regexp.Regexp
	extraPatternsMu sync.RWMutex
)

// MaskSecret keeps the first and last four characters of a secret and stars the rest.
// Secrets of eight characters or fewer are fully starred.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// SetExtraRedactionPatterns installs operator-supplied patterns whose matches are replaced
// with RedactedPlaceholder.
func SetExtraRedactionPatterns(patterns []*regexp.Regexp) {
	extraPatternsMu.Lock()
	extraPatterns = patterns
	extraPatternsMu.Unlock()
}

// RedactSecrets removes credential-like substrings from text before it is logged,
// stored in a queue message or returned to a caller.
func RedactSecrets(text string) string {
	if text == "" {
		return text
	}

	result := incorrectKeyRegex.ReplaceAllStringFunc(text, func(m string) string {
		parts := incorrectKeyRegex.FindStringSubmatch(m)
		return parts[1] + MaskSecret(parts[2])
	})
	result = secretKeyRegex.ReplaceAllStringFunc(result, MaskSecret)
	result = bearerRegex.ReplaceAllString(result, "${1}"+RedactedPlaceholder)
	result = assignmentRegex.ReplaceAllString(result, "${1}${2}"+RedactedPlaceholder)

	extraPatternsMu.RLock()
	defer extraPatternsMu.RUnlock()
	for _, re := range extraPatterns {
		result = re.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// RedactError is RedactSecrets over err.Error(); nil yields "".
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactSecrets(err.Error())
}
