package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// --- Sentinel Errors for Infrastructure Failures ---
var (
	ErrDatabase         = errors.New("database error")   // Wraps badger/redis errors
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
	ErrNotFound         = errors.New("not found")
)

// ErrorKind enumerates the outcomes of a generation attempt that callers must tell apart
type ErrorKind string

const (
	KindMissingCredential ErrorKind = "missing_credential" // No API key configured; fatal
	KindNotAnImage        ErrorKind = "not_an_image"       // Asset MIME type is not image/*
	KindDryRun            ErrorKind = "dry_run"            // Prompt built, no request sent
	KindDuplicateAlt      ErrorKind = "duplicate_alt"      // Model returned the existing alt text
	KindRateLimited       ErrorKind = "rate_limited"       // 429 retries exhausted
	KindAPIError          ErrorKind = "api_error"          // Provider returned status >= 400
	KindTransport         ErrorKind = "transport"          // DNS/TLS/connection failure
	KindReviewParse       ErrorKind = "review_parse"       // Review response was not usable JSON
	KindImageUnavailable  ErrorKind = "image_unavailable"  // Strategy could not produce a payload
	KindImageTooLarge     ErrorKind = "image_too_large"    // Inline bytes over the configured cap
)

// GenError is the tagged-variant error returned by the generation pipeline.
// Only the fields relevant to Kind are populated.
type GenError struct {
	Kind       ErrorKind
	Message    string
	Status     int           // HTTP status (APIError, RateLimited)
	RetryAfter time.Duration // Last suggested delay (RateLimited)
	Prompt     string        // Built prompt (DryRun)
	Err        error         // Underlying cause (Transport, ImageUnavailable)
}

func (e *GenError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GenError) Unwrap() error { return e.Err }

// Is matches any GenError of the same kind, so the Err* values below work with errors.Is.
func (e *GenError) Is(target error) bool {
	var t *GenError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Fatal reports whether the error must halt a running queue.
func (e *GenError) Fatal() bool {
	return e.Kind == KindMissingCredential
}

// Kind-only values for errors.Is comparisons
var (
	ErrMissingCredential = &GenError{Kind: KindMissingCredential}
	ErrNotAnImage        = &GenError{Kind: KindNotAnImage}
	ErrDryRun            = &GenError{Kind: KindDryRun}
	ErrDuplicateAlt      = &GenError{Kind: KindDuplicateAlt}
	ErrRateLimited       = &GenError{Kind: KindRateLimited}
	ErrAPI               = &GenError{Kind: KindAPIError}
	ErrTransport         = &GenError{Kind: KindTransport}
	ErrReviewParse       = &GenError{Kind: KindReviewParse}
	ErrImageUnavailable  = &GenError{Kind: KindImageUnavailable}
	ErrImageTooLarge     = &GenError{Kind: KindImageTooLarge}
)

// NewGenError builds a GenError with a redacted message.
func NewGenError(kind ErrorKind, format string, args ...interface{}) *GenError {
	return &GenError{Kind: kind, Message: RedactSecrets(fmt.Sprintf(format, args...))}
}

// AsGenError extracts a *GenError from err's chain.
func AsGenError(err error) (*GenError, bool) {
	var ge *GenError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsDryRun reports whether err is the dry-run signal rather than a failure.
func IsDryRun(err error) bool {
	return errors.Is(err, ErrDryRun)
}

// WrapErrorf annotates err with a formatted message, keeping it matchable with errors.Is.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	if ge, ok := AsGenError(err); ok {
		switch ge.Kind {
		case KindAPIError:
			switch {
			case ge.Status == 401:
				return "API_401"
			case ge.Status == 403:
				return "API_403"
			case ge.Status == 404:
				return "API_404"
			case ge.Status >= 500:
				return "API_5xx"
			}
			return "API_4xx"
		case KindRateLimited:
			return "API_RateLimited"
		case KindTransport:
			return "Network_" + networkCategory(ge.Err)
		case KindMissingCredential:
			return "Config_MissingCredential"
		case KindNotAnImage:
			return "Asset_NotAnImage"
		case KindDryRun:
			return "DryRun"
		case KindDuplicateAlt:
			return "Generation_Duplicate"
		case KindReviewParse:
			return "Review_Parse"
		case KindImageUnavailable:
			return "Image_Unavailable"
		case KindImageTooLarge:
			return "Image_TooLarge"
		}
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return "Store_NotFound"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, context.Canceled):
		return "System_ContextCanceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "System_ContextDeadlineExceeded"
	}

	if cat := networkCategory(err); cat != "Other" {
		return "Network_" + cat
	}
	return "Unknown"
}

// networkCategory classifies a low-level network error by type and message.
func networkCategory(err error) string {
	if err == nil {
		return "Other"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Timeout"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "ConnectionReset"
	}
	return "Other"
}
