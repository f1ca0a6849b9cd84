// Package domain holds the identifier primitives shared across onboarding.
//
// Session ids are opaque caller-supplied strings; they are parsed once at the
// trust boundary so stores and caches can use them as keys unescaped.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "onboarding/pkg/domain-errors"
)

// MaxSessionIDLength bounds caller-supplied session ids.
const MaxSessionIDLength = 128

// Reference prefixes issued on stage completion and finalization.
const (
	PrefixCompany    = "COMP"
	PrefixKYC        = "KYC"
	PrefixBank       = "BANK"
	PrefixOnboarding = "ONB"
)

// referenceHexLen is the number of hex characters after the prefix.
const referenceHexLen = 8

// NewSessionID returns a random UUIDv4 session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ParseSessionID validates a caller-supplied session id.
// Letters, digits and "-", "_", ".", ":" are accepted.
func ParseSessionID(s string) (string, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	if len(s) > MaxSessionIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "session id is too long")
	}
	for _, r := range s {
		if !isSessionIDRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "session id contains invalid characters")
		}
	}
	return s, nil
}

func isSessionIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == ':':
		return true
	}
	return false
}

// NewReference issues "<PREFIX>_" followed by 8 uppercase hex characters.
func NewReference(prefix string) string {
	id := uuid.New()
	hex := strings.ReplaceAll(id.String(), "-", "")
	return prefix + "_" + strings.ToUpper(hex[:referenceHexLen])
}

// IsReference reports whether s is a reference with the given prefix.
func IsReference(prefix, s string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok || len(rest) != referenceHexLen {
		return false
	}
	for _, r := range rest {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}
