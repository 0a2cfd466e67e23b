package content

import (
	"errors"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const MaxIdentityLength = 64

var (
	policy = bluemonday.StrictPolicy()

	ErrEmptyIdentity   = errors.New("identity cannot be empty")
	ErrIdentityTooLong = errors.New("identity is too long")
	ErrInvalidIdentity = errors.New("identity contains control characters")
)

// SanitizeIdentity strips every HTML element from a display name and trims it.
func SanitizeIdentity(input string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(input)))
}

// ValidateIdentity checks that a sanitized display name is usable as a routing key.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if utf8.RuneCountInString(identity) > MaxIdentityLength {
		return ErrIdentityTooLong
	}
	if strings.IndexFunc(identity, unicode.IsControl) >= 0 {
		return ErrInvalidIdentity
	}
	return nil
}
