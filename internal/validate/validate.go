// Package validate bounds-checks and screens raw chat text before it reaches
// the rate limiter or the completion API.
//
// The policy is reject-only: text is either forwarded exactly as received or
// refused with one of the sentinel errors below. Nothing is stripped or escaped.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength is the default maximum message length in characters.
const DefaultMaxLength = 2000

var (
	ErrEmptyInput    = errors.New("validate: empty input")
	ErrTooLong       = errors.New("validate: input too long")
	ErrUnsafeContent = errors.New("validate: unsafe content")
)

type pattern struct {
	name string
	re   *regexp.Regexp
}

var unsafePatterns = []pattern{
	{name: "script_tag", re: regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
	{name: "embedded_frame", re: regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`)},
	{name: "html_event_handler", re: regexp.MustCompile(`(?i)<[a-z][a-z0-9-]*(\s[^>]*)?[\s/"']on[a-z]{4,}\s*=`)},
	{name: "javascript_url", re: regexp.MustCompile(`(?i)\bjavascript\s*:`)},
	{name: "html_data_url", re: regexp.MustCompile(`(?i)\bdata\s*:\s*text/html`)},
	{name: "sql_union_select", re: regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{name: "sql_stacked_statement", re: regexp.MustCompile(`(?i);\s*((drop|truncate|alter)\s+(table|database)\b|delete\s+from\b|insert\s+into\b|update\s+\w+\s+set\b)`)},
	{name: "sql_drop_table", re: regexp.MustCompile(`(?i)\b(drop|truncate)\s+table\b`)},
	{name: "sql_tautology", re: regexp.MustCompile(`(?i)'\s*or\s+'?(\w+)'?\s*=\s*'?(\w+)`)},
}

// Validator checks raw message text. The zero value is not usable; construct
// with New.
type Validator struct {
	maxLength int
}

// New returns a Validator that accepts at most maxLength characters. A
// non-positive maxLength selects DefaultMaxLength.
func New(maxLength int) *Validator {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Validator{maxLength: maxLength}
}

// Validate returns raw unchanged when it is acceptable. Length is counted in
// runes, not bytes.
func (v *Validator) Validate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyInput
	}
	if n := utf8.RuneCountInString(raw); n > v.maxLength {
		return "", fmt.Errorf("%w: %d characters exceeds limit of %d", ErrTooLong, n, v.maxLength)
	}
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrUnsafeContent)
	}
	for _, r := range raw {
		if isDisallowedRune(r) {
			return "", fmt.Errorf("%w: control character %U", ErrUnsafeContent, r)
		}
	}
	for _, p := range unsafePatterns {
		if p.re.MatchString(raw) {
			return "", fmt.Errorf("%w: %s", ErrUnsafeContent, p.name)
		}
	}
	return raw, nil
}

// isDisallowedRune rejects C0/C1 controls other than ordinary whitespace and
// the bidirectional override characters used to disguise text.
func isDisallowedRune(r rune) bool {
	switch r {
	case '\n', '\r', '\t':
		return false
	}
	if unicode.IsControl(r) {
		return true
	}
	switch {
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
		return true
	}
	return false
}
