// Package validation checks the free text members attach to accounts and
// transactions before it is stored and relayed to other wallets.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/mezonai/msig/errors"
)

const (
	MaxShortTextLength = 128
	MaxLongTextLength  = 1024
)

// Field names used in error messages.
const (
	AccountNameField = "account name"
	MemberNameField  = "member name"
	NotesField       = "notes"
)

var InjectionPatterns = []string{
	"${{", "{{", "}}", "${", "#{", "{%", "%}", // templates
	"%0a", "%0d", "%00", "%3c", "%3e", // encoded control characters
	"${jndi:", "ldap://", "ldaps://",
	"<script", "javascript:",
}

var InjectionRegexp = BuildInjectionPatterns()

// BuildInjectionPatterns builds a case-insensitive regexp matching any of
// InjectionPatterns.
func BuildInjectionPatterns() *regexp.Regexp {
	parts := make([]string, 0, len(InjectionPatterns))
	for _, pattern := range InjectionPatterns {
		parts = append(parts, regexp.QuoteMeta(norm.NFC.String(pattern)))
	}
	return regexp.MustCompile("(?i)" + strings.Join(parts, "|"))
}

// ValidateShortText checks a single line label such as an account name.
func ValidateShortText(fieldName, value string) error {
	normalized := norm.NFC.String(value)
	if utf8.RuneCountInString(normalized) > MaxShortTextLength {
		return errors.Validation(errors.ErrCodeInvalidText, fmt.Sprintf(errors.ErrMsgTextTooLong, fieldName, MaxShortTextLength))
	}
	if strings.IndexFunc(normalized, unicode.IsControl) >= 0 || InjectionRegexp.MatchString(normalized) {
		return errors.Validation(errors.ErrCodeInvalidText, fmt.Sprintf(errors.ErrMsgInvalidCharacters, fieldName))
	}
	return nil
}

// ValidateLongText checks multi-line text such as transaction notes.
func ValidateLongText(fieldName, value string) error {
	normalized := norm.NFC.String(value)
	if utf8.RuneCountInString(normalized) > MaxLongTextLength {
		return errors.Validation(errors.ErrCodeInvalidText, fmt.Sprintf(errors.ErrMsgTextTooLong, fieldName, MaxLongTextLength))
	}
	if !utf8.ValidString(value) || InjectionRegexp.MatchString(normalized) {
		return errors.Validation(errors.ErrCodeInvalidText, fmt.Sprintf(errors.ErrMsgInvalidCharacters, fieldName))
	}
	return nil
}
