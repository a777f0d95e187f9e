package andyweb

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

const (
	usernameMinLength = 3
	usernameMaxLength = 30
	emailMaxLength    = 254
)

// normalizeEmail is the canonical form used for storage and lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email", "email is required")
	}
	if len(email) > emailMaxLength || !emailPattern.MatchString(email) {
		return invalid("email", "invalid email address")
	}
	return nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < usernameMinLength || n > usernameMaxLength {
		return invalid("username", fmt.Sprintf("username must be %d to %d characters", usernameMinLength, usernameMaxLength))
	}
	if !usernamePattern.MatchString(username) {
		return invalid("username", "username may contain letters, digits, '.', '_' and '-' only")
	}
	return nil
}

// validatePassword checks length in characters. Complexity is not enforced.
func (c PasswordConfig) validatePassword(plaintext string) error {
	n := utf8.RuneCountInString(plaintext)
	if n < c.MinLength {
		return invalid("password", fmt.Sprintf("password must be at least %d characters", c.MinLength))
	}
	if n > c.MaxLength {
		return invalid("password", fmt.Sprintf("password must be at most %d characters", c.MaxLength))
	}
	return nil
}
