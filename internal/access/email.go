package access

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrMissingEmail = errors.New("email is required")
	ErrInvalidEmail = errors.New("invalid email format")
)

// ValidEmail accepts a bare address, e.g. "anna@example.com". Display
// names are rejected.
func ValidEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrMissingEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrInvalidEmail
	}

	// Must contain "@" and not be the first or last character
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return ErrInvalidEmail
	}
	return nil
}
