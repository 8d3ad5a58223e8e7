package lead

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidName  = errors.New("invalid lead name")
	ErrInvalidEmail = errors.New("invalid lead email")
)

var (
	namePattern  = regexp.MustCompile(`^[\p{L}\s'-]+$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Lead is a visitor who left their contact details before chatting.
type Lead struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	SessionID  string    `json:"sessionId,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Normalize trims the fields and validates them.
func Normalize(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if len([]rune(name)) < 2 || !namePattern.MatchString(name) {
		return "", "", ErrInvalidName
	}
	if !emailPattern.MatchString(email) {
		return "", "", ErrInvalidEmail
	}
	return name, strings.ToLower(email), nil
}
