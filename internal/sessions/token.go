// Package sessions issues session tokens and serializes work per session.
package sessions

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultID is used when a request carries no session token.
const DefaultID = "default"

var ErrInvalidID = errors.New("invalid session id")

// Accepts freshly issued tokens as well as legacy short tokens and "default".
var validIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NewID returns a random 32 character hex token.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateID checks that id is safe to use as a path component.
func ValidateID(id string) error {
	if !validIDPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// IDOrDefault returns id, or DefaultID when id is blank.
func IDOrDefault(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultID
	}
	return id
}
