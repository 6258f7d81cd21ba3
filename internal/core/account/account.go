// Package account defines the authenticated identity a chat session runs
// as, and the store that persists it between CLI invocations.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hay-kot/criterio"
)

var (
	// ErrNotFound is returned when no session has been stored.
	ErrNotFound = errors.New("not logged in")
	// ErrInvalidToken is returned when a bearer token cannot be parsed.
	ErrInvalidToken = errors.New("invalid token")
)

// Role is the kind of user on the self side of every conversation.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Counterpart returns the role listed in the directory for r.
func (r Role) Counterpart() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Session is the identity a chat session is started with.
type Session struct {
	SelfID      string    `json:"self_id"`
	Token       string    `json:"token"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate reports every missing or malformed field.
func (s Session) Validate() error {
	var errs criterio.FieldErrorsBuilder
	if s.SelfID == "" {
		errs = errs.Append("self_id", errors.New("is required"))
	}
	if s.Token == "" {
		errs = errs.Append("token", errors.New("is required"))
	}
	if !s.Role.Valid() {
		errs = errs.Append("role", fmt.Errorf("must be %q or %q, got %q", RoleDoctor, RolePatient, s.Role))
	}
	return errs.ToError()
}

// RedactedToken returns the token with all but its last four characters
// masked.
func (s Session) RedactedToken() string {
	const keep = 4
	if len(s.Token) <= keep {
		return "****"
	}
	return "****" + s.Token[len(s.Token)-keep:]
}

// Store persists the current session.
type Store interface {
	// Load returns the stored session or ErrNotFound.
	Load(ctx context.Context) (Session, error)
	// Save replaces the stored session.
	Save(ctx context.Context, s Session) error
	// Delete removes the stored session. Returns ErrNotFound if none exists.
	Delete(ctx context.Context) error
}
