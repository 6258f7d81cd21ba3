package account

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of bearer-token claims the client reads.
type Claims struct {
	Subject   string
	Name      string
	Role      Role
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry at or before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseToken reads claims from a JWT without verifying its signature. The
// server verifies tokens; the client only needs the identity they carry.
func ParseToken(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var out Claims

	sub, err := claims.GetSubject()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	out.Subject = sub

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}

	if name, ok := claims["name"].(string); ok {
		out.Name = name
	}
	if role, ok := claims["role"].(string); ok && Role(role).Valid() {
		out.Role = Role(role)
	}

	return out, nil
}

// FromToken builds a session from a token, filling SelfID, Role and
// DisplayName from its claims where present. Values already set on base
// take precedence.
func FromToken(token string, base Session, now time.Time) (Session, error) {
	claims, err := ParseToken(token)
	if err != nil {
		return Session{}, err
	}
	if claims.Expired(now) {
		return Session{}, fmt.Errorf("%w: expired at %s", ErrInvalidToken, claims.ExpiresAt.Format(time.RFC3339))
	}

	s := base
	s.Token = token
	if s.SelfID == "" {
		s.SelfID = claims.Subject
	}
	if s.Role == "" {
		s.Role = claims.Role
	}
	if s.DisplayName == "" {
		s.DisplayName = claims.Name
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	return s, nil
}
