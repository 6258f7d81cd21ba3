package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quitline/carechat/internal/core/account"
)

// expiryWarning is how close to expiry a token is reported as a warning.
const expiryWarning = 24 * time.Hour

// SessionCheck inspects the stored login and its token expiry.
type SessionCheck struct {
	accounts account.Store
	now      func() time.Time
	fix      bool
}

// NewSessionCheck creates a new session check.
// If fix is true, a session with an expired or unreadable token is removed.
func NewSessionCheck(accounts account.Store, now func() time.Time, fix bool) *SessionCheck {
	if now == nil {
		now = time.Now
	}
	return &SessionCheck{
		accounts: accounts,
		now:      now,
		fix:      fix,
	}
}

func (c *SessionCheck) Name() string {
	return "Session"
}

func (c *SessionCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	sess, err := c.accounts.Load(ctx)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, account.ErrNotFound) {
			detail = "not logged in, run 'carechat login'"
		}
		result.Items = append(result.Items, CheckItem{
			Label:  "Stored session",
			Status: StatusFail,
			Detail: detail,
		})
		return result
	}

	if err := sess.Validate(); err != nil {
		result.Items = append(result.Items, c.broken(ctx, "Stored session", err.Error()))
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "Stored session",
		Status: StatusPass,
		Detail: fmt.Sprintf("%s (%s)", sess.SelfID, sess.Role),
	})

	claims, err := account.ParseToken(sess.Token)
	if err != nil {
		result.Items = append(result.Items, c.broken(ctx, "Token", err.Error()))
		return result
	}

	now := c.now()
	switch {
	case claims.ExpiresAt.IsZero():
		result.Items = append(result.Items, CheckItem{
			Label:  "Token",
			Status: StatusPass,
			Detail: "no expiry",
		})
	case claims.Expired(now):
		result.Items = append(result.Items, c.broken(ctx, "Token", "expired at "+claims.ExpiresAt.Format(time.RFC3339)))
	case claims.ExpiresAt.Sub(now) < expiryWarning:
		result.Items = append(result.Items, CheckItem{
			Label:  "Token",
			Status: StatusWarn,
			Detail: "expires in " + claims.ExpiresAt.Sub(now).Round(time.Minute).String(),
		})
	default:
		result.Items = append(result.Items, CheckItem{
			Label:  "Token",
			Status: StatusPass,
			Detail: "valid until " + claims.ExpiresAt.Format(time.RFC3339),
		})
	}

	return result
}

// broken reports an unusable session, removing it when fixing.
func (c *SessionCheck) broken(ctx context.Context, label, detail string) CheckItem {
	if !c.fix {
		return CheckItem{
			Label:   label,
			Status:  StatusFail,
			Detail:  detail,
			Fixable: true,
		}
	}

	if err := c.accounts.Delete(ctx); err != nil {
		return CheckItem{
			Label:  label,
			Status: StatusFail,
			Detail: fmt.Sprintf("%s; failed to remove session: %v", detail, err),
		}
	}
	return CheckItem{
		Label:  label,
		Status: StatusPass,
		Detail: detail + "; removed stored session",
	}
}
