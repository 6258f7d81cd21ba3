package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/transport"
)

// Directory fetches the counterparts visible to a role.
type Directory interface {
	Counterparts(ctx context.Context, role account.Role) ([]conversation.Entry, error)
}

// ServerCheck verifies the chat server accepts the stored token.
type ServerCheck struct {
	directory Directory
	role      account.Role
	baseURL   string
}

// NewServerCheck creates a new server reachability check.
func NewServerCheck(directory Directory, role account.Role, baseURL string) *ServerCheck {
	return &ServerCheck{
		directory: directory,
		role:      role,
		baseURL:   baseURL,
	}
}

func (c *ServerCheck) Name() string {
	return "Server"
}

func (c *ServerCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	entries, err := c.directory.Counterparts(ctx, c.role.Counterpart())
	switch {
	case errors.Is(err, transport.ErrAuthRejected):
		result.Items = append(result.Items, CheckItem{
			Label:  c.baseURL,
			Status: StatusFail,
			Detail: "token rejected, run 'carechat login' again",
		})
	case err != nil:
		result.Items = append(result.Items, CheckItem{
			Label:  c.baseURL,
			Status: StatusFail,
			Detail: err.Error(),
		})
	default:
		result.Items = append(result.Items, CheckItem{
			Label:  c.baseURL,
			Status: StatusPass,
			Detail: fmt.Sprintf("%d %ss in directory", len(entries), c.role.Counterpart()),
		})
	}

	return result
}
