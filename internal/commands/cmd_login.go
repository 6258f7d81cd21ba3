package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/printer"
	"github.com/quitline/carechat/internal/styles"
)

type AuthCmd struct {
	flags *Flags

	// login flags
	token  string
	selfID string
	role   string
	name   string

	// whoami flags
	format string
}

// NewAuthCmd creates the login, logout and whoami commands.
func NewAuthCmd(flags *Flags) *AuthCmd {
	return &AuthCmd{flags: flags}
}

// Register adds the login, logout and whoami commands to the application.
func (cmd *AuthCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		cmd.loginCmd(),
		cmd.logoutCmd(),
		cmd.whoamiCmd(),
	)
	return app
}

func (cmd *AuthCmd) loginCmd() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Store the bearer token used to talk to the chat server",
		UsageText: "carechat login [--token <jwt>] [--self-id <id>] [--role doctor|patient] [--name <name>]",
		Description: `Stores a session for later commands.

The user id, role and display name are read from the token's sub, role and
name claims when present; flags override them. Missing values are prompted
for when stdin is a terminal.

The session is written to $XDG_DATA_HOME/carechat/session.json.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "token",
				Aliases:     []string{"t"},
				Usage:       "bearer token (JWT)",
				Sources:     cli.EnvVars("CARECHAT_TOKEN"),
				Destination: &cmd.token,
			},
			&cli.StringFlag{
				Name:        "self-id",
				Usage:       "your user id (default: token subject)",
				Destination: &cmd.selfID,
			},
			&cli.StringFlag{
				Name:        "role",
				Usage:       "your role: doctor or patient (default: token role claim)",
				Destination: &cmd.role,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "display name (default: token name claim)",
				Destination: &cmd.name,
			},
		},
		Action: cmd.runLogin,
	}
}

func (cmd *AuthCmd) logoutCmd() *cli.Command {
	return &cli.Command{
		Name:      "logout",
		Usage:     "Remove the stored session",
		UsageText: "carechat logout",
		Action:    cmd.runLogout,
	}
}

func (cmd *AuthCmd) whoamiCmd() *cli.Command {
	return &cli.Command{
		Name:      "whoami",
		Usage:     "Show the stored session",
		UsageText: "carechat whoami [--format text|json]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.runWhoami,
	}
}

func (cmd *AuthCmd) runLogin(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	base := account.Session{
		SelfID:      cmd.selfID,
		Role:        account.Role(cmd.role),
		DisplayName: cmd.name,
	}

	token := strings.TrimSpace(cmd.token)
	if token == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("no token provided (stdin is not a terminal); use --token or CARECHAT_TOKEN")
		}
		_, _ = fmt.Fprintln(os.Stderr, styles.BannerStyle.Render(styles.Banner)+"\n")
		var err error
		if token, err = promptToken(); err != nil {
			return err
		}
	}

	sess, err := account.FromToken(token, base, time.Now())
	if err != nil {
		return err
	}

	if (sess.SelfID == "" || !sess.Role.Valid()) && term.IsTerminal(int(os.Stdin.Fd())) {
		if sess, err = promptIdentity(sess); err != nil {
			return err
		}
	}

	if err := cmd.flags.Accounts.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	p.Success("Logged in", fmt.Sprintf("%s (%s, id %s)", displayName(sess), sess.Role, sess.SelfID))
	return nil
}

func promptToken() (string, error) {
	var token string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Bearer token *").
			EchoMode(huh.EchoModePassword).
			Value(&token).
			Validate(required("token")),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// promptIdentity asks for the fields the token did not carry.
func promptIdentity(sess account.Session) (account.Session, error) {
	selfID := sess.SelfID
	role := string(sess.Role)
	if !sess.Role.Valid() {
		role = string(account.RoleDoctor)
	}

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("User id *").
			Value(&selfID).
			Validate(required("user id")),
		huh.NewSelect[string]().
			Title("Role").
			Options(
				huh.NewOption("Doctor", string(account.RoleDoctor)),
				huh.NewOption("Patient", string(account.RolePatient)),
			).
			Value(&role),
	))
	if err := form.Run(); err != nil {
		return account.Session{}, err
	}

	sess.SelfID = strings.TrimSpace(selfID)
	sess.Role = account.Role(role)
	return sess, nil
}

func required(label string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

func (cmd *AuthCmd) runLogout(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	if err := cmd.flags.Accounts.Delete(ctx); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			p.Infof("Not logged in")
			return nil
		}
		return fmt.Errorf("delete session: %w", err)
	}

	p.Successf("Logged out")
	return nil
}

// WhoamiInfo is the output of the whoami command.
type WhoamiInfo struct {
	SelfID      string    `json:"self_id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	Token       string    `json:"token"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

func (cmd *AuthCmd) runWhoami(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	sess, err := cmd.flags.loadAccount(ctx)
	if err != nil {
		return err
	}

	info := WhoamiInfo{
		SelfID:      sess.SelfID,
		Role:        string(sess.Role),
		DisplayName: sess.DisplayName,
		Token:       sess.RedactedToken(),
		CreatedAt:   sess.CreatedAt,
	}
	if claims, err := account.ParseToken(sess.Token); err == nil {
		info.ExpiresAt = claims.ExpiresAt
	}

	if cmd.format == "json" {
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	out := c.Root().Writer
	_, _ = fmt.Fprintf(out, "%s\n", p.Bold(displayName(sess)))
	_, _ = fmt.Fprintf(out, "  id:      %s\n", info.SelfID)
	_, _ = fmt.Fprintf(out, "  role:    %s\n", info.Role)
	_, _ = fmt.Fprintf(out, "  token:   %s\n", info.Token)
	if !info.ExpiresAt.IsZero() {
		_, _ = fmt.Fprintf(out, "  expires: %s\n", info.ExpiresAt.Local().Format(time.RFC1123))
		if time.Now().After(info.ExpiresAt) {
			p.Warnf("Token has expired; run 'carechat login' again")
		}
	}
	return nil
}

func displayName(s account.Session) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.SelfID
}
