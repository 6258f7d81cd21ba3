package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/printer"
)

type LsCmd struct {
	flags *Flags

	query string
}

// NewLsCmd creates a new ls command
func NewLsCmd(flags *Flags) *LsCmd {
	return &LsCmd{flags: flags}
}

// Register adds the ls command to the application
func (cmd *LsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "ls",
		Usage:       "List conversations",
		UsageText:   "carechat ls [--query <text>]",
		Description: "Displays the counterpart directory, most recent conversation first. Counterparts without messages are listed last.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "query",
				Aliases:     []string{"q"},
				Usage:       "only show counterparts whose name contains this text",
				Destination: &cmd.query,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LsCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	acct, err := cmd.flags.loadAccount(ctx)
	if err != nil {
		return err
	}
	client, err := cmd.flags.newAPI(acct)
	if err != nil {
		return err
	}

	entries, err := client.Counterparts(ctx, acct.Role.Counterpart())
	if err != nil {
		return fmt.Errorf("list counterparts: %w", err)
	}

	index := conversation.NewIndex(acct.SelfID)
	index.Load(entries)

	rows := index.Snapshot(cmd.query)
	if len(rows) == 0 {
		p.Infof("No conversations found")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tLAST\tMESSAGE")
	for _, e := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.DisplayName, formatWhen(e.LastMessageTime, time.Now()), e.LastMessageSnippet)
	}
	return w.Flush()
}

// formatWhen renders a message time relative to now: clock time today,
// otherwise the date.
func formatWhen(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("15:04")
	}
	if y1 == y2 {
		return t.Format("Jan 2")
	}
	return t.Format("2006-01-02")
}
