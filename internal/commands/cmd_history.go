package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/printer"
)

type HistoryCmd struct {
	flags *Flags

	// Command-specific flags
	last   int
	format string
}

// NewHistoryCmd creates a new history command
func NewHistoryCmd(flags *Flags) *HistoryCmd {
	return &HistoryCmd{flags: flags}
}

// Register adds the history command to the application
func (cmd *HistoryCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "history",
		Usage:     "Print a conversation",
		UsageText: "carechat history <counterpart-id> [--last N] [--format text|json|markdown]",
		Description: `Fetches the conversation with a counterpart and prints it oldest message
first, as chat lines, JSON lines or a rendered markdown transcript.

Examples:
  carechat history 42
  carechat history 42 --last 10 --format json | jq -r .body
  carechat history 42 --format markdown`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "print only the last N messages",
				Destination: &cmd.last,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json, markdown)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *HistoryCmd) run(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("counterpart id is required")
	}
	counterpartID := c.Args().First()

	acct, err := cmd.flags.loadAccount(ctx)
	if err != nil {
		return err
	}
	client, err := cmd.flags.newAPI(acct)
	if err != nil {
		return err
	}

	records, err := client.History(ctx, acct.SelfID, counterpartID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	store := conversation.NewStore(counterpartID, acct.SelfID)
	store.Hydrate(records)

	messages := store.All()
	if cmd.last > 0 && len(messages) > cmd.last {
		messages = messages[len(messages)-cmd.last:]
	}

	if cmd.format == "json" {
		return printMessages(c.Root().Writer, messages)
	}

	name := counterpartID
	if entries, err := client.Counterparts(ctx, acct.Role.Counterpart()); err == nil {
		for _, e := range entries {
			if e.ID == counterpartID {
				name = e.DisplayName
				break
			}
		}
	} else {
		log.Debug().Err(err).Msg("directory lookup failed, showing ids")
	}

	if cmd.format == "markdown" {
		return cmd.printMarkdown(c.Root().Writer, name, messages)
	}

	p := printer.New(c.Root().Writer)
	for _, msg := range messages {
		sender := name
		if msg.SenderIsSelf {
			sender = "you"
		}
		p.Message(sender, msg.SenderIsSelf, msg.SentAt, msg.Body)
	}
	return nil
}

func (cmd *HistoryCmd) printMarkdown(w io.Writer, name string, messages []conversation.Message) error {
	style, width := "notty", 80
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		style = "tokyo-night"
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = tw
		}
	}

	out, err := renderTranscript(name, messages, "You", style, width)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func printMessages(w io.Writer, messages []conversation.Message) error {
	enc := json.NewEncoder(w)
	for _, msg := range messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}
