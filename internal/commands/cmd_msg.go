package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/quitline/carechat/internal/chat"
	"github.com/quitline/carechat/internal/printer"
	"github.com/quitline/carechat/internal/transport"
)

type MsgCmd struct {
	flags *Flags

	// send flags
	sendFile string
	sendWait time.Duration

	// listen flags
	listenTimeout time.Duration
	listenFrom    string
	listenFormat  string
}

// NewMsgCmd creates the send and listen commands.
func NewMsgCmd(flags *Flags) *MsgCmd {
	return &MsgCmd{flags: flags}
}

// Register adds the send and listen commands to the application.
func (cmd *MsgCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		cmd.sendCmd(),
		cmd.listenCmd(),
	)
	return app
}

func (cmd *MsgCmd) sendCmd() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message to a counterpart",
		UsageText: "carechat send <counterpart-id> [message]",
		Description: `Sends a message over a connected chat session.

The message can be provided as:
- A command-line argument
- From a file with -f/--file
- From stdin if no argument is provided

If the send fails the message is kept as a draft for the counterpart and
shows up in the TUI composer.

Examples:
  carechat send 42 "Take two tablets after dinner"
  echo "See you Monday" | carechat send 42
  carechat send 42 --wait 5s "ping"`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read message from file",
				Destination: &cmd.sendFile,
			},
			&cli.DurationFlag{
				Name:        "wait",
				Aliases:     []string{"w"},
				Usage:       "wait up to this long for the server to echo the message back",
				Destination: &cmd.sendWait,
			},
		},
		Action: cmd.runSend,
	}
}

func (cmd *MsgCmd) listenCmd() *cli.Command {
	return &cli.Command{
		Name:      "listen",
		Usage:     "Stream incoming messages",
		UsageText: "carechat listen [--from <counterpart-id>] [--timeout 5m] [--format text|json]",
		Description: `Connects and prints every live message until interrupted.

The connection is re-established automatically when it drops. The command
fails if the server rejects the stored token.

Examples:
  carechat listen
  carechat listen --from 42 --timeout 30m
  carechat listen --format json | jq -r .body`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "stop listening after this long (0 = until interrupted)",
				Destination: &cmd.listenTimeout,
			},
			&cli.StringFlag{
				Name:        "from",
				Usage:       "only print messages in the conversation with this counterpart",
				Destination: &cmd.listenFrom,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.listenFormat,
			},
		},
		Action: cmd.runListen,
	}
}

func (cmd *MsgCmd) runSend(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if c.NArg() < 1 {
		return fmt.Errorf("counterpart id is required")
	}
	counterpartID := c.Args().Get(0)

	body, err := cmd.readBody(c)
	if err != nil {
		return err
	}

	rt, err := cmd.flags.startRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.chat.End() }()

	if err := rt.chat.Send(ctx, counterpartID, body); err != nil {
		var sendErr *chat.SendError
		if errors.As(err, &sendErr) && !errors.Is(err, chat.ErrEmptyMessage) {
			if derr := cmd.flags.Drafts.Set(ctx, counterpartID, sendErr.Body); derr != nil {
				log.Warn().Err(derr).Msg("failed to save draft")
			} else {
				p.Infof("Message kept as draft for %s", counterpartID)
			}
		}
		return err
	}

	if cmd.sendWait > 0 {
		if err := waitForEcho(ctx, rt.chat, counterpartID, body, cmd.sendWait); err != nil {
			return err
		}
	}

	// a sent message supersedes any stored draft
	_ = cmd.flags.Drafts.Set(ctx, counterpartID, "")

	p.Successf("Sent to %s", counterpartID)
	return nil
}

// readBody returns the message from the argument, --file or stdin.
func (cmd *MsgCmd) readBody(c *cli.Command) (string, error) {
	switch {
	case c.NArg() >= 2:
		return strings.Join(c.Args().Slice()[1:], " "), nil
	case cmd.sendFile != "":
		data, err := os.ReadFile(cmd.sendFile)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	default:
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return "", fmt.Errorf("no message provided (stdin is a terminal); pass it as an argument, use -f, or pipe it in")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
}

func waitForEcho(ctx context.Context, s *chat.Session, counterpartID, body string, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("no echo from server after %s", wait)
		case u, ok := <-s.Updates():
			if !ok {
				return chat.ErrSessionEnded
			}
			if u.Kind != chat.UpdateConversation || u.Message == nil {
				continue
			}
			if u.CounterpartID == counterpartID && u.Message.SenderIsSelf && u.Message.Body == body {
				return nil
			}
		}
	}
}

func (cmd *MsgCmd) runListen(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if cmd.listenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.listenTimeout)
		defer cancel()
	}

	rt, err := cmd.flags.startRuntime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() { _ = rt.chat.End() }()

	log.Info().Str("self_id", rt.account.SelfID).Msg("listening")

	var (
		enc = json.NewEncoder(c.Root().Writer)
		out = printer.New(c.Root().Writer)
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-rt.chat.Updates():
			if !ok {
				return nil
			}
			switch u.Kind {
			case chat.UpdateStatus:
				log.Info().Stringer("state", u.Status.State).Int("attempt", u.Status.Attempt).Msg("connection")
				if u.Status.State == transport.StateDisconnected && errors.Is(u.Status.Err, transport.ErrAuthRejected) {
					return fmt.Errorf("%w: run 'carechat login' again", u.Status.Err)
				}
			case chat.UpdateConversation:
				if u.Message == nil {
					continue
				}
				if cmd.listenFrom != "" && u.CounterpartID != cmd.listenFrom {
					continue
				}
				if cmd.listenFormat != "json" {
					out.Message(senderName(rt, u.CounterpartID, u.Message.SenderIsSelf), u.Message.SenderIsSelf, u.Message.SentAt, u.Message.Body)
					continue
				}
				if err := enc.Encode(u.Message); err != nil {
					return err
				}
			}
		}
	}
}

func senderName(rt *runtime, counterpartID string, self bool) string {
	if self {
		return "you"
	}
	if e, ok := rt.chat.Counterpart(counterpartID); ok && e.DisplayName != "" {
		return e.DisplayName
	}
	return counterpartID
}
