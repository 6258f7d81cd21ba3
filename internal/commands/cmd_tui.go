package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/quitline/carechat/internal/tui"
)

type TuiCmd struct {
	flags *Flags
}

// NewTuiCmd creates a new tui command
func NewTuiCmd(flags *Flags) *TuiCmd {
	return &TuiCmd{
		flags: flags,
	}
}

// Flags returns the TUI-specific flags for registration on the root command
func (cmd *TuiCmd) Flags() []cli.Flag {
	return nil
}

// Run executes the TUI. Exported for use as default command.
func (cmd *TuiCmd) Run(ctx context.Context, c *cli.Command) error {
	return cmd.run(ctx, c)
}

func (cmd *TuiCmd) run(ctx context.Context, _ *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := cmd.flags.startRuntime(ctx)
	if err != nil {
		return err
	}

	m := tui.New(ctx, rt.chat, rt.account, tui.Options{
		Drafts: cmd.flags.Drafts,
		Logger: log.Logger,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	final, runErr := p.Run()

	if err := rt.chat.End(); err != nil {
		log.Warn().Err(err).Msg("failed to end chat session")
	}

	if runErr != nil {
		return fmt.Errorf("run tui: %w", runErr)
	}

	if fm, ok := final.(tui.Model); ok {
		return fm.Err()
	}
	return nil
}
