package commands

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/quitline/carechat/internal/commands/doctor"
	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/printer"
)

type DoctorCmd struct {
	flags  *Flags
	format string
	fix    bool
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your carechat setup",
		UsageText:   "carechat doctor [options]",
		Description: "Checks the configuration, the stored login, the chat server and saved drafts.\nUse --fix to remove an expired login and drafts for unknown counterparts.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "fix",
				Usage:       "repair fixable issues",
				Destination: &cmd.fix,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	checks := []doctor.Check{
		doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.ConfigPath),
		doctor.NewSessionCheck(cmd.flags.Accounts, nil, cmd.fix),
	}

	// Server and draft checks need a readable login.
	acct, err := cmd.flags.Accounts.Load(ctx)
	if err == nil && acct.Validate() == nil {
		client, err := cmd.flags.newAPI(acct)
		if err != nil {
			return err
		}
		checks = append(checks,
			doctor.NewServerCheck(client, acct.Role, cmd.flags.Config.Server.BaseURL),
			doctor.NewDraftsCheck(cmd.flags.Drafts, client, acct.Role, cmd.fix),
		)
	} else if err != nil && !errors.Is(err, account.ErrNotFound) {
		printer.Ctx(ctx).Warnf("skipping server checks: %v", err)
	}

	results := doctor.RunAll(ctx, checks)

	if cmd.format == "json" {
		return cmd.outputJSON(c, results)
	}

	return cmd.outputText(ctx, results)
}

func (cmd *DoctorCmd) outputJSON(c *cli.Command, results []doctor.Result) error {
	counts := doctor.Tally(results)

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Healthy bool            `json:"healthy"`
		Summary doctor.Counts   `json:"summary"`
		Checks  []doctor.Result `json:"checks"`
	}{
		Healthy: counts.Failed == 0,
		Summary: counts,
		Checks:  results,
	}); err != nil {
		return err
	}

	if counts.Failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *DoctorCmd) outputText(ctx context.Context, results []doctor.Result) error {
	p := printer.Ctx(ctx)

	for _, result := range results {
		p.Section(result.Name)

		for _, item := range result.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			case doctor.StatusFail:
				p.FailItem(item.Label, item.Detail)
			}
		}

		p.Printf("")
	}

	counts := doctor.Tally(results)
	p.Printf("Summary: %d passed, %d warnings, %d failed", counts.Passed, counts.Warned, counts.Failed)

	if counts.Fixable > 0 && !cmd.fix {
		p.Infof("%d issue(s) can be repaired with 'carechat doctor --fix'", counts.Fixable)
	}

	if counts.Failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}
