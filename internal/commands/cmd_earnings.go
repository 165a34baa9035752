package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/earn"
	"github.com/colonyops/earn/pkg/iojson"
)

type EarningsCmd struct {
	flags *Flags
	app   *earn.App

	// flags
	entries    bool
	cached     bool
	jsonOutput bool
}

// NewEarningsCmd creates a new earnings command.
func NewEarningsCmd(flags *Flags, app *earn.App) *EarningsCmd {
	return &EarningsCmd{flags: flags, app: app}
}

// Register adds the earnings command to the application.
func (cmd *EarningsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "earnings",
		Usage:     "Show a user's total earnings",
		UsageText: "earn earnings [--entries] [--cached] [--json]",
		Description: `Prints the sum of earnings over completed tasks for --user.

--entries lists the individual credit entries. --cached reads the last cached
total without touching the completion records.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "entries",
				Usage:       "list credit entries",
				Destination: &cmd.entries,
			},
			&cli.BoolFlag{
				Name:        "cached",
				Usage:       "print the cached total",
				Destination: &cmd.cached,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

type earningsOutput struct {
	User    string              `json:"user"`
	Total   decimal.Decimal     `json:"total"`
	Entries []completion.Credit `json:"entries,omitempty"`
}

func (cmd *EarningsCmd) run(ctx context.Context, c *cli.Command) error {
	user := cmd.flags.User
	if user == "" {
		return fmt.Errorf("no user: pass --user or set EARN_USER")
	}
	out := c.Root().Writer

	if cmd.cached {
		cached, ok := cmd.app.Ledger.Cached(ctx, user)
		if !ok {
			return fmt.Errorf("no cached total for %s", user)
		}
		if cmd.jsonOutput {
			return iojson.WriteWith(out, os.Stderr, cached)
		}
		_, err := fmt.Fprintf(out, "%s (as of %s)\n", cached.Total.StringFixed(2), cached.AsOf.Format("2006-01-02 15:04:05"))
		return err
	}

	total, err := cmd.app.Rewards.GetEarnings(ctx, user)
	if err != nil {
		return fmt.Errorf("earnings: %w", err)
	}

	result := earningsOutput{User: user, Total: total}
	if cmd.entries {
		result.Entries, err = cmd.app.Ledger.Entries(ctx, user)
		if err != nil {
			return fmt.Errorf("earnings: %w", err)
		}
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(out, os.Stderr, result)
	}

	if cmd.entries && len(result.Entries) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TASK\tAMOUNT\tNOTE\tCREDITED")
		for _, e := range result.Entries {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.TaskID, e.Amount.StringFixed(2), e.Note, e.CreditedAt.Format("2006-01-02 15:04:05"))
		}
		_ = w.Flush()
		_, _ = fmt.Fprintln(out)
	}

	_, err = fmt.Fprintf(out, "Total: %s\n", total.StringFixed(2))
	return err
}
