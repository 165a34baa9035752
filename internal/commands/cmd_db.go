package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/earn/internal/data/db"
	"github.com/colonyops/earn/internal/earn"
	"github.com/colonyops/earn/pkg/iojson"
)

type DBCmd struct {
	flags *Flags
	app   *earn.App

	jsonOutput bool
	steps      int
	force      bool
}

// NewDBCmd creates a new db command.
func NewDBCmd(flags *Flags, app *earn.App) *DBCmd {
	return &DBCmd{flags: flags, app: app}
}

// Register adds the db command to the application.
func (cmd *DBCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "db",
		Usage: "Database maintenance commands",
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "List schema migrations, when they were applied, and the rows their tables hold",
				UsageText: "earn db status [--json]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.runStatus,
			},
			{
				Name:        "rollback",
				Usage:       "Revert the most recent schema migrations",
				UsageText:   "earn db rollback [--steps n] [--force]",
				Description: "Reverts migrations using their down scripts. Data in dropped tables is lost.\n\nRefuses to drop the completions or credits tables while they hold rows unless --force is given.",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "steps",
						Usage:       "number of migrations to revert",
						Value:       1,
						Destination: &cmd.steps,
					},
					&cli.BoolFlag{
						Name:        "force",
						Usage:       "drop ledger tables even when they hold earnings",
						Destination: &cmd.force,
					},
				},
				Action: cmd.runRollback,
			},
		},
	})

	return app
}

func (cmd *DBCmd) runStatus(ctx context.Context, c *cli.Command) error {
	statuses, err := cmd.app.DB.Migrations(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		return iojson.WriteWith(out, os.Stderr, statuses)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED\tAPPLIED AT\tTABLES\tROWS")
	for _, s := range statuses {
		appliedAt := "-"
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.Local().Format(time.DateTime)
		}
		tables := strings.Join(s.Tables, ",")
		if s.Ledger {
			tables += " (ledger)"
		}
		_, _ = fmt.Fprintf(w, "%04d\t%s\t%t\t%s\t%s\t%d\n", s.Version, s.Name, s.Applied, appliedAt, tables, s.Rows)
	}
	return w.Flush()
}

func (cmd *DBCmd) runRollback(ctx context.Context, c *cli.Command) error {
	if cmd.steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}

	// Stop countdowns first so none fires against a dropped table.
	cmd.app.Rewards.Close()

	err := db.MigrateDown(ctx, cmd.app.DB.Conn(), db.RollbackOptions{Steps: cmd.steps, Force: cmd.force})
	if errors.Is(err, db.ErrLedgerData) {
		return fmt.Errorf("rollback: %w (rerun with --force to drop it)", err)
	}
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Reverted %d migration(s) in %s\n", cmd.steps, cmd.flags.DataDir)
	return nil
}
