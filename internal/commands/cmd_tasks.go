package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/earn/internal/earn"
	"github.com/colonyops/earn/pkg/iojson"
)

type TasksCmd struct {
	flags *Flags
	app   *earn.App

	// flags
	jsonOutput bool
}

// NewTasksCmd creates a new tasks command
func NewTasksCmd(flags *Flags, app *earn.App) *TasksCmd {
	return &TasksCmd{flags: flags, app: app}
}

// Register adds the tasks command to the application
func (cmd *TasksCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "tasks",
		Usage: "Inspect the task catalog",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List active tasks",
				UsageText: "earn tasks ls [--json]",
				Description: `Displays the active tasks from the catalog files with their reward and
minimum engagement time.`,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON lines",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

func (cmd *TasksCmd) run(ctx context.Context, c *cli.Command) error {
	tasks, err := cmd.app.Rewards.ListActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		if !cmd.jsonOutput {
			fmt.Fprintf(os.Stderr, "No active tasks found in %v\n", cmd.app.Catalog.Patterns())
		}
		return nil
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		for _, t := range tasks {
			if err := iojson.WriteLine(out, t); err != nil {
				return fmt.Errorf("encode task: %w", err)
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tREWARD\tCATEGORY\tMIN ENGAGEMENT")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.RewardAmount.StringFixed(2), t.Category, t.MinEngagement())
	}
	return w.Flush()
}
