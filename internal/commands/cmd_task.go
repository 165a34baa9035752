package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/core/eventbus"
	"github.com/colonyops/earn/internal/core/validate"
	"github.com/colonyops/earn/internal/earn"
	"github.com/colonyops/earn/pkg/iojson"
)

type TaskCmd struct {
	flags *Flags
	app   *earn.App

	// submit flags
	wait bool

	// approve flags
	reward string
	note   string

	batch iojson.FileReader[ApprovalInput]
}

// ApprovalInput is one entry of an approve-batch document.
type ApprovalInput struct {
	User   string           `json:"user"`
	Task   string           `json:"task"`
	Reward *decimal.Decimal `json:"reward,omitempty"`
	Note   string           `json:"note,omitempty"`
}

// ApprovalResult reports the outcome of one batch approval.
type ApprovalResult struct {
	User       string                 `json:"user"`
	Task       string                 `json:"task"`
	Completion *completion.Completion `json:"completion,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// NewTaskCmd creates a new task command.
func NewTaskCmd(flags *Flags, app *earn.App) *TaskCmd {
	return &TaskCmd{flags: flags, app: app}
}

// Register adds the task command to the application.
func (cmd *TaskCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "task",
		Usage: "Drive a task through start, submit, and approval",
		Description: `Task commands act on one task for the user given by --user (or $EARN_USER).

A submitted task stays in review for the configured window and is then
approved automatically by a running 'earn serve' (or 'earn task submit --wait').`,
		Commands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "Start a task",
				UsageText: "earn task start <task-id>",
				Action:    cmd.runStart,
			},
			{
				Name:      "submit",
				Usage:     "Submit a started task for review",
				UsageText: "earn task submit [--wait] <task-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "wait",
						Usage:       "block until the review window elapses and the task is approved",
						Destination: &cmd.wait,
					},
				},
				Action: cmd.runSubmit,
			},
			{
				Name:      "status",
				Usage:     "Show a task's completion record",
				UsageText: "earn task status <task-id>",
				Action:    cmd.runStatus,
			},
			{
				Name:      "remaining",
				Usage:     "Print the seconds left in review",
				UsageText: "earn task remaining <task-id>",
				Action:    cmd.runRemaining,
			},
			{
				Name:      "approve",
				Usage:     "Approve a task in review immediately",
				UsageText: "earn task approve [--reward <amount>] [--note <text>] <task-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "reward",
						Usage:       "override the reward snapshotted at submission",
						Destination: &cmd.reward,
					},
					&cli.StringFlag{
						Name:        "note",
						Usage:       "reviewer note stored with the approval",
						Destination: &cmd.note,
					},
				},
				Action: cmd.runApprove,
			},
			{
				Name:      "approve-batch",
				Usage:     "Approve several tasks from a JSON document",
				UsageText: "earn task approve-batch [-f file.json]",
				Description: `Reads {"user", "task", "reward", "note"} objects from a file or stdin,
either as a JSON array or one object per line, and approves each entry.
Results are written as JSON lines.`,
				Flags:  []cli.Flag{cmd.batch.Flag()},
				Action: cmd.runApproveBatch,
			},
		},
	})

	return app
}

func (cmd *TaskCmd) taskArg(c *cli.Command) (string, error) {
	if cmd.flags.User == "" {
		return "", fmt.Errorf("no user: pass --user or set EARN_USER")
	}
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one task id")
	}
	return c.Args().First(), nil
}

func (cmd *TaskCmd) runStart(ctx context.Context, c *cli.Command) error {
	taskID, err := cmd.taskArg(c)
	if err != nil {
		return err
	}

	comp, err := cmd.app.Rewards.StartTask(ctx, cmd.flags.User, taskID)
	if err != nil {
		return fmt.Errorf("start %s: %w", taskID, err)
	}
	return iojson.WriteWith(c.Root().Writer, os.Stderr, comp)
}

func (cmd *TaskCmd) runSubmit(ctx context.Context, c *cli.Command) error {
	taskID, err := cmd.taskArg(c)
	if err != nil {
		return err
	}

	var done chan completion.Completion
	if cmd.wait {
		done = make(chan completion.Completion, 1)
		cmd.app.Bus.SubscribeCompletionCompleted(func(p eventbus.CompletionCompletedPayload) {
			if p.Completion.UserID == cmd.flags.User && p.Completion.TaskID == taskID {
				select {
				case done <- p.Completion:
				default:
				}
			}
		})
	}

	comp, err := cmd.app.Rewards.SubmitTask(ctx, cmd.flags.User, taskID)
	if err != nil {
		return fmt.Errorf("submit %s: %w", taskID, err)
	}

	if !cmd.wait {
		deadline, _ := comp.ReviewDeadline(cmd.app.Rewards.ReviewWindow())
		fmt.Fprintf(os.Stderr, "In review until %s\n", deadline.Format("15:04:05"))
		return iojson.WriteWith(c.Root().Writer, os.Stderr, comp)
	}

	fmt.Fprintf(os.Stderr, "Waiting %s for review...\n", cmd.app.Rewards.ReviewWindow())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case comp = <-done:
		return iojson.WriteWith(c.Root().Writer, os.Stderr, comp)
	}
}

func (cmd *TaskCmd) runStatus(ctx context.Context, c *cli.Command) error {
	taskID, err := cmd.taskArg(c)
	if err != nil {
		return err
	}

	comp, err := cmd.app.Rewards.GetStatus(ctx, cmd.flags.User, taskID)
	if err != nil {
		return fmt.Errorf("status %s: %w", taskID, err)
	}
	return iojson.WriteWith(c.Root().Writer, os.Stderr, comp)
}

func (cmd *TaskCmd) runRemaining(ctx context.Context, c *cli.Command) error {
	taskID, err := cmd.taskArg(c)
	if err != nil {
		return err
	}

	secs, err := cmd.app.Rewards.GetRemainingReviewSeconds(ctx, cmd.flags.User, taskID)
	if err != nil {
		return fmt.Errorf("remaining %s: %w", taskID, err)
	}
	_, err = fmt.Fprintln(c.Root().Writer, secs)
	return err
}

func (cmd *TaskCmd) runApprove(ctx context.Context, c *cli.Command) error {
	taskID, err := cmd.taskArg(c)
	if err != nil {
		return err
	}

	var reward *decimal.Decimal
	if cmd.reward != "" {
		d, err := decimal.NewFromString(cmd.reward)
		if err != nil {
			return fmt.Errorf("invalid --reward %q: %w", cmd.reward, err)
		}
		reward = &d
	}

	comp, err := cmd.app.Rewards.ApproveManual(ctx, cmd.flags.User, taskID, reward, cmd.note)
	if err != nil {
		return fmt.Errorf("approve %s: %w", taskID, err)
	}
	return iojson.WriteWith(c.Root().Writer, os.Stderr, comp)
}

func (cmd *TaskCmd) runApproveBatch(ctx context.Context, c *cli.Command) error {
	inputs, err := cmd.batch.ReadAll()
	if err != nil {
		return err
	}

	out := c.Root().Writer
	var failed int
	for _, in := range inputs {
		res := ApprovalResult{User: in.User, Task: in.Task}

		err := errors.Join(validate.Identity(in.User, in.Task), validate.Reward(in.Reward))
		var comp completion.Completion
		if err == nil {
			comp, err = cmd.app.Rewards.ApproveManual(ctx, in.User, in.Task, in.Reward, in.Note)
		}
		if err != nil {
			res.Error = err.Error()
			failed++
		} else {
			res.Completion = &comp
		}

		if err := iojson.WriteLine(out, res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d approvals failed", failed, len(inputs))
	}
	return nil
}
