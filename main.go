package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/earn/internal/commands"
	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/config"
	"github.com/colonyops/earn/internal/core/eventbus"
	"github.com/colonyops/earn/internal/core/logging"
	"github.com/colonyops/earn/internal/data/db"
	"github.com/colonyops/earn/internal/data/stores"
	"github.com/colonyops/earn/internal/earn"
	"github.com/colonyops/earn/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		earnApp   = &earn.App{}
		database  *db.DB
		rewards   *earn.RewardService
		bgCancel  context.CancelFunc
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "earn",
		Usage:     "Track task completions and the rewards they earn",
		UsageText: "earn [global options] command [command options]",
		Description: `earn moves each user's tasks through start, submit, timed review, and
approval, crediting the task's reward exactly once.

Tasks are defined in YAML catalog files. A submitted task is approved
automatically when its review window elapses, or earlier by 'earn task approve'.
Run 'earn serve' to expose the HTTP API and keep review countdowns running.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("EARN_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/earn.log)",
				Sources:     cli.EnvVars("EARN_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("EARN_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("EARN_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "acting user id (defaults to $EARN_USER, then $USER)",
				Value:       commands.DefaultUser(),
				Destination: &flags.User,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Always log to a file; use explicit path or default to <datadir>/earn.log
			logFile := flags.LogFile
			if logFile == "" {
				logFile = filepath.Join(flags.DataDir, "earn.log")
			}

			logger, closer, err := logutils.New(flags.LogLevel, logFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			// Open database connection
			dbOpts := db.OpenOptions{
				MaxOpenConns: cfg.Database.MaxOpenConns,
				MaxIdleConns: cfg.Database.MaxIdleConns,
				BusyTimeout:  cfg.Database.BusyTimeout,
			}
			database, err = db.Open(cfg.DataDir, dbOpts)
			if err != nil {
				return ctx, fmt.Errorf("open database: %w", err)
			}

			// Load the task catalog; an empty catalog is not fatal
			cat := catalog.NewFileCatalog(cfg.CatalogPatterns()...)
			if n, err := cat.Load(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to load task catalog")
			} else {
				log.Debug().Int("tasks", n).Msg("task catalog loaded")
			}

			// Create stores
			completionStore := stores.NewCompletionStore(database)
			kvStore := stores.NewKVStore(database)

			// Start the event bus and background KV sweep
			bgCtx, cancel := context.WithCancel(context.Background())
			bgCancel = cancel

			bus := eventbus.New(256)
			eventbus.RegisterDebugLogger(bus, logging.Component("eventbus"))
			go bus.Start(bgCtx)
			go earn.Sweep(bgCtx, kvStore, 5*time.Minute)

			ledger := earn.NewLedger(completionStore, kvStore, cfg.Ledger.CacheTTL, logging.Component("ledger"))
			ledger.Subscribe(bus)

			rewards = earn.NewRewardService(completionStore, cat, ledger, bus, earn.ReviewOptions{
				Window:       cfg.Review.Window,
				FireRetries:  cfg.Review.FireRetries,
				RetryBackoff: cfg.Review.RetryBackoff,
				MaxBackoff:   cfg.Review.MaxBackoff,
			}, logging.Component("rewards"))

			// Populate the pre-allocated App struct (commands already hold a pointer to it)
			*earnApp = *earn.NewApp(rewards, cat, bus, cfg, database)

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			// Stop review countdowns before the database goes away
			if rewards != nil {
				rewards.Close()
			}

			// Stop event bus and background sweep
			if bgCancel != nil {
				bgCancel()
			}

			// Close database connection
			if database != nil {
				if err := database.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close database")
					return err
				}
			}

			// Close log file
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewTasksCmd(flags, earnApp).Register(app)
	app = commands.NewTaskCmd(flags, earnApp).Register(app)
	app = commands.NewEarningsCmd(flags, earnApp).Register(app)
	app = commands.NewServeCmd(flags, earnApp).Register(app)
	app = commands.NewDBCmd(flags, earnApp).Register(app)
	app = commands.NewDoctorCmd(flags, earnApp).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		fmt.Println()
		fmt.Println(runErr.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
