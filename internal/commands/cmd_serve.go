package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/earn/internal/core/logging"
	"github.com/colonyops/earn/internal/earn"
	"github.com/colonyops/earn/internal/profiler"
	"github.com/colonyops/earn/internal/web"
)

type ServeCmd struct {
	flags *Flags
	app   *earn.App

	// flags
	addr      string
	pprofAddr string
	watch     bool
	users     []string
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags, app *earn.App) *ServeCmd {
	return &ServeCmd{flags: flags, app: app}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the HTTP API and the review scheduler",
		UsageText: "earn serve [--addr host:port] [--watch] [--pprof-addr host:port] [--reconcile user]...",
		Description: `Serves the JSON API and keeps review countdowns running until interrupted.

Sessions begin with POST /users/{user}/session, which re-arms the countdowns
for that user's tasks in review. Users passed with --reconcile begin at
startup. --watch reloads the task catalog when its files change.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (defaults to server.addr from config)",
				Sources:     cli.EnvVars("EARN_ADDR"),
				Destination: &cmd.addr,
			},
			&cli.BoolFlag{
				Name:        "watch",
				Usage:       "reload the task catalog on file changes (defaults to catalog.watch)",
				Destination: &cmd.watch,
			},
			&cli.StringFlag{
				Name:        "pprof-addr",
				Usage:       "serve pprof endpoints on this address (disabled when empty)",
				Sources:     cli.EnvVars("EARN_PPROF_ADDR"),
				Destination: &cmd.pprofAddr,
			},
			&cli.StringSliceFlag{
				Name:        "reconcile",
				Usage:       "user ids whose sessions begin at startup",
				Destination: &cmd.users,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cmd.app.Config
	logger := logging.Component("serve")

	addr := cmd.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	if cmd.watch || cfg.Catalog.Watch {
		if w := earn.NewCatalogWatcher(cmd.app.Catalog, cmd.app.Bus, logging.Component("catalog-watcher")); w != nil {
			defer func() { _ = w.Close() }()
			go w.Run(ctx)
		} else {
			logger.Warn().Strs("patterns", cmd.app.Catalog.Patterns()).Msg("catalog watch requested but no directory to watch")
		}
	}

	if cmd.pprofAddr != "" {
		prof := profiler.New(cmd.pprofAddr, logging.Component("profiler"))
		if err := prof.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = prof.Shutdown(shutdownCtx)
		}()
	}

	for _, user := range cmd.users {
		n, err := cmd.app.Rewards.BeginSession(ctx, user)
		if err != nil {
			logger.Error().Err(err).Str("user_id", user).Msg("startup reconcile failed")
			continue
		}
		logger.Info().Str("user_id", user).Int("armed", n).Msg("session resumed")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           web.New(cmd.app.Rewards, logging.Component("http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", addr).Msg("listening")
	fmt.Fprintf(os.Stderr, "earn listening on http://%s\n", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
