package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sriyan983/slack-triage/internal/adapters/slack"
	"github.com/sriyan983/slack-triage/internal/api"
	"github.com/sriyan983/slack-triage/internal/config"
)

// sweepInterval is how often the retention sweep runs while serving.
const sweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the full pipeline: Slack listener, scheduler, and HTTP API",
	Long: `serve runs everything at once: the Socket Mode listener feeding the
ledger, the batch scheduler draining it, the retention sweep, and the
HTTP API for submissions, resumes, and inspection. Stops cleanly on
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.NewValidator().Validate(cfg); err != nil {
		return err
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	server, err := api.NewServer(cfg.Server, application.service, application.bus, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx)
	})

	g.Go(func() error {
		return application.scheduler.Run(ctx)
	})

	if cfg.Slack.AppToken != "" {
		listener, err := slack.NewSocketListener(
			cfg.Slack.AppToken, cfg.Slack.BotPrefix, cfg.Slack.Channels,
			application.store, application.bus, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return listener.Run(ctx)
		})
	} else {
		logger.Warn("no slack app token configured, skipping socket mode listener")
	}

	if application.sweeper.Enabled() {
		g.Go(func() error {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if _, err := application.sweeper.Sweep(ctx); err != nil {
						logger.Error("retention sweep failed", "error", err)
					}
				}
			}
		})
	}

	logger.Info("triage pipeline running", "addr", cfg.Server.Addr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
