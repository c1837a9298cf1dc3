package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rumblebot/internal/channel"
	"rumblebot/internal/daemon"
	"rumblebot/internal/health"
	"rumblebot/internal/media"
)

// resolverFunc adapts a function to media.FileURLResolver.
type resolverFunc func(ctx context.Context, fileID string) (string, error)

func (f resolverFunc) FileURL(ctx context.Context, fileID string) (string, error) {
	return f(ctx, fileID)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (Telegram intake, upload worker, health server)",
		Long:  "Starts the Telegram bot, the upload worker, the download sweeper and the health server. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer closeLog()
	if !cfg.Telegram.Enabled {
		return errors.New("telegram is disabled; use `rumblebot upload` for local files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tg *channel.Telegram
	p, err := newPipeline(cfg, resolverFunc(func(ctx context.Context, id string) (string, error) {
		return tg.FileURL(ctx, id)
	}))
	if err != nil {
		return err
	}
	defer p.Close()

	tcfg := channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		AllowFrom:   cfg.Telegram.AllowFrom,
		ParseMode:   cfg.Telegram.ParseMode,
		MaxBytes:    int64(cfg.Upload.MaxFileSizeMB) << 20,
		Summary:     func() string { return summaryText(cfg) },
		Logger:      logger,
	}
	if p.store != nil {
		tcfg.Stats = p.store
	}
	tg = channel.NewTelegram(tcfg)

	sweeper, err := media.NewSweeper(media.SweeperConfig{
		Dir:      cfg.Upload.DownloadDir,
		MaxAge:   time.Duration(cfg.Upload.CleanupMaxAgeHours) * time.Hour,
		Interval: cfg.Upload.CleanupInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	expire := func(now time.Time) {
		if n := p.orch.ExpirePending(now); n > 0 {
			logger.Info("expired pending channel choices", "count", n)
		}
	}
	sweeper.OnSweep(expire)
	if err := sweeper.Every("1m", expire); err != nil {
		return err
	}

	d := daemon.New(cfg.General.DataDir, logger)
	d.Add("worker", p.orch.Run)
	d.Add("telegram", func(ctx context.Context) error { return tg.Start(ctx, p.bus) })
	d.Add("sweeper", sweeper.Run)

	if cfg.Health.Enabled {
		hcfg := health.Config{
			Host:    cfg.Health.Host,
			Port:    cfg.Health.Port,
			Version: version,
			Metrics: p.collector,
			Events:  p.events,
			Summary: func() map[string]any { return summaryMap(cfg) },
			Pending: p.orch.Pending,
			Logger:  logger,
		}
		if p.store != nil {
			hcfg.Stats = p.store
		}
		d.Add("health", health.New(hcfg).Run)
	}

	logger.Info("rumblebot started. Press Ctrl+C to stop.", "version", version, "account", credentials(cfg))
	err = d.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
