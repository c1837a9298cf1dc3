package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rumblebot/internal/domain"
	"rumblebot/internal/history"
	"rumblebot/internal/metadata"
	"rumblebot/internal/site"
)

func uploadCmd() *cobra.Command {
	var title, description, tags, channel string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local video without Telegram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := newPipeline(cfg, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			caption := metadata.Caption{
				Title:       strings.TrimSpace(title),
				Description: strings.TrimSpace(description),
				Tags:        splitTags(tags),
			}
			if channel == "" {
				channel = cfg.Site.Channel
			}
			fmt.Printf("Uploading %s (%s)…\n", filepath.Base(path), humanize.IBytes(uint64(info.Size())))
			res := p.orch.UploadLocal(ctx, path, caption, channel)
			printResult(res)
			if !res.Success() {
				return fmt.Errorf("upload %s", res.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "video title (generated or taken from the file name when empty)")
	cmd.Flags().StringVar(&description, "description", "", "video description")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	cmd.Flags().StringVar(&channel, "channel", "", "destination channel (default: site.channel)")
	return cmd
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printResult(res domain.UploadResult) {
	switch res.Status {
	case domain.StatusSuccess:
		fmt.Printf("✅ Published: %s\n", res.URL)
	case domain.StatusChoiceNeeded:
		names := make([]string, 0, len(res.Choices))
		for _, c := range res.Choices {
			names = append(names, c.Name)
		}
		fmt.Printf("Several channels are available: %s\nRerun with --channel.\n", strings.Join(names, ", "))
	default:
		fmt.Printf("%s: %s\n", res.Status, res.Reason)
		if res.Step != "" {
			fmt.Printf("  step:   %s\n", res.Step)
		}
		if res.Detail != "" {
			fmt.Printf("  detail: %s\n", res.Detail)
		}
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open a browser to sign in to the site by hand",
		Long:  "Opens a visible Chrome window on the login page. Sign in, then press Ctrl+C; cookies stay in the browser profile for headless uploads.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			profile, err := site.Load(cfg.Site.Name, cfg.Site.ProfileFile, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return newBridge(cfg).Login(ctx, profile.LoginURL)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, browser and history status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, closeLog, err := loadConfig()
			if err != nil {
				fmt.Printf("Config:  %s (not usable: %v)\n", cfgPath, err)
				return nil
			}
			defer closeLog()
			fmt.Printf("Config:  %s\n", cfgPath)
			fmt.Println(indent(summaryText(cfg)))

			if _, err := site.Load(cfg.Site.Name, cfg.Site.ProfileFile, logger); err != nil {
				fmt.Printf("Profile: invalid (%v)\n", err)
			} else {
				fmt.Printf("Profile: %s ok\n", cfg.Site.Name)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if product, err := newBridge(cfg).Version(ctx); err != nil {
				fmt.Printf("Browser: unavailable (%v)\n", err)
			} else {
				fmt.Printf("Browser: %s\n", product)
			}

			if !cfg.History.Enabled {
				fmt.Println("History: disabled")
				return nil
			}
			store, err := history.Open(cfg.History.DBPath, logger)
			if err != nil {
				fmt.Printf("History: unavailable (%v)\n", err)
				return nil
			}
			defer store.Close()
			st, err := store.Stats(ctx)
			if err != nil {
				fmt.Printf("History: unavailable (%v)\n", err)
				return nil
			}
			fmt.Printf("History: %d uploads (%d published, %d unconfirmed, %d failed)",
				st.Total, st.ByStatus[domain.StatusSuccess], st.ByStatus[domain.StatusUnconfirmed], st.ByStatus[domain.StatusFailed])
			if !st.LastAt.IsZero() {
				fmt.Printf(", last %s", humanize.Time(st.LastAt))
			}
			fmt.Println()
			return nil
		},
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled (history.enabled=false)")
			}
			store, err := history.Open(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No uploads yet.")
				return nil
			}
			fmt.Println(historyTable(records))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of uploads to show")
	return cmd
}
