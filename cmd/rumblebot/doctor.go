package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rumblebot/internal/config"
	"rumblebot/internal/daemon"
	"rumblebot/internal/history"
	"rumblebot/internal/media"
	"rumblebot/internal/site"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-16s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-16s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-16s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	var skipBrowser bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your rumblebot installation",
		Long: `Verifies that rumblebot's configuration, site profile, browser, history
database and download directory are correctly set up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("rumblebot doctor v%s\n\n", version)
			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'rumblebot init' to create a default configuration.\n")
				return fmt.Errorf("no config")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config", err.Error())
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config", "valid, account "+config.Sanitize(cfg).Site.Email)

			if _, err := site.Load(cfg.Site.Name, cfg.Site.ProfileFile, logger); err != nil {
				r.fail("Site profile", err.Error())
			} else {
				r.pass("Site profile", cfg.Site.Name)
			}

			checkDownloads(r, cfg)

			if cfg.History.Enabled {
				if store, err := history.Open(cfg.History.DBPath, logger); err != nil {
					r.fail("History", err.Error())
				} else {
					store.Close()
					r.pass("History", cfg.History.DBPath)
				}
			}

			running, err := daemon.Running(cfg.General.DataDir)
			switch {
			case err != nil:
				r.warn("Daemon", err.Error())
			case running:
				r.pass("Daemon", "running")
			default:
				r.pass("Daemon", "not running")
			}

			if cfg.Health.Enabled && !running {
				if err := checkPort(cfg.Health.Host, cfg.Health.Port); err != nil {
					r.warn("Health port", fmt.Sprintf("port %d may be in use: %v", cfg.Health.Port, err))
				} else {
					r.pass("Health port", fmt.Sprintf("%s:%d available", cfg.Health.Host, cfg.Health.Port))
				}
			}

			if !skipBrowser {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				product, err := newBridge(cfg).Version(ctx)
				cancel()
				if err != nil {
					r.fail("Browser", err.Error())
				} else {
					r.pass("Browser", product)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipBrowser, "skip-browser", false, "do not launch Chrome")
	return cmd
}

func checkDownloads(r *doctorReport, cfg *config.Config) {
	dir := cfg.Upload.DownloadDir
	if err := os.MkdirAll(dir, 0o700); err != nil {
		r.fail("Downloads", fmt.Sprintf("cannot create %s: %v", dir, err))
		return
	}
	marker := filepath.Join(dir, ".doctor")
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		r.fail("Downloads", fmt.Sprintf("not writable: %v", err))
		return
	}
	os.Remove(marker)

	free, err := media.FreeBytes(dir)
	if err != nil {
		r.warn("Downloads", fmt.Sprintf("%s (free space unknown: %v)", dir, err))
		return
	}
	need := uint64(cfg.Upload.MinFreeDiskMB+cfg.Upload.MaxFileSizeMB) << 20
	detail := fmt.Sprintf("%s, %s free", dir, humanize.IBytes(free))
	if free < need {
		r.warn("Downloads", detail+", less than the largest allowed video needs")
		return
	}
	r.pass("Downloads", detail)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	return ln.Close()
}
