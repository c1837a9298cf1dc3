package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"rumblebot/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "rumblebot",
		Short:         "rumblebot: publish Telegram videos on Rumble",
		Long:          "rumblebot receives videos in Telegram and uploads them to your Rumble channel through a headless browser.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.rumblebot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(uploadCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads and validates the config and switches the global logger
// to the configured level and format. The returned func closes the log file.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}
	l, closeLog, err := newLogger(cfg.General, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	slog.SetDefault(l)
	return cfg, closeLog, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Writes a default config. Credentials are read from TELEGRAM_BOT_TOKEN, RUMBLE_EMAIL and RUMBLE_PASSWORD unless you replace the placeholders.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", dataDir)
			fmt.Println("Next steps:")
			fmt.Println("  export TELEGRAM_BOT_TOKEN=... RUMBLE_EMAIL=... RUMBLE_PASSWORD=...")
			fmt.Println("  rumblebot status")
			fmt.Println("  rumblebot serve")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. upload.maxFileSizeMB)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRaw(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.debug true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadRaw(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			shown := args[1]
			if args[0] == "site.email" {
				shown = config.Sanitize(cfg).Site.Email
			}
			logger.Info("config updated", "path", args[0], "value", shown, "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRaw(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// summaryMap is the masked configuration shown by /status and the health
// endpoint.
func summaryMap(cfg *config.Config) map[string]any {
	s := config.Sanitize(cfg)
	return map[string]any{
		"site":               s.Site.Name,
		"account":            s.Site.Email,
		"channel":            s.Site.Channel,
		"category":           s.Site.Category,
		"headless":           s.Browser.Headless,
		"maxFileSizeMB":      s.Upload.MaxFileSizeMB,
		"randomTitles":       s.Metadata.RandomTitles,
		"randomDescriptions": s.Metadata.RandomDescriptions,
		"randomTags":         s.Metadata.RandomTags,
		"progress":           s.General.Progress,
		"debug":              s.General.Debug,
	}
}

func summaryText(cfg *config.Config) string {
	s := config.Sanitize(cfg)
	channel := s.Site.Channel
	if channel == "" {
		channel = "(ask when several)"
	}
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	lines := []string{
		"Site: " + s.Site.Name,
		"Account: " + s.Site.Email,
		"Channel: " + channel,
		"Category: " + s.Site.Category,
		fmt.Sprintf("Max size: %d MB", s.Upload.MaxFileSizeMB),
		"Random titles: " + onOff(s.Metadata.RandomTitles),
		"Random descriptions: " + onOff(s.Metadata.RandomDescriptions),
		"Random tags: " + onOff(s.Metadata.RandomTags),
		"Progress updates: " + onOff(s.General.Progress),
		"Debug: " + onOff(s.General.Debug),
	}
	return strings.Join(lines, "\n")
}
