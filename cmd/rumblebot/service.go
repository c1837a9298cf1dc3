package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"rumblebot/internal/config"
)

const (
	launchdLabel = "com.rumblebot.serve"
	systemdUnit  = "rumblebot.service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove rumblebot as a user service (systemd/launchd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Run `rumblebot serve` on login",
		Long:  "Writes a user service file. Credentials stay out of it: systemd reads them from ~/.rumblebot/env, launchd from your login environment.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			paths := servicePaths{
				exec:    execPath,
				config:  resolveConfigPath(),
				dataDir: config.DefaultConfigDir(),
			}
			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(paths)
			case "linux":
				return installSystemd(paths)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := serviceFile(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
}

type servicePaths struct {
	exec    string
	config  string
	dataDir string
}

func serviceFile(goos string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	}
	return "", fmt.Errorf("unsupported OS: %s", goos)
}

func renderService(tmpl string, p servicePaths) string {
	return strings.NewReplacer(
		"{{EXEC}}", p.exec,
		"{{CONFIG}}", p.config,
		"{{LABEL}}", launchdLabel,
		"{{DATA}}", p.dataDir,
	).Replace(tmpl)
}

func writeService(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func installLaunchd(p servicePaths) error {
	path, err := serviceFile("darwin")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(p.dataDir, "logs"), 0o700); err != nil {
		return err
	}
	if err := writeService(path, renderService(launchdTemplate, p)); err != nil {
		return err
	}
	fmt.Printf("Service installed: %s\n", path)
	fmt.Printf("To start: launchctl load %s\n", path)
	fmt.Printf("To stop:  launchctl unload %s\n", path)
	return nil
}

func installSystemd(p servicePaths) error {
	path, err := serviceFile("linux")
	if err != nil {
		return err
	}
	if err := writeService(path, renderService(systemdTemplate, p)); err != nil {
		return err
	}
	fmt.Printf("Service installed: %s\n", path)
	fmt.Printf("Put TELEGRAM_BOT_TOKEN, RUMBLE_EMAIL and RUMBLE_PASSWORD in %s (mode 600).\n", filepath.Join(p.dataDir, "env"))
	fmt.Printf("To start:  systemctl --user start rumblebot\n")
	fmt.Printf("To enable: systemctl --user enable rumblebot\n")
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{DATA}}/logs/rumblebot.log</string>
    <key>StandardErrorPath</key>
    <string>{{DATA}}/logs/rumblebot.log</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=rumblebot Telegram to Rumble uploader
After=network-online.target

[Service]
Type=simple
EnvironmentFile=-{{DATA}}/env
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target`
