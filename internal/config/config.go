package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for rumblebot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Telegram TelegramConfig `json:"telegram"`
	Site     SiteConfig     `json:"site"`
	Browser  BrowserConfig  `json:"browser"`
	Upload   UploadConfig   `json:"upload"`
	Metadata MetadataConfig `json:"metadata"`
	Health   HealthConfig   `json:"health"`
	History  HistoryConfig  `json:"history"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir"`
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "auto" | "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional log file path
	Debug     bool   `json:"debug"`             // include step and detail in user-facing failures
	Progress  bool   `json:"progress"`          // send checkpoint notifications
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
	// APIEndpoint points at a self-hosted Bot API server, which lifts the
	// 20 MB download limit of the public one. Format as in tgbotapi.APIEndpoint.
	APIEndpoint string `json:"apiEndpoint,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// SiteConfig holds the destination account and an optional selector override file.
type SiteConfig struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Channel     string `json:"channel,omitempty"`
	Category    string `json:"category,omitempty"`
	ProfileFile string `json:"profileFile,omitempty"`
}

type BrowserConfig struct {
	Headless   bool   `json:"headless"`
	ProfileDir string `json:"profileDir"`
	ExecPath   string `json:"execPath,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
}

type UploadConfig struct {
	DownloadDir              string `json:"downloadDir"`
	MaxFileSizeMB            int    `json:"maxFileSizeMB"`
	MinFreeDiskMB            int    `json:"minFreeDiskMB"`
	StepTimeoutSeconds       int    `json:"stepTimeoutSeconds"`
	LoginTimeoutSeconds      int    `json:"loginTimeoutSeconds"`
	PollIntervalMillis       int    `json:"pollIntervalMillis"`
	CompletionAttempts       int    `json:"completionAttempts"`
	CompletionIntervalSecond int    `json:"completionIntervalSeconds"`
	OverallTimeoutSeconds    int    `json:"overallTimeoutSeconds"`
	ChoiceTTLMinutes         int    `json:"choiceTTLMinutes"`
	CleanupMaxAgeHours       int    `json:"cleanupMaxAgeHours"`
	CleanupInterval          string `json:"cleanupInterval"` // cron "@every" duration, e.g. "1h"
}

type MetadataConfig struct {
	RandomTitles       bool   `json:"randomTitles"`
	RandomDescriptions bool   `json:"randomDescriptions"`
	RandomTags         bool   `json:"randomTags"`
	MinTags            int    `json:"minTags"`
	MaxTags            int    `json:"maxTags"`
	Category           string `json:"category,omitempty"` // tag pool for generated tags
	Seed               int64  `json:"seed,omitempty"`     // 0 = time based
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// DefaultConfigDir returns the default config directory (~/.rumblebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rumblebot"
	}
	return filepath.Join(home, ".rumblebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadRaw reads the file as written, without ${VAR} expansion or validation,
// so that saving it back never writes expanded secrets to disk.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Site.ProfileFile = ExpandPath(c.Site.ProfileFile)
	c.Browser.ProfileDir = ExpandPath(c.Browser.ProfileDir)
	c.Upload.DownloadDir = ExpandPath(c.Upload.DownloadDir)
	c.History.DBPath = ExpandPath(c.History.DBPath)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep unresolved references visible
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file holds credentials.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogFormat {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: auto, text, json")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}
	if cfg.Site.Email == "" || unresolved(cfg.Site.Email) {
		errs = append(errs, "site.email is required")
	}
	if cfg.Site.Password == "" || unresolved(cfg.Site.Password) {
		errs = append(errs, "site.password is required")
	}

	if cfg.Upload.MaxFileSizeMB < 1 {
		errs = append(errs, "upload.maxFileSizeMB must be >= 1")
	}
	if cfg.Upload.MinFreeDiskMB < 0 {
		errs = append(errs, "upload.minFreeDiskMB must be >= 0")
	}
	if cfg.Upload.StepTimeoutSeconds < 1 {
		errs = append(errs, "upload.stepTimeoutSeconds must be >= 1")
	}
	if cfg.Upload.LoginTimeoutSeconds < 1 {
		errs = append(errs, "upload.loginTimeoutSeconds must be >= 1")
	}
	if cfg.Upload.PollIntervalMillis < 50 {
		errs = append(errs, "upload.pollIntervalMillis must be >= 50")
	}
	if cfg.Upload.CompletionAttempts < 1 || cfg.Upload.CompletionAttempts > 100 {
		errs = append(errs, "upload.completionAttempts must be between 1 and 100")
	}
	if cfg.Upload.CompletionIntervalSecond < 1 {
		errs = append(errs, "upload.completionIntervalSeconds must be >= 1")
	}
	if cfg.Upload.OverallTimeoutSeconds < 60 {
		errs = append(errs, "upload.overallTimeoutSeconds must be >= 60")
	}
	if cfg.Upload.ChoiceTTLMinutes < 1 {
		errs = append(errs, "upload.choiceTTLMinutes must be >= 1")
	}

	if cfg.Metadata.MinTags < 1 || cfg.Metadata.MaxTags < cfg.Metadata.MinTags {
		errs = append(errs, "metadata.minTags must be >= 1 and <= metadata.maxTags")
	}

	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		errs = append(errs, "health.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func unresolved(s string) bool {
	return envVarPattern.MatchString(s)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
