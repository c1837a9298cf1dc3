package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.rumblebot",
			LogLevel:  "info",
			LogFormat: "auto",
			Progress:  true,
		},
		Telegram: TelegramConfig{
			Enabled:   true,
			Token:     "${TELEGRAM_BOT_TOKEN}",
			ParseMode: "Markdown",
		},
		Site: SiteConfig{
			Name:     "rumble",
			Email:    "${RUMBLE_EMAIL}",
			Password: "${RUMBLE_PASSWORD}",
			Channel:  "${RUMBLE_CHANNEL:-}",
			Category: "News",
		},
		Browser: BrowserConfig{
			Headless:   true,
			ProfileDir: "~/.rumblebot/chrome-profile",
		},
		Upload: UploadConfig{
			DownloadDir:              "~/.rumblebot/downloads",
			MaxFileSizeMB:            2048,
			MinFreeDiskMB:            200,
			StepTimeoutSeconds:       30,
			LoginTimeoutSeconds:      30,
			PollIntervalMillis:       500,
			CompletionAttempts:       10,
			CompletionIntervalSecond: 3,
			OverallTimeoutSeconds:    1800,
			ChoiceTTLMinutes:         15,
			CleanupMaxAgeHours:       24,
			CleanupInterval:          "1h",
		},
		Metadata: MetadataConfig{
			RandomTitles:       true,
			RandomDescriptions: true,
			RandomTags:         true,
			MinTags:            3,
			MaxTags:            8,
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "~/.rumblebot/history.db",
		},
	}
}
