package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validConfig returns defaults with credentials filled in.
func validConfig() *Config {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Site.Email = "someone@example.com"
	cfg.Site.Password = "hunter22"
	return cfg
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsNeedCredentials(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("expected error for unresolved credentials")
	}
	if !strings.Contains(err.Error(), "site.email") || !strings.Contains(err.Error(), "site.password") {
		t.Fatalf("expected both credential problems listed, got: %v", err)
	}
}

func TestValidate_TelegramTokenRequiredWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty token")
	}

	cfg.Telegram.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("token not needed when disabled: %v", err)
	}
}

func TestValidate_CompletionAttemptsBounds(t *testing.T) {
	cfg := validConfig()

	cfg.Upload.CompletionAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for completionAttempts=0")
	}

	cfg.Upload.CompletionAttempts = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("completionAttempts=1 should be valid: %v", err)
	}

	cfg.Upload.CompletionAttempts = 101
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for completionAttempts=101")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Health.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Health.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_TagRange(t *testing.T) {
	cfg := validConfig()
	cfg.Metadata.MinTags = 5
	cfg.Metadata.MaxTags = 2
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for minTags > maxTags")
	}
}

func TestValidate_LogFormat(t *testing.T) {
	for _, format := range []string{"auto", "text", "json"} {
		cfg := validConfig()
		cfg.General.LogFormat = format
		if err := Validate(cfg); err != nil {
			t.Fatalf("format %q should be valid: %v", format, err)
		}
	}
	cfg := validConfig()
	cfg.General.LogFormat = "xml"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logFormat=xml")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := validConfig()
	original.Site.Channel = "My Channel"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config file should be private, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Site.Channel != "My Channel" {
		t.Fatalf("expected 'My Channel', got %q", loaded.Site.Channel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_RUMBLE_EMAIL", "me@example.com")
	t.Setenv("TEST_RUMBLE_PASSWORD", "secret-pass")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"telegram": {"enabled": false},
		"site": {
			"email": "${TEST_RUMBLE_EMAIL}",
			"password": "${TEST_RUMBLE_PASSWORD}",
			"channel": "${TEST_RUMBLE_CHANNEL_UNSET:-Main}"
		},
		"upload": {"maxFileSizeMB": 100}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Site.Email != "me@example.com" {
		t.Fatalf("expected substituted email, got %q", cfg.Site.Email)
	}
	if cfg.Site.Channel != "Main" {
		t.Fatalf("expected default channel 'Main', got %q", cfg.Site.Channel)
	}
	if cfg.Upload.MaxFileSizeMB != 100 {
		t.Fatalf("expected override 100, got %d", cfg.Upload.MaxFileSizeMB)
	}
	if cfg.Upload.CompletionAttempts != 10 {
		t.Fatalf("unset fields should keep defaults, got %d", cfg.Upload.CompletionAttempts)
	}
}

func TestLoadRaw_KeepsPlaceholders(t *testing.T) {
	t.Setenv("TEST_RUMBLE_PASSWORD", "secret-pass")
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"site": {"email": "a@b.c", "password": "${TEST_RUMBLE_PASSWORD}"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("LoadRaw failed: %v", err)
	}
	if cfg.Site.Password != "${TEST_RUMBLE_PASSWORD}" {
		t.Fatalf("placeholder should survive, got %q", cfg.Site.Password)
	}
	if err := SetByPath(cfg, "upload.maxFileSizeMB", "64"); err != nil {
		t.Fatal(err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "secret-pass") {
		t.Fatal("expanded secret written to disk")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"telegram": {"enabled": false}, "site": {"email": "a@b.c", "password": "x"}, "upload": {"stepTimeoutSeconds": 0}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgFile); err == nil {
		t.Fatal("expected validation error for stepTimeoutSeconds=0")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := validConfig()

	val, err := GetByPath(cfg, "site.name")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "rumble" {
		t.Fatalf("expected 'rumble', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(validConfig(), "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "browser.headless", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Browser.Headless {
		t.Fatal("expected browser.headless=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "upload.completionAttempts", "12"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Upload.CompletionAttempts != 12 {
		t.Fatalf("expected 12, got %d", cfg.Upload.CompletionAttempts)
	}
}

func TestSetByPath_String(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "site.channel", "Second Channel"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Site.Channel != "Second Channel" {
		t.Fatalf("expected 'Second Channel', got %q", cfg.Site.Channel)
	}
}

func TestSetByPath_UnknownPath(t *testing.T) {
	cfg := validConfig()
	for _, path := range []string{"upload.maxFileSize", "nosuch.key", "", "upload.maxFileSizeMB.extra"} {
		if err := SetByPath(cfg, path, "1"); !errors.Is(err, ErrUnknownPath) {
			t.Errorf("%q: expected ErrUnknownPath, got %v", path, err)
		}
	}
}

func TestSetByPath_OmittedFieldIsSettable(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "telegram.apiEndpoint", "http://localhost:8081/bot%s/%s"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Telegram.APIEndpoint != "http://localhost:8081/bot%s/%s" {
		t.Fatalf("unexpected endpoint %q", cfg.Telegram.APIEndpoint)
	}
}

func TestSetByPath_RefusesCleartextSecrets(t *testing.T) {
	for _, path := range []string{"telegram.token", "site.password"} {
		cfg := validConfig()
		if !IsSecretPath(path) {
			t.Fatalf("%s should be a secret path", path)
		}
		if err := SetByPath(cfg, path, "plain-secret-value"); !errors.Is(err, ErrSecretValue) {
			t.Fatalf("%s: expected ErrSecretValue, got %v", path, err)
		}
		if err := SetByPath(cfg, path, "${RUMBLEBOT_SECRET}"); err != nil {
			t.Fatalf("%s: placeholder should be accepted: %v", path, err)
		}
	}
	if IsSecretPath("site.email") {
		t.Fatal("site.email is not a secret")
	}
}

func TestSetByPath_UploadIntegers(t *testing.T) {
	tests := []struct {
		path, value string
		ok          bool
	}{
		{"upload.maxFileSizeMB", "512", true},
		{"upload.maxFileSizeMB", "0", false},
		{"upload.maxFileSizeMB", "big", false},
		{"upload.maxFileSizeMB", "1.5", false},
		{"upload.minFreeDiskMB", "0", true},
		{"upload.pollIntervalMillis", "10", false},
		{"upload.completionAttempts", "100", true},
		{"upload.completionAttempts", "101", false},
		{"upload.overallTimeoutSeconds", "59", false},
		{"health.port", "0", true},
	}
	for _, tt := range tests {
		cfg := validConfig()
		err := SetByPath(cfg, tt.path, tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("%s=%s: ok=%v, err=%v", tt.path, tt.value, tt.ok, err)
		}
	}

	cfg := validConfig()
	if err := SetByPath(cfg, "upload.maxFileSizeMB", "512"); err != nil {
		t.Fatal(err)
	}
	if cfg.Upload.MaxFileSizeMB != 512 {
		t.Fatalf("expected 512, got %d", cfg.Upload.MaxFileSizeMB)
	}
}

func TestSetByPath_TypeMismatch(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "browser.headless", "maybe"); err == nil {
		t.Fatal("expected error for non-boolean value")
	}
	if err := SetByPath(cfg, "upload.cleanupInterval", "hourly"); err == nil {
		t.Fatal("expected error for non-duration interval")
	}
	if err := SetByPath(cfg, "upload", "1"); err == nil {
		t.Fatal("expected error when setting a whole section")
	}
	// Numeric text stays a string for string fields.
	if err := SetByPath(cfg, "site.channel", "2024"); err != nil || cfg.Site.Channel != "2024" {
		t.Fatalf("channel = %q, err = %v", cfg.Site.Channel, err)
	}
}

func TestSetByPath_AllowFromList(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "telegram.allowFrom", "123, alice ,,456"); err != nil {
		t.Fatalf("set: %v", err)
	}
	want := []string{"123", "alice", "456"}
	if strings.Join(cfg.Telegram.AllowFrom, "|") != strings.Join(want, "|") {
		t.Fatalf("allowFrom = %v, want %v", cfg.Telegram.AllowFrom, want)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	sanitized := Sanitize(cfg)

	if sanitized.Telegram.Token == cfg.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Site.Password != "***" {
		t.Fatalf("password should be '***', got %q", sanitized.Site.Password)
	}
	if sanitized.Site.Email != "som***@example.com" {
		t.Fatalf("unexpected masked email %q", sanitized.Site.Email)
	}
	if cfg.Site.Password != "hunter22" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = "short"
	if got := Sanitize(cfg).Telegram.Token; got != "***" {
		t.Fatalf("short secret should be '***', got %q", got)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(validConfig())
	for _, expected := range []string{"general.logLevel", "site.email", "upload.completionAttempts", "health.port", "browser.execPath"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["alice", 123, 456.0]`), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 || list[0] != "alice" || list[1] != "123" || list[2] != "456" {
		t.Fatalf("unexpected list: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`not json`), &list); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	if result != `{"port": "8080"}` {
		t.Fatalf("got %q", result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	if result := ExpandEnvVars(`"${MY_PORT:-8080}"`); result != `"9090"` {
		t.Fatalf("got %q", result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	input := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_MatchSiteBehaviour(t *testing.T) {
	cfg := Defaults()
	if cfg.Upload.MaxFileSizeMB != 2048 {
		t.Fatalf("max file size should default to 2048MB, got %d", cfg.Upload.MaxFileSizeMB)
	}
	if cfg.Upload.CompletionAttempts != 10 || cfg.Upload.CompletionIntervalSecond != 3 {
		t.Fatalf("completion polling should default to 10 x 3s, got %d x %ds",
			cfg.Upload.CompletionAttempts, cfg.Upload.CompletionIntervalSecond)
	}
	if !cfg.Browser.Headless {
		t.Fatal("browser should default to headless")
	}
}
