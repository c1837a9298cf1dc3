package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnknownPath is returned for a dot path that names no config value.
	ErrUnknownPath = errors.New("unknown config path")

	// ErrSecretValue refuses a cleartext credential; secrets live in the
	// environment and the file only carries a ${VAR} placeholder.
	ErrSecretValue = errors.New("secrets are not stored in the config file; set a ${VAR} placeholder and export the variable instead")
)

var secretPaths = map[string]bool{
	"telegram.token": true,
	"site.password":  true,
}

// IsSecretPath reports whether path holds a credential.
func IsSecretPath(path string) bool { return secretPaths[path] }

type intRange struct{ min, max int64 } // max 0 = unbounded

// uploadRanges bound the upload.* integers the same way Validate does, so a
// bad `config set` fails before it reaches the file.
var uploadRanges = map[string]intRange{
	"maxFileSizeMB":             {min: 1},
	"minFreeDiskMB":             {min: 0},
	"stepTimeoutSeconds":        {min: 1},
	"loginTimeoutSeconds":       {min: 1},
	"pollIntervalMillis":        {min: 50},
	"completionAttempts":        {min: 1, max: 100},
	"completionIntervalSeconds": {min: 1},
	"overallTimeoutSeconds":     {min: 60},
	"choiceTTLMinutes":          {min: 1},
	"cleanupMaxAgeHours":        {min: 1},
}

// GetByPath retrieves a config value or section by dot-notation path
// (e.g. "upload.maxFileSizeMB" or "upload").
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(cfg, path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses value according to the type of the field at path and
// stores it. Secrets only accept placeholders; upload.* integers are
// range checked.
func SetByPath(cfg *Config, path, value string) error {
	if IsSecretPath(path) && !strings.HasPrefix(value, "${") {
		return ErrSecretValue
	}
	fv, err := lookup(cfg, path)
	if err != nil {
		return err
	}

	switch fv.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, value)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s expects a whole number, got %q", path, value)
		}
		if err := checkRange(path, n); err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.String:
		if path == "upload.cleanupInterval" {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("%s expects a duration such as 1h or 30m, got %q", path, value)
			}
		}
		fv.SetString(value)
	case reflect.Slice:
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		fv.Set(reflect.ValueOf(items).Convert(fv.Type()))
	case reflect.Struct:
		return fmt.Errorf("%s is a section; set one of its values instead", path)
	default:
		return fmt.Errorf("%s cannot be set from the command line", path)
	}
	return nil
}

func checkRange(path string, n int64) error {
	key, ok := strings.CutPrefix(path, "upload.")
	if !ok {
		return nil
	}
	r, ok := uploadRanges[key]
	if !ok {
		return nil
	}
	if n < r.min || (r.max > 0 && n > r.max) {
		if r.max > 0 {
			return fmt.Errorf("%s must be between %d and %d", path, r.min, r.max)
		}
		return fmt.Errorf("%s must be >= %d", path, r.min)
	}
	return nil
}

// lookup walks cfg by json field names. Fields tagged omitempty resolve
// even when empty.
func lookup(cfg *Config, path string) (reflect.Value, error) {
	v := reflect.ValueOf(cfg).Elem()
	if path == "" {
		return reflect.Value{}, fmt.Errorf("%w: empty path", ErrUnknownPath)
	}
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
		}
		f, ok := fieldByName(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
		}
		v = f
	}
	return v, nil
}

func fieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ","); tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	copy := *cfg
	copy.Telegram.AllowFrom = append(FlexStringList(nil), cfg.Telegram.AllowFrom...)

	if copy.Telegram.Token != "" {
		copy.Telegram.Token = maskString(copy.Telegram.Token)
	}
	if copy.Site.Email != "" {
		copy.Site.Email = maskEmail(copy.Site.Email)
	}
	if copy.Site.Password != "" {
		copy.Site.Password = "***"
	}
	return &copy
}

// maskEmail keeps the first three characters of the local part and the domain.
func maskEmail(s string) string {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return maskString(s)
	}
	keep := min(3, at)
	return s[:keep] + "***" + s[at:]
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable path with its current value, including
// optional fields that are currently empty.
func ListPaths(cfg *Config) map[string]any {
	result := make(map[string]any)
	collect("", reflect.ValueOf(cfg).Elem(), result)
	return result
}

func collect(prefix string, v reflect.Value, result map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if f := v.Field(i); f.Kind() == reflect.Struct {
			collect(path, f, result)
		} else {
			result[path] = f.Interface()
		}
	}
}
