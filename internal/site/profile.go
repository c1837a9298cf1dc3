// Package site describes the destination upload form as data, so selector
// drift on the site can be fixed by editing a YAML file instead of code.
package site

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is the selector contract with the destination site.
type Profile struct {
	Name      string `yaml:"name"`
	LoginURL  string `yaml:"login_url"`
	UploadURL string `yaml:"upload_url"`

	Login LoginSelectors `yaml:"login"`

	FileInput     string   `yaml:"file_input"`
	FileAccepted  []string `yaml:"file_accepted"`
	TitleField    string   `yaml:"title_field"`
	DescField     string   `yaml:"description_field"`
	TagsField     string   `yaml:"tags_field"`
	CategoryField string   `yaml:"category_field"`
	ChannelRadios string   `yaml:"channel_radios"`
	Visibility    []string `yaml:"visibility"`

	Submit          string   `yaml:"submit"`
	AgreementPage   []string `yaml:"agreement_page"`
	Agreements      []string `yaml:"agreements"`
	AgreementHidden []string `yaml:"agreement_hidden"`
	FinalSubmit     string   `yaml:"final_submit"`
	SuccessMarkers  []string `yaml:"success_markers"`

	ContentURLPattern string   `yaml:"content_url_pattern"`
	SuccessKeywords   []string `yaml:"success_keywords"`

	contentURL *regexp.Regexp
}

type LoginSelectors struct {
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	Submit   []string `yaml:"submit"`
	// Confirmed lists elements only present for a signed-in user. Leaving the
	// login URL also counts as confirmation.
	Confirmed []string `yaml:"confirmed"`
	Rejected  []string `yaml:"rejected"`
}

// Rumble returns the built-in profile for rumble.com.
func Rumble() *Profile {
	return &Profile{
		Name:      "rumble",
		LoginURL:  "https://rumble.com/login.php",
		UploadURL: "https://rumble.com/upload.php",
		Login: LoginSelectors{
			Email:    "input[name='username']",
			Password: "input[name='password']",
			Submit: []string{
				"input[type='submit'][value='Login']",
				"button[type='submit']",
			},
			Confirmed: []string{
				"a[href*='/account']",
				".header-user",
			},
			Rejected: []string{
				".login-error",
				".form-error",
			},
		},
		FileInput: "input[name='Filedata']",
		FileAccepted: []string{
			".upload-progress",
			".progress-bar",
			"#upload-preview",
			".thumbnail-preview",
		},
		TitleField:    "input[name='title']",
		DescField:     "textarea[name='description']",
		TagsField:     "input[name='tags']",
		CategoryField: "input[name='primary-category']",
		ChannelRadios: "input[name='channelId']",
		Visibility: []string{
			"#visibility_public",
			"input[name='visibility'][value='public']",
		},
		Submit:          "#submitForm",
		AgreementPage:   []string{"#crights", "#cterms"},
		Agreements:      []string{"#crights", "#cterms"},
		AgreementHidden: []string{"#rights", "#terms"},
		FinalSubmit:     "#submitForm2",
		SuccessMarkers: []string{
			".upload-success",
			".video-uploaded",
		},
		ContentURLPattern: `https?://(?:www\.)?rumble\.com/v[0-9a-z]+-[^\s"'<>]*\.html`,
		SuccessKeywords:   []string{"success", "complete", "uploaded"},
	}
}

// Builtin returns the built-in profile for name.
func Builtin(name string) (*Profile, error) {
	switch strings.ToLower(name) {
	case "", "rumble":
		return Rumble(), nil
	default:
		return nil, fmt.Errorf("unknown site profile %q", name)
	}
}

// Load returns the built-in profile for name, overridden field by field by the
// YAML file at path. An empty path or a missing file leaves the built-in profile
// unchanged.
func Load(name, path string, logger *slog.Logger) (*Profile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := Builtin(name)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("site profile override not found, using built-in", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read site profile %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, p); err != nil {
				return nil, fmt.Errorf("parse site profile %s: %w", path, err)
			}
			logger.Info("loaded site profile override", "name", p.Name, "path", path)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks required selectors and compiles the content URL pattern.
func (p *Profile) Validate() error {
	var errs []string
	required := map[string]string{
		"login_url":      p.LoginURL,
		"upload_url":     p.UploadURL,
		"login.email":    p.Login.Email,
		"login.password": p.Login.Password,
		"file_input":     p.FileInput,
		"title_field":    p.TitleField,
		"submit":         p.Submit,
	}
	for _, key := range []string{"login_url", "upload_url", "login.email", "login.password", "file_input", "title_field", "submit"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, key+" is required")
		}
	}
	if len(p.Login.Submit) == 0 {
		errs = append(errs, "login.submit needs at least one selector")
	}
	re, err := regexp.Compile(p.ContentURLPattern)
	switch {
	case p.ContentURLPattern == "":
		errs = append(errs, "content_url_pattern is required")
	case err != nil:
		errs = append(errs, fmt.Sprintf("content_url_pattern: %v", err))
	default:
		p.contentURL = re
	}
	if len(errs) > 0 {
		return fmt.Errorf("site profile %q invalid:\n  - %s", p.Name, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ContentURL returns the first content URL found in s.
func (p *Profile) ContentURL(s string) (string, bool) {
	if p.contentURL == nil {
		p.contentURL = regexp.MustCompile(p.ContentURLPattern)
	}
	m := p.contentURL.FindString(s)
	return m, m != ""
}

// ContentURLs returns every distinct content URL found in s, in order.
func (p *Profile) ContentURLs(s string) []string {
	if p.contentURL == nil {
		p.contentURL = regexp.MustCompile(p.ContentURLPattern)
	}
	var out []string
	seen := map[string]bool{}
	for _, m := range p.contentURL.FindAllString(s, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// HasSuccessKeyword reports whether any success keyword occurs in s (case-insensitive).
func (p *Profile) HasSuccessKeyword(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range p.SuccessKeywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// IsLoginURL reports whether u still points at the login page.
func (p *Profile) IsLoginURL(u string) bool {
	return sameURL(u, p.LoginURL) || strings.Contains(strings.ToLower(u), "login")
}

// IsUploadURL reports whether u still points at the upload form.
func (p *Profile) IsUploadURL(u string) bool {
	return sameURL(u, p.UploadURL)
}

func sameURL(a, b string) bool {
	strip := func(s string) string {
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSuffix(strings.ToLower(s), "/")
	}
	return strip(a) == strip(b)
}
