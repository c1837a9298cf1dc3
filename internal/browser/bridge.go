package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"rumblebot/internal/domain"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Bridge launches Chrome instances that share one persistent profile
// directory, so a manual login survives across uploads.
type Bridge struct {
	profileDir string
	headless   bool
	execPath   string
	userAgent  string
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool
	ExecPath   string // empty = let chromedp find Chrome
	UserAgent  string
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".rumblebot", "chrome-profile")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		execPath:   cfg.ExecPath,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
	}
}

func (b *Bridge) allocatorOptions(dataDir string, headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(dataDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(b.userAgent),
		chromedp.WindowSize(1366, 900),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// NewContext starts a fresh Chrome and returns its tab context. The caller
// must call cancel when done; it shuts the browser down.
func (b *Bridge) NewContext(parent context.Context) (context.Context, context.CancelFunc, error) {
	if err := os.MkdirAll(b.profileDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create chrome profile dir %s: %w", b.profileDir, err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, b.allocatorOptions(b.profileDir, b.headless)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			b.logger.Debug(fmt.Sprintf(format, args...), "source", "chromedp")
		}),
	)
	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	// Run with no actions launches the browser so start-up failures surface here.
	if err := chromedp.Run(taskCtx); err != nil {
		cancelAll()
		return nil, nil, domain.BrowserError("start chrome", err)
	}
	b.logger.Debug("browser started", "profile", b.profileDir, "headless", b.headless)
	return taskCtx, cancelAll, nil
}

// Login opens a visible browser on url so the user can sign in by hand.
// Cookies land in the profile directory once ctx is cancelled.
func (b *Bridge) Login(ctx context.Context, url string) error {
	if err := os.MkdirAll(b.profileDir, 0o700); err != nil {
		return fmt.Errorf("create chrome profile dir %s: %w", b.profileDir, err)
	}
	b.logger.Info("opening browser for login", "url", url)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions(b.profileDir, false)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	b.logger.Info("browser opened, sign in and press Ctrl+C when done")
	<-ctx.Done()

	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}

// Version launches a headless browser on a scratch profile and returns its
// product string. The persistent profile is never opened here, so it works
// while serve holds Chrome's profile lock.
func (b *Bridge) Version(ctx context.Context) (string, error) {
	scratch, err := os.MkdirTemp("", "rumblebot-version-*")
	if err != nil {
		return "", fmt.Errorf("create scratch profile: %w", err)
	}
	defer os.RemoveAll(scratch)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions(scratch, true)...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var product string
	err = chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		_, product, _, _, _, err = browser.GetVersion().Do(ctx)
		return err
	}))
	if err != nil {
		return "", domain.BrowserError("query chrome version", err)
	}
	return product, nil
}

func (b *Bridge) ProfileDir() string { return b.profileDir }
