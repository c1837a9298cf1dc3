package upload

import (
	"context"
	"log/slog"

	"rumblebot/internal/browser"
	"rumblebot/internal/domain"
	"rumblebot/internal/site"
)

// BrowserOpener gives every request its own browser instance.
type BrowserOpener struct {
	Bridge  *browser.Bridge
	Profile *site.Profile
	Creds   domain.Credentials
	Timings Timings
	Logger  *slog.Logger
}

// Open starts a browser, signs in and returns the session together with a
// release func that shuts the browser down. Release is nil on error.
// progress may be nil.
func (o *BrowserOpener) Open(ctx context.Context, progress func(domain.Checkpoint)) (domain.Uploader, func(), error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tabCtx, release, err := o.Bridge.NewContext(ctx)
	if err != nil {
		return nil, nil, err
	}

	page := browser.NewPage(tabCtx, logger)
	sess, err := Open(ctx, page, o.Profile, o.Creds,
		WithTimings(o.Timings), WithLogger(logger), WithProgress(progress))
	if err != nil {
		release()
		return nil, nil, err
	}
	return sess, release, nil
}
