package upload

import (
	"context"
	"errors"
	"time"

	"rumblebot/internal/domain"
)

// condition is polled by await. Returning an error ends the wait.
type condition func(ctx context.Context) (bool, error)

// await polls cond every interval until it holds or timeout elapses. It
// reports false without error on timeout. A done context is an environment
// failure.
func await(ctx context.Context, timeout, interval time.Duration, cond condition) (bool, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, domain.BrowserError("wait", ctx.Err())
		case <-ticker.C:
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return domain.BrowserError("wait", ctx.Err())
	case <-t.C:
		return nil
	}
}

// present reports whether selector matches an element.
func present(ctx context.Context, page domain.Page, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	_, err := page.FindControl(ctx, selector)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// anyPresent returns the first selector that matches, or "".
func anyPresent(ctx context.Context, page domain.Page, selectors []string) (string, error) {
	for _, sel := range selectors {
		ok, err := present(ctx, page, sel)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", nil
}

// isEnvironment reports whether err should abort the request as a fatal
// environment failure instead of a step failure.
func isEnvironment(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrBrowser) || ctx.Err() != nil
}
