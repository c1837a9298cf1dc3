// Package upload drives the destination site's manual upload form: sign in,
// supply the file, fill the form, pick a channel, accept the agreements,
// submit and wait for the published video URL.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rumblebot/internal/domain"
	"rumblebot/internal/site"
)

// ErrSessionBusy is returned when Upload is called while another upload is
// running on the same session.
var ErrSessionBusy = errors.New("upload session is busy")

// Timings bounds every wait the session performs.
type Timings struct {
	Step               time.Duration
	Login              time.Duration
	Poll               time.Duration
	CompletionAttempts int
	CompletionInterval time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Step:               30 * time.Second,
		Login:              30 * time.Second,
		Poll:               500 * time.Millisecond,
		CompletionAttempts: 10,
		CompletionInterval: 3 * time.Second,
	}
}

type Option func(*Session)

func WithTimings(t Timings) Option {
	return func(s *Session) { s.timings = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgress registers a checkpoint callback. It is purely observational.
func WithProgress(fn func(domain.Checkpoint)) Option {
	return func(s *Session) { s.progress = fn }
}

// Session is an authenticated handle on one browser tab. It runs one upload
// at a time.
type Session struct {
	mu       sync.Mutex
	page     domain.Page
	profile  *site.Profile
	timings  Timings
	logger   *slog.Logger
	progress func(domain.Checkpoint)
}

// Open signs in on page and returns a session ready for uploads. Login
// problems are reported as a *domain.StepError of kind AuthError; browser
// failures wrap domain.ErrBrowser.
func Open(ctx context.Context, page domain.Page, profile *site.Profile, creds domain.Credentials, opts ...Option) (*Session, error) {
	s := &Session{
		page:    page,
		profile: profile,
		timings: DefaultTimings(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "upload", "site", profile.Name)

	if err := s.login(ctx, creds); err != nil {
		return nil, err
	}
	s.emit(domain.CheckpointLoggedIn)
	return s, nil
}

func (s *Session) authError(detail string, err error) error {
	return &domain.StepError{Kind: domain.KindAuth, Step: "login", Detail: detail, Err: err}
}

// authCheck passes environment failures through and reports anything else
// as an AuthError.
func (s *Session) authCheck(ctx context.Context, detail string, err error) error {
	if err == nil || isEnvironment(ctx, err) {
		return err
	}
	return s.authError(detail, err)
}

func (s *Session) login(ctx context.Context, creds domain.Credentials) error {
	s.logger.Info("signing in", "account", creds)
	if err := s.page.Navigate(ctx, s.profile.LoginURL); err != nil {
		return s.authCheck(ctx, "open "+s.profile.LoginURL, err)
	}

	p := s.profile
	alreadyIn := false
	found, err := await(ctx, s.timings.Login, s.timings.Poll, func(ctx context.Context) (bool, error) {
		if ok, err := present(ctx, s.page, p.Login.Email); ok || err != nil {
			return ok, err
		}
		u, err := s.page.URL(ctx)
		if err != nil {
			return false, err
		}
		if u != "" && !p.IsLoginURL(u) {
			alreadyIn = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return s.authCheck(ctx, "look for login form "+p.Login.Email, err)
	}
	if !found {
		return s.authError(fmt.Sprintf("login form %s not present after %s", p.Login.Email, s.timings.Login), nil)
	}
	if alreadyIn {
		s.logger.Info("browser profile already signed in")
		return nil
	}

	if err := s.fill(ctx, p.Login.Email, creds.Email); err != nil {
		return s.authCheck(ctx, "cannot fill "+p.Login.Email, err)
	}
	if err := s.fill(ctx, p.Login.Password, creds.Password); err != nil {
		return s.authCheck(ctx, "cannot fill "+p.Login.Password, err)
	}
	submit, err := anyPresent(ctx, s.page, p.Login.Submit)
	if err != nil {
		return s.authCheck(ctx, "look for login submit control", err)
	}
	if submit == "" {
		return s.authError(fmt.Sprintf("login submit control not found (tried %v)", p.Login.Submit), nil)
	}
	if err := s.click(ctx, submit); err != nil {
		return s.authCheck(ctx, "cannot click "+submit, err)
	}

	rejected := ""
	confirmed, err := await(ctx, s.timings.Login, s.timings.Poll, func(ctx context.Context) (bool, error) {
		sel, err := anyPresent(ctx, s.page, p.Login.Rejected)
		if err != nil {
			return false, err
		}
		if sel != "" {
			rejected = sel
			return true, nil
		}
		if sel, err := anyPresent(ctx, s.page, p.Login.Confirmed); sel != "" || err != nil {
			return sel != "", err
		}
		u, err := s.page.URL(ctx)
		if err != nil {
			return false, err
		}
		return u != "" && !p.IsLoginURL(u), nil
	})
	if err != nil {
		return s.authCheck(ctx, "wait for login result", err)
	}
	if rejected != "" {
		return s.authError("login rejected ("+rejected+")", nil)
	}
	if !confirmed {
		return s.authError(fmt.Sprintf("login not confirmed within %s", s.timings.Login), nil)
	}
	s.logger.Info("signed in")
	return nil
}

// Upload runs the upload sequence for req. Site behaviour, including page
// errors from a broken selector, always yields a result; the error is
// reserved for environment failures and ErrSessionBusy.
func (s *Session) Upload(ctx context.Context, req domain.UploadRequest) (domain.UploadResult, error) {
	if !s.mu.TryLock() {
		return domain.UploadResult{}, ErrSessionBusy
	}
	defer s.mu.Unlock()

	start := time.Now()
	r := &run{s: s, req: req}
	logger := s.logger.With("request", req.ID)

	r.steps = r.plan()
	for i := range r.steps {
		st := &r.steps[i]
		if st.skip != nil && st.skip(r) {
			continue
		}
		r.cur = st
		logger.Debug("step", "name", st.name)
		err := st.run(ctx, r)
		if err != nil && !isEnvironment(ctx, err) && !errors.As(err, new(*domain.StepError)) {
			err = &domain.StepError{Kind: st.kind, Step: st.name, Detail: "page error", Err: err}
		}
		var stepErr *domain.StepError
		switch {
		case errors.As(err, &stepErr):
			res := domain.FailedResult(stepErr)
			if stepErr.Kind == domain.KindCompletionTimeout && r.keywordSeen {
				res.Reason += " (the page reported success, but no video link appeared)"
			}
			res.Duration = time.Since(start)
			logger.Warn("upload step failed", "step", stepErr.Step, "kind", stepErr.Kind, "detail", stepErr.Detail)
			return res, nil
		case err != nil:
			logger.Error("upload aborted", "step", st.name, "err", err)
			return domain.UploadResult{}, fmt.Errorf("upload step %s: %w", st.name, err)
		}
		if r.result != nil {
			r.result.Duration = time.Since(start)
			return *r.result, nil
		}
	}

	// Completion always ends with a result or an error.
	return domain.UploadResult{}, fmt.Errorf("upload sequence ended without a result")
}

func (s *Session) emit(cp domain.Checkpoint) {
	if s.progress != nil {
		s.progress(cp)
	}
}

func (s *Session) fill(ctx context.Context, selector, value string) error {
	c, err := s.page.FindControl(ctx, selector)
	if err != nil {
		return err
	}
	return c.SetValue(ctx, value)
}

func (s *Session) click(ctx context.Context, selector string) error {
	c, err := s.page.FindControl(ctx, selector)
	if err != nil {
		return err
	}
	return c.Click(ctx)
}
