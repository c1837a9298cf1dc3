package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"rumblebot/internal/domain"
)

// step is one stage of the upload form. Each carries the failure kind it
// reports and the bound on its wait.
type step struct {
	name    string
	kind    domain.ErrorKind
	timeout time.Duration
	skip    func(*run) bool
	run     func(context.Context, *run) error
}

// run holds the state of one Upload call.
type run struct {
	s     *Session
	req   domain.UploadRequest
	steps []step
	cur   *step

	baseURL     string
	baseline    map[string]bool
	agreement   bool
	keywordSeen bool
	result      *domain.UploadResult
}

func (r *run) plan() []step {
	t := r.s.timings
	return []step{
		{name: "navigate", kind: domain.KindNavigationTimeout, timeout: t.Step, run: navigate},
		{name: "supply_file", kind: domain.KindFileAccept, timeout: t.Step, run: supplyFile},
		{name: "fill_fields", kind: domain.KindForm, run: fillFields},
		{name: "select_channel", kind: domain.KindForm, run: selectChannel},
		{name: "visibility", kind: domain.KindForm, run: setVisibility},
		{name: "submit", kind: domain.KindSubmitTimeout, timeout: t.Step, run: submit},
		{name: "agreement", kind: domain.KindAgreement, run: acceptAgreements,
			skip: func(r *run) bool { return !r.agreement }},
		{name: "completion", kind: domain.KindCompletionTimeout, run: awaitCompletion},
	}
}

// fail reports the current step's failure kind.
func (r *run) fail(format string, args ...any) error {
	return &domain.StepError{Kind: r.cur.kind, Step: r.cur.name, Detail: fmt.Sprintf(format, args...)}
}

// check maps err from a page operation: environment failures pass through,
// anything else fails the current step.
func (r *run) check(ctx context.Context, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if isEnvironment(ctx, err) {
		return err
	}
	return &domain.StepError{Kind: r.cur.kind, Step: r.cur.name, Detail: fmt.Sprintf(format, args...), Err: err}
}

func navigate(ctx context.Context, r *run) error {
	s := r.s
	if err := s.page.Navigate(ctx, s.profile.UploadURL); err != nil {
		return r.check(ctx, err, "open %s", s.profile.UploadURL)
	}
	ok, err := await(ctx, r.cur.timeout, s.timings.Poll, func(ctx context.Context) (bool, error) {
		return present(ctx, s.page, s.profile.FileInput)
	})
	if err != nil {
		return r.check(ctx, err, "look for file input %s", s.profile.FileInput)
	}
	if !ok {
		return r.fail("file input %s not present after %s", s.profile.FileInput, r.cur.timeout)
	}
	return nil
}

func supplyFile(ctx context.Context, r *run) error {
	s := r.s
	path, err := filepath.Abs(r.req.FilePath)
	if err != nil {
		return r.fail("resolve %s: %v", r.req.FilePath, err)
	}
	input, err := s.page.FindControl(ctx, s.profile.FileInput)
	if err != nil {
		return r.check(ctx, err, "file input %s", s.profile.FileInput)
	}
	if err := input.SetFiles(ctx, path); err != nil {
		return r.check(ctx, err, "set file on %s", s.profile.FileInput)
	}

	base := filepath.Base(path)
	ok, err := await(ctx, r.cur.timeout, s.timings.Poll, func(ctx context.Context) (bool, error) {
		if sel, err := anyPresent(ctx, s.page, s.profile.FileAccepted); sel != "" || err != nil {
			return sel != "", err
		}
		content, err := s.page.Content(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(content, base), nil
	})
	if err != nil {
		return r.check(ctx, err, "wait for acknowledgement of %s", base)
	}
	if !ok {
		return r.fail("no acknowledgement of %s after %s", base, r.cur.timeout)
	}
	s.emit(domain.CheckpointFileAccepted)
	return nil
}

func fillFields(ctx context.Context, r *run) error {
	s := r.s
	title := strings.TrimSpace(r.req.Title)
	if title == "" {
		return r.fail("empty title")
	}
	if err := s.fill(ctx, s.profile.TitleField, title); err != nil {
		return r.check(ctx, err, "title field %s", s.profile.TitleField)
	}

	optional := []struct{ field, selector, value string }{
		{"description", s.profile.DescField, r.req.Description},
		{"tags", s.profile.TagsField, strings.Join(r.req.Tags, ",")},
		{"category", s.profile.CategoryField, r.req.Category},
	}
	for _, f := range optional {
		if f.selector == "" || f.value == "" {
			continue
		}
		if err := s.fill(ctx, f.selector, f.value); err != nil {
			if isEnvironment(ctx, err) {
				return err
			}
			s.logger.Warn("optional field not set", "request", r.req.ID, "field", f.field, "selector", f.selector, "err", err)
		}
	}
	return nil
}

func selectChannel(ctx context.Context, r *run) error {
	s := r.s
	controls, options, err := s.channelOptions(ctx)
	if err != nil {
		return r.check(ctx, err, "read channel options %s", s.profile.ChannelRadios)
	}
	idx, needChoice := ResolveChannel(r.req.Channel, options)
	switch {
	case needChoice:
		s.logger.Info("channel choice needed", "request", r.req.ID, "preferred", r.req.Channel, "options", len(options))
		r.result = &domain.UploadResult{
			Status:  domain.StatusChoiceNeeded,
			Reason:  "several channels are available, choose one",
			Choices: options,
		}
		return nil
	case idx < 0:
		s.logger.Info("no channel options on page, keeping default", "request", r.req.ID)
		return nil
	}

	chosen := options[idx]
	if r.req.Channel != "" && chosen.Name != r.req.Channel {
		s.logger.Info("channel resolved", "request", r.req.ID, "preferred", r.req.Channel, "chosen", chosen.Name)
	}
	ok, err := forceCheck(ctx, controls[idx], nil)
	if err != nil {
		return r.check(ctx, err, "select channel %s", chosen.Selector)
	}
	if !ok {
		return r.fail("channel %q (%s) did not stay selected", chosen.Name, chosen.Selector)
	}
	return nil
}

func setVisibility(ctx context.Context, r *run) error {
	s := r.s
	defer s.emit(domain.CheckpointFormFilled)

	for _, sel := range s.profile.Visibility {
		c, err := s.page.FindControl(ctx, sel)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return r.check(ctx, err, "visibility control %s", sel)
		}
		if err := c.Check(ctx); err != nil {
			if isEnvironment(ctx, err) {
				return err
			}
			s.logger.Warn("visibility not set", "request", r.req.ID, "selector", sel, "err", err)
		}
		return nil
	}
	s.logger.Info("no visibility control found, keeping page default", "request", r.req.ID)
	return nil
}

func submit(ctx context.Context, r *run) error {
	s := r.s
	p := s.profile

	u, err := s.page.URL(ctx)
	if err != nil {
		return r.check(ctx, err, "read form URL")
	}
	content, err := s.page.Content(ctx)
	if err != nil {
		return r.check(ctx, err, "read form content")
	}
	r.baseURL = u
	r.baseline = map[string]bool{}
	for _, m := range append(p.ContentURLs(u), p.ContentURLs(content)...) {
		r.baseline[m] = true
	}

	btn, err := s.page.FindControl(ctx, p.Submit)
	if errors.Is(err, domain.ErrNotFound) {
		return r.fail("submit control %s not found", p.Submit)
	}
	if err != nil {
		return r.check(ctx, err, "submit control %s", p.Submit)
	}
	if err := btn.Click(ctx); err != nil {
		return r.check(ctx, err, "click %s", p.Submit)
	}

	ok, err := await(ctx, r.cur.timeout, s.timings.Poll, func(ctx context.Context) (bool, error) {
		sel, err := anyPresent(ctx, s.page, p.AgreementPage)
		if err != nil {
			return false, err
		}
		if sel != "" {
			r.agreement = true
			return true, nil
		}
		if sel, err := anyPresent(ctx, s.page, p.SuccessMarkers); sel != "" || err != nil {
			return sel != "", err
		}
		u, err := s.page.URL(ctx)
		if err != nil {
			return false, err
		}
		_, isContent := p.ContentURL(u)
		return isContent || (u != "" && !p.IsUploadURL(u)), nil
	})
	if err != nil {
		return r.check(ctx, err, "wait for response to %s", p.Submit)
	}
	if !ok {
		return r.fail("neither agreement page nor success indicator after %s", r.cur.timeout)
	}
	if !r.agreement {
		s.emit(domain.CheckpointSubmitted)
	}
	return nil
}

func acceptAgreements(ctx context.Context, r *run) error {
	s := r.s
	p := s.profile

	hidden := func(ctx context.Context) error {
		for _, sel := range p.AgreementHidden {
			if err := s.fill(ctx, sel, "1"); err != nil && isEnvironment(ctx, err) {
				return err
			}
		}
		return nil
	}

	for _, sel := range p.Agreements {
		box, err := s.page.FindControl(ctx, sel)
		if errors.Is(err, domain.ErrNotFound) {
			return r.fail("agreement checkbox %s not found", sel)
		}
		if err != nil {
			return r.check(ctx, err, "agreement checkbox %s", sel)
		}
		ok, err := forceCheck(ctx, box, hidden)
		if err != nil {
			return r.check(ctx, err, "check agreement %s", sel)
		}
		if !ok {
			return r.fail("agreement checkbox %s still unchecked after retry", sel)
		}
	}

	final, err := s.page.FindControl(ctx, p.FinalSubmit)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.StepError{Kind: domain.KindSubmitTimeout, Step: "final_submit", Detail: "final submit control " + p.FinalSubmit + " not found"}
	}
	if err == nil {
		err = final.Click(ctx)
	}
	if err != nil {
		if isEnvironment(ctx, err) {
			return err
		}
		return &domain.StepError{Kind: domain.KindSubmitTimeout, Step: "final_submit", Detail: "click " + p.FinalSubmit, Err: err}
	}
	s.emit(domain.CheckpointSubmitted)
	return nil
}

func awaitCompletion(ctx context.Context, r *run) error {
	c, err := r.s.pollCompletion(ctx, r.baseURL, r.baseline)
	r.keywordSeen = c.keywords
	if err != nil {
		return r.check(ctx, err, "read page after %d polls", c.polls)
	}
	if c.url == "" {
		return r.fail("no confirmation after %d polls every %s", c.polls, r.s.timings.CompletionInterval)
	}
	r.result = &domain.UploadResult{Status: domain.StatusSuccess, URL: c.url}
	r.s.emit(domain.CheckpointConfirmed)
	return nil
}
