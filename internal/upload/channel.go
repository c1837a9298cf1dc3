package upload

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"rumblebot/internal/domain"
)

var fold = cases.Fold()

// ResolveChannel picks the option matching preferred: exact name first, then
// case-insensitive equality, then a unique case-insensitive substring match.
// Without a usable preference a single option is picked. It returns -1 and
// needChoice=true when several options remain and none is preferred
// unambiguously, and -1 with needChoice=false when there are no options (the
// page default applies).
func ResolveChannel(preferred string, options []domain.ChannelOption) (idx int, needChoice bool) {
	if len(options) == 0 {
		return -1, false
	}

	if p := strings.TrimSpace(preferred); p != "" {
		for i, o := range options {
			if o.Name == p {
				return i, false
			}
		}
		fp := fold.String(p)
		for i, o := range options {
			if fold.String(o.Name) == fp {
				return i, false
			}
		}
		partial := -1
		matches := 0
		for i, o := range options {
			if strings.Contains(fold.String(o.Name), fp) {
				partial = i
				matches++
			}
		}
		if matches == 1 {
			return partial, false
		}
	}

	if len(options) == 1 {
		return 0, false
	}
	return -1, true
}

// channelOptions reads the channel radios currently on the page.
func (s *Session) channelOptions(ctx context.Context) ([]domain.Control, []domain.ChannelOption, error) {
	if s.profile.ChannelRadios == "" {
		return nil, nil, nil
	}
	controls, err := s.page.FindAll(ctx, s.profile.ChannelRadios)
	if err != nil {
		return nil, nil, err
	}
	options := make([]domain.ChannelOption, 0, len(controls))
	for _, c := range controls {
		name, err := c.Label(ctx)
		if err != nil && isEnvironment(ctx, err) {
			return nil, nil, err
		}
		name = strings.Join(strings.Fields(name), " ")
		if name == "" {
			if v, err := c.Attr(ctx, "value"); err == nil {
				name = v
			} else if isEnvironment(ctx, err) {
				return nil, nil, err
			}
		}
		options = append(options, domain.ChannelOption{Name: name, Selector: c.Selector()})
	}
	return controls, options, nil
}

// forceCheck checks c and verifies the read-back, retrying once with the
// alternate mechanism and then fallback, if any. It reports whether c ended
// up checked.
func forceCheck(ctx context.Context, c domain.Control, fallback func(context.Context) error) (bool, error) {
	if err := c.Check(ctx); err != nil && isEnvironment(ctx, err) {
		return false, err
	}
	ok, err := c.Checked(ctx)
	if err != nil && isEnvironment(ctx, err) {
		return false, err
	}
	if ok {
		return true, nil
	}

	if err := c.CheckAlternate(ctx); err != nil && isEnvironment(ctx, err) {
		return false, err
	}
	if fallback != nil {
		if err := fallback(ctx); err != nil {
			return false, err
		}
	}
	ok, err = c.Checked(ctx)
	if err != nil && isEnvironment(ctx, err) {
		return false, err
	}
	return ok, nil
}
