package upload

import "context"

type completion struct {
	url      string
	keywords bool
	polls    int
}

// pollCompletion waits for evidence that the submission was published. A
// content URL in the address or the page wins immediately, then a move away
// from the upload page. Links in baseline were already on the form before
// submit and never count. Success keywords only corroborate and never end the
// polling on their own.
func (s *Session) pollCompletion(ctx context.Context, baseURL string, baseline map[string]bool) (completion, error) {
	var c completion
	p := s.profile
	fresh := func(text string) string {
		for _, m := range p.ContentURLs(text) {
			if !baseline[m] {
				return m
			}
		}
		return ""
	}

	for c.polls < s.timings.CompletionAttempts {
		if err := sleep(ctx, s.timings.CompletionInterval); err != nil {
			return c, err
		}
		c.polls++

		u, err := s.page.URL(ctx)
		if err != nil {
			return c, err
		}
		if m := fresh(u); m != "" {
			c.url = m
			return c, nil
		}
		content, err := s.page.Content(ctx)
		if err != nil {
			return c, err
		}
		if m := fresh(content); m != "" {
			c.url = m
			return c, nil
		}
		if u != "" && u != baseURL && !baseline[u] && !p.IsUploadURL(u) && !p.IsLoginURL(u) {
			c.url = u
			return c, nil
		}

		title, err := s.page.Title(ctx)
		if err != nil {
			return c, err
		}
		if p.HasSuccessKeyword(u) || p.HasSuccessKeyword(title) {
			if !c.keywords {
				s.logger.Debug("success keyword seen, waiting for video link", "poll", c.polls)
			}
			c.keywords = true
		}
	}
	return c, nil
}
