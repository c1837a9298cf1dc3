package upload

import (
	"context"
	"fmt"
	"sync"

	"rumblebot/internal/domain"
	"rumblebot/internal/site"
)

// fakeSite simulates the upload form of the built-in profile in memory.
type fakeSite struct {
	mu       sync.Mutex
	profile  *site.Profile
	elements map[string]*fakeControl
	lists    map[string][]*fakeControl

	url     string
	title   string
	content string

	// submitted flips once the last submit control is clicked; every URL read
	// afterwards counts as a completion poll and runs poll.
	submitted bool
	polls     int
	poll      func(n int, s *fakeSite)

	// hooks
	loginResult  func(s *fakeSite)
	onUploadPage func(s *fakeSite)
	onFile       func(s *fakeSite)
	onSubmit     func(s *fakeSite)
	failOn       string // selector whose lookup fails as an environment error
	brokenOn     string // selector whose lookup fails with a plain page error
	signedIn     bool   // the login page redirects straight to the home page

	clicked []string
}

func newFakeSite() *fakeSite {
	s := &fakeSite{
		profile:  site.Rumble(),
		elements: map[string]*fakeControl{},
		lists:    map[string][]*fakeControl{},
	}
	if err := s.profile.Validate(); err != nil {
		panic(err)
	}
	p := s.profile

	s.loginResult = func(s *fakeSite) { s.url = "https://rumble.com/" }
	s.onUploadPage = func(s *fakeSite) {
		for _, sel := range []string{p.FileInput, p.TitleField, p.DescField, p.TagsField, p.CategoryField, p.Submit, p.Visibility[0]} {
			s.add(sel)
		}
		s.setChannels("Alpha", "Beta")
	}
	s.onFile = func(s *fakeSite) { s.add(p.FileAccepted[0]) }
	s.onSubmit = func(s *fakeSite) {
		for _, sel := range p.Agreements {
			s.add(sel)
		}
		s.add(p.FinalSubmit)
	}
	return s
}

func (s *fakeSite) add(sel string) *fakeControl {
	c := &fakeControl{site: s, sel: sel}
	s.elements[sel] = c
	return c
}

func (s *fakeSite) setChannels(names ...string) {
	var list []*fakeControl
	for i, n := range names {
		list = append(list, &fakeControl{site: s, sel: fmt.Sprintf("#channel-%d", i), label: n, value: fmt.Sprint(100 + i)})
	}
	s.lists[s.profile.ChannelRadios] = list
}

func (s *fakeSite) control(sel string) *fakeControl {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements[sel]
}

func (s *fakeSite) channel(name string) *fakeControl {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.lists[s.profile.ChannelRadios] {
		if c.label == name {
			return c
		}
	}
	return nil
}

func (s *fakeSite) wasClicked(sel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clicked {
		if c == sel {
			return true
		}
	}
	return false
}

func (s *fakeSite) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.elements = map[string]*fakeControl{}
	s.lists = map[string][]*fakeControl{}
	switch url {
	case s.profile.LoginURL:
		if s.signedIn {
			s.url = "https://rumble.com/"
			return nil
		}
		s.add(s.profile.Login.Email)
		s.add(s.profile.Login.Password)
		s.add(s.profile.Login.Submit[0]).onClick = func() { s.loginResult(s) }
	case s.profile.UploadURL:
		if s.onUploadPage != nil {
			s.onUploadPage(s)
		}
		if c, ok := s.elements[s.profile.Submit]; ok {
			c.onClick = func() {
				s.onSubmit(s)
				if fs, ok := s.elements[s.profile.FinalSubmit]; ok {
					fs.onClick = func() { s.submitted = true }
				} else {
					s.submitted = true
				}
			}
		}
		if c, ok := s.elements[s.profile.FileInput]; ok {
			c.onFiles = func() {
				if s.onFile != nil {
					s.onFile(s)
				}
			}
		}
	}
	return nil
}

func (s *fakeSite) FindControl(ctx context.Context, sel string) (domain.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel == s.failOn {
		return nil, domain.BrowserError("find "+sel, fmt.Errorf("target closed"))
	}
	if sel == s.brokenOn {
		return nil, fmt.Errorf("find %s: SyntaxError: Failed to execute 'querySelector': not a valid selector", sel)
	}
	if c, ok := s.elements[sel]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%s: %w", sel, domain.ErrNotFound)
}

func (s *fakeSite) FindAll(ctx context.Context, sel string) ([]domain.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Control
	for _, c := range s.lists[sel] {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeSite) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		s.polls++
		if s.poll != nil {
			s.poll(s.polls, s)
		}
	}
	return s.url, nil
}

func (s *fakeSite) Title(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title, nil
}

func (s *fakeSite) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, nil
}

type fakeControl struct {
	site    *fakeSite
	sel     string
	label   string
	value   string
	files   []string
	checked bool
	// stuck controls never report checked; ignoreCheck ones only react to
	// CheckAlternate.
	stuck       bool
	ignoreCheck bool

	checks    int
	altChecks int
	onClick   func()
	onFiles   func()
}

func (c *fakeControl) Selector() string { return c.sel }

func (c *fakeControl) SetValue(ctx context.Context, v string) error {
	c.site.mu.Lock()
	defer c.site.mu.Unlock()
	c.value = v
	return nil
}

func (c *fakeControl) SetFiles(ctx context.Context, paths ...string) error {
	c.site.mu.Lock()
	defer c.site.mu.Unlock()
	c.files = paths
	if c.onFiles != nil {
		c.onFiles()
	}
	return nil
}

func (c *fakeControl) Click(ctx context.Context) error {
	c.site.mu.Lock()
	defer c.site.mu.Unlock()
	c.site.clicked = append(c.site.clicked, c.sel)
	if c.onClick != nil {
		c.onClick()
	}
	return nil
}

func (c *fakeControl) Check(ctx context.Context) error {
	c.site.mu.Lock()
	defer c.site.mu.Unlock()
	c.checks++
	if !c.ignoreCheck {
		c.setChecked()
	}
	return nil
}

func (c *fakeControl) CheckAlternate(ctx context.Context) error {
	c.site.mu.Lock()
	defer c.site.mu.Unlock()
	c.altChecks++
	c.setChecked()
	return nil
}

// setChecked must be called with the site lock held.
func (c *fakeControl) setChecked() {
	if c.stuck {
		return
	}
	for _, other := range c.site.lists[c.site.profile.ChannelRadios] {
		if other == c {
			for _, o := range c.site.lists[c.site.profile.ChannelRadios] {
				o.checked = false
			}
		}
	}
	c.checked = true
}

func (c *fakeControl) Checked(ctx context.Context) (bool, error) {
	c.site.mu.Lock()
	defer c.site.mu.Unlock()
	return c.checked, nil
}

func (c *fakeControl) Attr(ctx context.Context, name string) (string, error) {
	c.site.mu.Lock()
	defer c.site.mu.Unlock()
	if name == "value" {
		return c.value, nil
	}
	return "", nil
}

func (c *fakeControl) Label(ctx context.Context) (string, error) {
	return c.label, nil
}
