package domain

import "context"

// Page is the capability the form-driving session needs from a browser tab.
// Implementations return ErrNotFound for missing elements and wrap
// environment failures (browser gone, connection lost, context done) with
// ErrBrowser. Any other error describes a problem with the element itself.
type Page interface {
	Navigate(ctx context.Context, url string) error
	FindControl(ctx context.Context, selector string) (Control, error)
	FindAll(ctx context.Context, selector string) ([]Control, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
}

// Control is a handle to one element on the page.
type Control interface {
	Selector() string
	SetValue(ctx context.Context, value string) error
	SetFiles(ctx context.Context, paths ...string) error
	// Click dispatches a DOM click on the element.
	Click(ctx context.Context) error
	// Check sets the checked state and fires change and click events.
	Check(ctx context.Context) error
	// CheckAlternate uses a different mechanism than Check (real mouse input,
	// then the checked attribute) for inputs that ignore scripted changes.
	CheckAlternate(ctx context.Context) error
	Checked(ctx context.Context) (bool, error)
	Attr(ctx context.Context, name string) (string, error)
	// Label returns the text of the element's <label for>, falling back to
	// the text of its parent element.
	Label(ctx context.Context) (string, error)
}
