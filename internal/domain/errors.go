package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected failures at the form-driving boundary.
type ErrorKind string

const (
	KindAuth              ErrorKind = "AuthError"
	KindNavigationTimeout ErrorKind = "NavigationTimeout"
	KindFileAccept        ErrorKind = "FileAcceptError"
	KindForm              ErrorKind = "FormError"
	KindSubmitTimeout     ErrorKind = "SubmitTimeout"
	KindAgreement         ErrorKind = "AgreementError"
	KindCompletionTimeout ErrorKind = "CompletionTimeout"
)

// Reason is the short user-facing explanation for a kind.
func (k ErrorKind) Reason() string {
	switch k {
	case KindAuth:
		return "could not log in to the video site"
	case KindNavigationTimeout:
		return "the upload page did not load"
	case KindFileAccept:
		return "the site did not accept the video file"
	case KindForm:
		return "could not fill in the upload form"
	case KindSubmitTimeout:
		return "the site did not respond to the submission"
	case KindAgreement:
		return "could not accept the upload agreements"
	case KindCompletionTimeout:
		return "the upload was submitted but its confirmation was not observed; please check the channel manually"
	default:
		return "the upload failed"
	}
}

// StepError reports that a step's expected acknowledgement never appeared.
type StepError struct {
	Kind   ErrorKind
	Step   string
	Detail string
	Err    error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s at %s", e.Kind, e.Step)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

var (
	// ErrBrowser marks failures of the automation environment itself
	// (browser crashed, DevTools connection lost, context cancelled).
	ErrBrowser = errors.New("browser environment failure")

	// ErrNotFound is returned by Page lookups when no element matches.
	ErrNotFound = errors.New("control not found")
)

// BrowserError wraps err as an environment failure for op.
func BrowserError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBrowser, err)
}
