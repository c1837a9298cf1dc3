package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// UploadRequest describes one video to publish. It lives for the duration of
// a single workflow run.
type UploadRequest struct {
	ID          string
	FilePath    string
	Title       string
	Description string
	Tags        []string
	Channel     string // preferred destination channel, empty = no preference
	Category    string
	ChatID      string
}

type UploadStatus string

const (
	StatusSuccess      UploadStatus = "success"
	StatusFailed       UploadStatus = "failed"
	StatusUnconfirmed  UploadStatus = "unconfirmed"
	StatusChoiceNeeded UploadStatus = "choice_needed"
)

// UploadResult is the single outcome of running an UploadRequest.
type UploadResult struct {
	Status   UploadStatus
	URL      string
	Reason   string
	Kind     ErrorKind
	Step     string
	Detail   string // selector names, timeouts; shown to users only in debug mode
	Choices  []ChannelOption
	Duration time.Duration
}

func (r UploadResult) Success() bool { return r.Status == StatusSuccess }

// Terminal reports whether the result ends the request. Only a pending
// channel choice keeps it alive.
func (r UploadResult) Terminal() bool { return r.Status != StatusChoiceNeeded }

// FailedResult builds a failure result from a step error.
func FailedResult(err *StepError) UploadResult {
	status := StatusFailed
	if err.Kind == KindCompletionTimeout {
		status = StatusUnconfirmed
	}
	return UploadResult{
		Status: status,
		Reason: err.Kind.Reason(),
		Kind:   err.Kind,
		Step:   err.Step,
		Detail: err.Detail,
	}
}

// ChannelOption is a destination channel as currently offered by the site.
type ChannelOption struct {
	Name     string
	Selector string
}

// Credentials for the destination site account.
type Credentials struct {
	Email    string
	Password string
	Channel  string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email:%s, Password:***, Channel:%q}", MaskEmail(c.Email), c.Channel)
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("email", MaskEmail(c.Email)),
		slog.String("channel", c.Channel),
	)
}

// MaskEmail keeps the first three characters of the local part.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := len(email)
	for i, r := range email {
		if r == '@' {
			at = i
			break
		}
	}
	keep := 3
	if at < keep {
		keep = at
	}
	return email[:keep] + "***" + email[at:]
}

// Checkpoint marks workflow progress for optional user notifications.
type Checkpoint string

const (
	CheckpointDownloaded   Checkpoint = "downloaded"
	CheckpointLoggedIn     Checkpoint = "logged_in"
	CheckpointFileAccepted Checkpoint = "file_accepted"
	CheckpointFormFilled   Checkpoint = "form_filled"
	CheckpointSubmitted    Checkpoint = "submitted"
	CheckpointConfirmed    Checkpoint = "confirmed"
)

// Uploader runs one request against an authenticated session.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}
