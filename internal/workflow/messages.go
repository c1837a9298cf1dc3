package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"rumblebot/internal/domain"
	"rumblebot/internal/media"
)

func failure(step, reason string, err error) domain.UploadResult {
	res := domain.UploadResult{Status: domain.StatusFailed, Step: step, Reason: reason}
	if err != nil {
		res.Detail = err.Error()
	}
	return res
}

func downloadFailure(err error) domain.UploadResult {
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return failure("download", "the video is larger than the allowed size", err)
	case errors.Is(err, media.ErrUnsupported):
		return failure("download", "the file does not look like a supported video", err)
	case errors.Is(err, media.ErrDiskFull):
		return failure("download", "the server is low on disk space, try again later", err)
	case errors.Is(err, context.DeadlineExceeded):
		return failure("download", "the download took too long", err)
	case errors.Is(err, context.Canceled):
		return failure("download", "the bot is shutting down", err)
	default:
		return failure("download", "the video could not be downloaded from Telegram", err)
	}
}

// sessionFailure maps an Open or Upload error to a result. Step errors keep
// their kind; anything else is an environment failure.
func sessionFailure(ctx context.Context, step string, err error) domain.UploadResult {
	var se *domain.StepError
	if errors.As(err, &se) {
		return domain.FailedResult(se)
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return failure(step, "the upload took too long and was stopped", err)
	case ctx.Err() != nil:
		return failure(step, "the upload was interrupted because the bot is shutting down", fmt.Errorf("%w: %w", errInterrupted, err))
	case errors.Is(err, domain.ErrBrowser):
		return failure(step, "the browser stopped responding, try again later", err)
	default:
		return failure(step, "an unexpected error stopped the upload", err)
	}
}

func receivedText(att domain.Attachment) string {
	if att.Size > 0 {
		return fmt.Sprintf("📹 Video received (%s). Downloading…", humanize.IBytes(uint64(att.Size)))
	}
	return "📹 Video received. Downloading…"
}

func checkpointText(cp domain.Checkpoint) string {
	switch cp {
	case domain.CheckpointDownloaded:
		return "📥 Downloaded. Signing in to the site…"
	case domain.CheckpointLoggedIn:
		return "🔐 Signed in. Sending the file…"
	case domain.CheckpointFileAccepted:
		return "📤 File accepted. Filling in the details…"
	case domain.CheckpointFormFilled:
		return "📝 Details filled in. Submitting…"
	case domain.CheckpointSubmitted:
		return "⏳ Submitted. Waiting for the video link…"
	case domain.CheckpointConfirmed:
		return "✅ Confirmed by the site."
	}
	return ""
}

func choiceText(title string, ttl time.Duration) string {
	now := time.Now()
	within := strings.TrimSpace(humanize.RelTime(now, now.Add(ttl), "", ""))
	return fmt.Sprintf("📺 Your account has several channels. Where should %q go?\n\nPick one within %s.", title, within)
}

// resultText renders the one final message for a request. Step and detail
// are only shown in debug mode.
func resultText(req domain.UploadRequest, res domain.UploadResult, debug bool) string {
	var sb strings.Builder
	switch res.Status {
	case domain.StatusSuccess:
		sb.WriteString("✅ Upload complete!\n\n")
		fmt.Fprintf(&sb, "Title: %s\n", req.Title)
		if req.Channel != "" {
			fmt.Fprintf(&sb, "Channel: %s\n", req.Channel)
		}
		fmt.Fprintf(&sb, "Link: %s", res.URL)
	case domain.StatusUnconfirmed:
		sb.WriteString("⚠️ Upload not confirmed.\n\n")
		sb.WriteString(capitalize(res.Reason))
		sb.WriteString(".")
	case domain.StatusChoiceNeeded:
		sb.WriteString("❌ Upload stopped: a destination channel has to be chosen.")
	default:
		sb.WriteString("❌ Upload failed: ")
		sb.WriteString(res.Reason)
		sb.WriteString(".")
	}
	if debug && res.Status != domain.StatusSuccess {
		if res.Step != "" {
			fmt.Fprintf(&sb, "\n\nStep: %s", res.Step)
		}
		if res.Kind != "" {
			fmt.Fprintf(&sb, "\nKind: %s", res.Kind)
		}
		if res.Detail != "" {
			fmt.Fprintf(&sb, "\nDetail: %s", res.Detail)
		}
	}
	return sb.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
