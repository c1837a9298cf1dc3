// Package media downloads Telegram attachments to local disk and keeps the
// download directory tidy.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"rumblebot/internal/domain"
)

var (
	ErrTooLarge    = errors.New("file too large")
	ErrUnsupported = errors.New("unsupported file type")
	ErrDiskFull    = errors.New("not enough disk space")
	ErrDownload    = errors.New("download failed")
)

// VideoExtensions lists the extensions accepted without a video content type.
var VideoExtensions = []string{
	".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".mkv",
	".m4v", ".3gp", ".ogv", ".ts", ".mts",
}

// FileURLResolver turns a Telegram file ID into a direct download URL.
type FileURLResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// statfsFunc returns total and available bytes of the filesystem holding path.
type statfsFunc func(path string) (total uint64, free uint64, err error)

type Config struct {
	Dir          string
	MaxBytes     int64
	MinFreeBytes uint64
	Resolver     FileURLResolver
	Client       *http.Client
	Logger       *slog.Logger
}

// Retriever fetches attachments into Dir.
type Retriever struct {
	dir      string
	maxBytes int64
	minFree  uint64
	resolver FileURLResolver
	client   *http.Client
	logger   *slog.Logger
	statfs   statfsFunc
}

func NewRetriever(cfg Config) *Retriever {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		minFree:  cfg.MinFreeBytes,
		resolver: cfg.Resolver,
		client:   cfg.Client,
		logger:   cfg.Logger,
		statfs:   diskUsage,
	}
}

func (r *Retriever) Dir() string { return r.dir }

// Fetch downloads att to <dir>/<name><ext> and returns the path. The file is
// never left behind when an error is returned.
func (r *Retriever) Fetch(ctx context.Context, att domain.Attachment, name string) (string, error) {
	if r.maxBytes > 0 && att.Size > r.maxBytes {
		return "", fmt.Errorf("%w: %s is over the %s limit", ErrTooLarge,
			humanize.IBytes(uint64(att.Size)), humanize.IBytes(uint64(r.maxBytes)))
	}
	ext := extensionFor(att)
	if ext != "" && !allowedExtension(ext) && !strings.HasPrefix(att.MimeType, "video/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if ext == "" {
		ext = ".mp4"
	}

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	if err := r.checkDiskSpace(att.Size); err != nil {
		return "", err
	}
	if r.resolver == nil {
		return "", fmt.Errorf("%w: no file resolver configured", ErrDownload)
	}
	url, err := r.resolver.FileURL(ctx, att.FileID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve file: %w", ErrDownload, err)
	}

	dest := filepath.Join(r.dir, name+ext)
	start := time.Now()
	n, err := r.download(ctx, url, dest)
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	if err := validate(dest, ext); err != nil {
		os.Remove(dest)
		return "", err
	}

	r.logger.Info("attachment downloaded",
		"file", att.FileName,
		"size", humanize.IBytes(uint64(n)),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return dest, nil
}

func (r *Retriever) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of the error.
		var uerr *neturl.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: HTTP %d", ErrDownload, resp.StatusCode)
	}
	if r.maxBytes > 0 && resp.ContentLength > r.maxBytes {
		return 0, fmt.Errorf("%w: %s is over the %s limit", ErrTooLarge,
			humanize.IBytes(uint64(resp.ContentLength)), humanize.IBytes(uint64(r.maxBytes)))
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	var body io.Reader = resp.Body
	if r.maxBytes > 0 {
		body = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("%w: %w", ErrDownload, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("write %s: %w", dest, closeErr)
	}
	if r.maxBytes > 0 && n > r.maxBytes {
		return n, fmt.Errorf("%w: download passed the %s limit", ErrTooLarge, humanize.IBytes(uint64(r.maxBytes)))
	}
	return n, nil
}

// FreeBytes reports the space available on the filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	_, free, err := diskUsage(path)
	return free, err
}

func (r *Retriever) checkDiskSpace(size int64) error {
	if r.minFree == 0 || r.statfs == nil {
		return nil
	}
	_, free, err := r.statfs(r.dir)
	if err != nil {
		r.logger.Warn("cannot read free disk space", "dir", r.dir, "error", err)
		return nil
	}
	need := r.minFree
	if size > 0 {
		need += uint64(size)
	}
	if free < need {
		return fmt.Errorf("%w: %s free, %s needed", ErrDiskFull, humanize.IBytes(free), humanize.IBytes(need))
	}
	return nil
}

// validate sniffs the downloaded content. Video content types always pass;
// unrecognised binary content passes when the extension is a known video one.
func validate(path, ext string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return nil
		}
	}
	if allowedExtension(ext) && mt.Is("application/octet-stream") {
		return nil
	}
	return fmt.Errorf("%w: content is %s", ErrUnsupported, mt.String())
}

func extensionFor(att domain.Attachment) string {
	if ext := strings.ToLower(filepath.Ext(att.FileName)); ext != "" {
		return ext
	}
	if strings.HasPrefix(att.MimeType, "video/") {
		if m := mimetype.Lookup(att.MimeType); m != nil {
			return m.Extension()
		}
	}
	return ""
}

func allowedExtension(ext string) bool {
	for _, e := range VideoExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
