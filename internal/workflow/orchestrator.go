// Package workflow runs an upload request from the inbound message to the
// final reply: download, metadata, browser session, result.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rumblebot/internal/bus"
	"rumblebot/internal/domain"
	"rumblebot/internal/history"
	"rumblebot/internal/metadata"
)

var (
	ErrNoPending   = errors.New("no pending request")
	ErrBadChoice   = errors.New("choice out of range")
	ErrNoVideo     = errors.New("message has no attachment")
	errInterrupted = errors.New("interrupted")
)

// SessionOpener opens an authenticated upload session. release shuts the
// session's browser down and is nil when err is non-nil.
type SessionOpener interface {
	Open(ctx context.Context, progress func(domain.Checkpoint)) (sess domain.Uploader, release func(), err error)
}

// Retriever downloads an attachment to local disk.
type Retriever interface {
	Fetch(ctx context.Context, att domain.Attachment, name string) (string, error)
}

// Recorder stores finished uploads.
type Recorder interface {
	Add(ctx context.Context, rec history.Record) error
}

type Config struct {
	Bus       domain.MessageBus
	Events    *bus.EventBus // optional
	Opener    SessionOpener
	Retriever Retriever
	Synth     *metadata.Synthesizer
	History   Recorder // optional

	Channel        string // preferred destination channel
	Category       string
	Debug          bool
	Progress       bool
	ChoiceTTL      time.Duration
	OverallTimeout time.Duration
	Logger         *slog.Logger
}

// Orchestrator processes upload jobs one at a time.
type Orchestrator struct {
	bus       domain.MessageBus
	events    *bus.EventBus
	opener    SessionOpener
	retriever Retriever
	synth     *metadata.Synthesizer
	history   Recorder

	channel   string
	category  string
	debug     bool
	progress  bool
	choiceTTL time.Duration
	overall   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*job
}

// job is one request plus where its replies go.
type job struct {
	req      domain.UploadRequest
	channel  string // messaging channel, empty for local uploads
	fileName string
	size     int64
	ownsFile bool // delete FilePath when the request ends
	parked   bool // waiting for a channel choice, keeps FilePath

	options []domain.ChannelOption
	expires time.Time
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChoiceTTL <= 0 {
		cfg.ChoiceTTL = 15 * time.Minute
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = 30 * time.Minute
	}
	if cfg.Synth == nil {
		cfg.Synth = metadata.NewSynthesizer(metadata.Options{Logger: cfg.Logger})
	}
	return &Orchestrator{
		bus:       cfg.Bus,
		events:    cfg.Events,
		opener:    cfg.Opener,
		retriever: cfg.Retriever,
		synth:     cfg.Synth,
		history:   cfg.History,
		channel:   cfg.Channel,
		category:  cfg.Category,
		debug:     cfg.Debug,
		progress:  cfg.Progress,
		choiceTTL: cfg.ChoiceTTL,
		overall:   cfg.OverallTimeout,
		logger:    cfg.Logger.With("component", "workflow"),
		now:       time.Now,
		pending:   map[string]*job{},
	}
}

// Run consumes the inbound queue sequentially until ctx is done or the bus
// is closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("upload worker started")
	inbound := o.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("upload worker stopping")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				o.logger.Info("inbound queue closed, upload worker stopping")
				return nil
			}
			o.dispatch(ctx, msg)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("upload worker panic", "panic", r, "chat", msg.ChatID)
			o.reply(msg.Channel, msg.ChatID, "", "❌ Something went wrong while processing your video. Please try again.", true, nil)
		}
	}()

	switch msg.Kind {
	case domain.InboundChoice:
		if _, err := o.Resume(ctx, msg.RequestID, msg.ChoiceIndex); err != nil {
			text := "⌛ This choice is no longer valid. Please send the video again."
			if errors.Is(err, ErrBadChoice) {
				text = "That option is not available, please pick one of the buttons."
			}
			o.reply(msg.Channel, msg.ChatID, "", text, false, nil)
		}
	default:
		o.Handle(ctx, msg)
	}
}

// Handle processes one upload message end to end and returns its result.
// A choice_needed result means the request is parked until Resume or expiry.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) domain.UploadResult {
	if msg.Attachment == nil {
		o.reply(msg.Channel, msg.ChatID, "", "Please send a video file (as a video or as a document).", true, nil)
		return failure("download", "no video in the message", ErrNoVideo)
	}
	att := *msg.Attachment
	reqID := uuid.NewString()
	logger := o.logger.With("request", reqID, "chat", msg.ChatID)
	logger.Info("upload received", "file", att.FileName, "size", att.Size)
	o.emit(bus.Event{Type: bus.EventReceived, RequestID: reqID, ChatID: msg.ChatID})

	ctx, cancel := context.WithTimeout(ctx, o.overall)
	defer cancel()

	j := &job{
		req:      domain.UploadRequest{ID: reqID, ChatID: msg.ChatID, Channel: o.channel, Category: o.category},
		channel:  msg.Channel,
		fileName: att.FileName,
		size:     att.Size,
		ownsFile: true,
	}
	o.status(j, receivedText(att))

	path, err := o.retriever.Fetch(ctx, att, reqID)
	if err != nil {
		logger.Warn("download failed", "error", err)
		res := downloadFailure(err)
		o.finish(ctx, j, res)
		return res
	}
	j.req.FilePath = path
	defer o.release(j)
	if st, err := os.Stat(path); err == nil {
		j.size = st.Size()
	}
	o.checkpoint(j, domain.CheckpointDownloaded)

	c := o.synth.Fill(metadata.ParseCaption(msg.Caption), titleFromFile(att.FileName))
	j.req.Title = c.Title
	j.req.Description = c.Description
	j.req.Tags = c.Tags

	return o.execute(ctx, j)
}

// UploadLocal uploads a file that is not owned by the bot, such as one given
// on the command line. The file is never deleted and a channel choice is
// returned to the caller instead of being parked.
func (o *Orchestrator) UploadLocal(ctx context.Context, path string, c metadata.Caption, channel string) domain.UploadResult {
	reqID := uuid.NewString()
	if channel == "" {
		channel = o.channel
	}
	c = o.synth.Fill(c, titleFromFile(path))
	j := &job{
		req: domain.UploadRequest{
			ID: reqID, FilePath: path, Title: c.Title, Description: c.Description, Tags: c.Tags,
			Channel: channel, Category: o.category,
		},
		fileName: filepath.Base(path),
	}
	defer o.release(j)
	if st, err := os.Stat(path); err == nil {
		j.size = st.Size()
	}
	o.emit(bus.Event{Type: bus.EventReceived, RequestID: reqID})

	ctx, cancel := context.WithTimeout(ctx, o.overall)
	defer cancel()
	return o.execute(ctx, j)
}

// Resume re-runs a parked request with the option at index.
func (o *Orchestrator) Resume(ctx context.Context, requestID string, index int) (domain.UploadResult, error) {
	o.mu.Lock()
	j, ok := o.pending[requestID]
	if ok && (index < 0 || index >= len(j.options)) {
		o.mu.Unlock()
		return domain.UploadResult{}, fmt.Errorf("%w: %d of %d", ErrBadChoice, index, len(j.options))
	}
	if ok {
		delete(o.pending, requestID)
	}
	o.mu.Unlock()
	if !ok || o.now().After(j.expires) {
		if ok {
			o.expire(j)
		}
		return domain.UploadResult{}, fmt.Errorf("%w: %s", ErrNoPending, requestID)
	}

	j.parked = false
	defer o.release(j)
	j.req.Channel = j.options[index].Name
	o.logger.Info("channel chosen", "request", requestID, "channel", j.req.Channel)
	o.emit(bus.Event{Type: bus.EventResumed, RequestID: requestID, ChatID: j.req.ChatID})
	o.status(j, fmt.Sprintf("👍 Uploading to %s…", j.req.Channel))

	ctx, cancel := context.WithTimeout(ctx, o.overall)
	defer cancel()
	return o.execute(ctx, j), nil
}

// ExpirePending drops parked requests whose choice has expired by now,
// deletes their files and tells the user. It returns how many were dropped.
func (o *Orchestrator) ExpirePending(now time.Time) int {
	o.mu.Lock()
	var expired []*job
	for id, j := range o.pending {
		if now.After(j.expires) {
			expired = append(expired, j)
			delete(o.pending, id)
		}
	}
	o.mu.Unlock()

	for _, j := range expired {
		o.expire(j)
	}
	return len(expired)
}

// Pending returns the number of parked requests.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Orchestrator) expire(j *job) {
	o.logger.Info("channel choice expired", "request", j.req.ID)
	o.removeFile(j)
	o.emit(bus.Event{Type: bus.EventExpired, RequestID: j.req.ID, ChatID: j.req.ChatID})
	o.reply(j.channel, j.req.ChatID, j.req.ID, "⌛ No channel was chosen in time, so the upload was cancelled. Send the video again to retry.", true, nil)
}

// execute runs the browser part of a job. Callers release the job's file,
// which stays on disk only when execute parks the job.
func (o *Orchestrator) execute(ctx context.Context, j *job) (res domain.UploadResult) {
	start := time.Now()
	res = o.runSession(ctx, j)
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	if res.Status == domain.StatusChoiceNeeded && j.channel != "" && len(res.Choices) > 0 {
		j.parked = true
		o.park(j, res.Choices)
		return res
	}
	o.finish(ctx, j, res)
	return res
}

func (o *Orchestrator) runSession(ctx context.Context, j *job) domain.UploadResult {
	logger := o.logger.With("request", j.req.ID)
	sess, release, err := o.opener.Open(ctx, func(cp domain.Checkpoint) { o.checkpoint(j, cp) })
	if err != nil {
		logger.Warn("session open failed", "error", err)
		return sessionFailure(ctx, "login", err)
	}
	defer release()

	res, err := sess.Upload(ctx, j.req)
	if err != nil {
		logger.Error("upload aborted", "error", err)
		return sessionFailure(ctx, "upload", err)
	}
	logger.Info("upload finished", "status", res.Status, "kind", res.Kind, "step", res.Step, "duration", res.Duration.Round(time.Second))
	return res
}

func (o *Orchestrator) park(j *job, options []domain.ChannelOption) {
	j.options = options
	j.expires = o.now().Add(o.choiceTTL)
	o.mu.Lock()
	o.pending[j.req.ID] = j
	o.mu.Unlock()

	o.logger.Info("waiting for channel choice", "request", j.req.ID, "options", len(options))
	o.emit(bus.Event{Type: bus.EventParked, RequestID: j.req.ID, ChatID: j.req.ChatID})
	o.reply(j.channel, j.req.ChatID, j.req.ID, choiceText(j.req.Title, o.choiceTTL), false, options)
}

func (o *Orchestrator) finish(ctx context.Context, j *job, res domain.UploadResult) {
	o.reply(j.channel, j.req.ChatID, j.req.ID, resultText(j.req, res, o.debug), true, nil)
	if o.history != nil {
		// The request ctx may already be done; the record must still land.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.history.Add(hctx, history.FromResult(j.req, j.fileName, j.size, res)); err != nil {
			o.logger.Warn("history record failed", "request", j.req.ID, "error", err)
		}
	}
	o.emit(bus.Event{Type: bus.EventFinished, RequestID: j.req.ID, ChatID: j.req.ChatID, Result: &res})
}

func (o *Orchestrator) checkpoint(j *job, cp domain.Checkpoint) {
	ev := bus.Event{Type: bus.EventCheckpoint, RequestID: j.req.ID, ChatID: j.req.ChatID, Checkpoint: cp}
	if cp == domain.CheckpointDownloaded {
		ev.Bytes = j.size
	}
	o.emit(ev)
	if o.progress {
		if text := checkpointText(cp); text != "" {
			o.status(j, text)
		}
	}
}

func (o *Orchestrator) status(j *job, text string) {
	o.reply(j.channel, j.req.ChatID, j.req.ID, text, false, nil)
}

func (o *Orchestrator) reply(channel, chatID, key, text string, final bool, choices []domain.ChannelOption) {
	if channel == "" || o.bus == nil {
		return
	}
	o.bus.SendOutbound(domain.OutboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		Content:   text,
		StatusKey: key,
		Final:     final,
		Choices:   choices,
	})
}

func (o *Orchestrator) emit(ev bus.Event) {
	if o.events != nil {
		o.events.Emit(ev)
	}
}

// release removes the job's file unless the job is parked.
func (o *Orchestrator) release(j *job) {
	if !j.parked {
		o.removeFile(j)
	}
}

func (o *Orchestrator) removeFile(j *job) {
	if !j.ownsFile || j.req.FilePath == "" {
		return
	}
	if err := os.Remove(j.req.FilePath); err != nil && !os.IsNotExist(err) {
		o.logger.Warn("cannot remove temporary file", "file", j.req.FilePath, "error", err)
	}
}

// titleFromFile turns "my_holiday-clip.mp4" into "my holiday clip".
func titleFromFile(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
