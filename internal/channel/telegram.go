package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rumblebot/internal/domain"
	"rumblebot/internal/history"
	"rumblebot/internal/media"
)

const (
	telegramName           = "telegram"
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	choicePrefix           = "ch:"
)

// botAPI is the part of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// StatsSource reports upload history counts for /stats.
type StatsSource interface {
	Stats(ctx context.Context) (history.Stats, error)
}

// Telegram receives videos from Telegram chats and keeps one status message
// per upload request up to date.
type Telegram struct {
	token       string
	apiEndpoint string
	allowFrom   []int64 // empty = allow all
	parseMode   string
	maxBytes    int64
	summary     func() string
	stats       StatsSource

	bot      botAPI
	username string
	bus      domain.MessageBus
	logger   *slog.Logger
	sleep    func(time.Duration)

	statusMu sync.Mutex
	status   map[string]int // status key -> message ID
}

var _ domain.Channel = (*Telegram)(nil)

type TelegramConfig struct {
	Token       string
	APIEndpoint string
	AllowFrom   []string // user IDs as strings
	ParseMode   string
	MaxBytes    int64         // declared size limit, 0 = none
	Summary     func() string // configuration summary for /status and /settings, secrets masked
	Stats       StatsSource   // optional
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		apiEndpoint: cfg.APIEndpoint,
		allowFrom:   allowed,
		parseMode:   cfg.ParseMode,
		maxBytes:    cfg.MaxBytes,
		summary:     cfg.Summary,
		stats:       cfg.Stats,
		logger:      cfg.Logger.With("channel", telegramName),
		sleep:       time.Sleep,
		status:      make(map[string]int),
	}
}

func (t *Telegram) Name() string { return telegramName }

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if t.apiEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.apiEndpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(t.token)
	}
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.attach(bot, bot.Self.UserName, bus)
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)
	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) attach(bot botAPI, username string, bus domain.MessageBus) {
	t.bot = bot
	t.username = username
	t.bus = bus
	bus.OnOutbound(telegramName, t.deliver)
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates must not be called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendText(id, content, "")
	return nil
}

// FileURL resolves a file ID to a download URL. The URL contains the bot
// token and must not be logged.
func (t *Telegram) FileURL(ctx context.Context, fileID string) (string, error) {
	if t.bot == nil {
		return "", errors.New("telegram bot not connected")
	}
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get telegram file: %w", err)
	}
	return url, nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", msg.From.UserName)
		t.sendText(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.", "")
		return
	}

	if msg.IsCommand() {
		t.handleCommand(ctx, chatID, msg)
		return
	}

	att, hint := t.attachment(msg)
	if att == nil {
		if hint != "" {
			t.sendText(chatID, hint, "")
		}
		return
	}

	t.logger.Info("video received",
		"user_id", userID,
		"chat_id", chatID,
		"file", att.FileName,
		"size", att.Size,
	)
	t.bus.Publish(domain.InboundMessage{
		Kind:       domain.InboundUpload,
		Channel:    telegramName,
		ChatID:     strconv.FormatInt(chatID, 10),
		SenderID:   strconv.FormatInt(userID, 10),
		Caption:    msg.Caption,
		Attachment: att,
		Timestamp:  time.Unix(int64(msg.Date), 0),
	})
}

// attachment extracts a video from msg. When there is none, or it is
// rejected, the returned hint explains why.
func (t *Telegram) attachment(msg *tgbotapi.Message) (*domain.Attachment, string) {
	var att *domain.Attachment
	switch {
	case msg.Video != nil:
		v := msg.Video
		att = &domain.Attachment{FileID: v.FileID, FileName: v.FileName, MimeType: v.MimeType, Size: int64(v.FileSize)}
		if att.FileName == "" {
			att.FileName = "video.mp4"
		}
	case msg.Document != nil:
		d := msg.Document
		if !isVideoDocument(d.FileName, d.MimeType) {
			return nil, "📄 That file does not look like a video. Supported formats: " + strings.Join(media.VideoExtensions, " ")
		}
		att = &domain.Attachment{FileID: d.FileID, FileName: d.FileName, MimeType: d.MimeType, Size: int64(d.FileSize)}
	case msg.Animation != nil, len(msg.Photo) > 0, msg.Audio != nil, msg.Voice != nil, msg.Sticker != nil:
		return nil, "Only videos can be uploaded. Send the video as a video or as a file."
	case strings.TrimSpace(msg.Text) != "":
		return nil, "Send me a video (with an optional caption) and I will upload it. Type /help for the caption format."
	default:
		return nil, ""
	}

	if t.maxBytes > 0 && att.Size > t.maxBytes {
		return nil, fmt.Sprintf("❌ This video is %s, over the %s limit.\n\nCompress it or trim it, then send it again as a video or as a file.",
			humanize.IBytes(uint64(att.Size)), humanize.IBytes(uint64(t.maxBytes)))
	}
	return att, ""
}

func isVideoDocument(name, mime string) bool {
	if strings.HasPrefix(mime, "video/") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range media.VideoExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	_, _ = t.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	if !t.isAllowed(cq.From.ID) {
		return
	}
	requestID, index, ok := parseChoice(cq.Data)
	if !ok {
		t.logger.Debug("ignoring callback", "data", cq.Data)
		return
	}

	// Drop the keyboard so the choice cannot be made twice.
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Send(edit)

	t.bus.Publish(domain.InboundMessage{
		Kind:        domain.InboundChoice,
		Channel:     telegramName,
		ChatID:      strconv.FormatInt(chatID, 10),
		SenderID:    strconv.FormatInt(cq.From.ID, 10),
		RequestID:   requestID,
		ChoiceIndex: index,
		Timestamp:   time.Now(),
	})
}

func choiceData(requestID string, index int) string {
	return choicePrefix + requestID + ":" + strconv.Itoa(index)
}

func parseChoice(data string) (requestID string, index int, ok bool) {
	rest, found := strings.CutPrefix(data, choicePrefix)
	if !found {
		return "", 0, false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return rest[:i], n, true
}

const helpText = `📖 *How to upload*

Send a video (as a video or as a file). The caption becomes the metadata:

  line 1: title
  next lines: description
  #hashtags at the end: tags

Anything you leave out is filled in for you.

Commands:
/status - bot status and settings
/stats - upload history
/settings - current configuration
/cancel - about cancelling uploads
/help - this message`

const cloudLimitNote = "\n\nNote: Telegram lets bots download files up to 20 MB. Larger videos need a self-hosted Bot API server."

func (t *Telegram) help() string {
	if t.apiEndpoint == "" {
		return helpText + cloudLimitNote
	}
	return helpText
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendText(chatID, "👋 Hi! Send me a video and I will publish it on your channel.\n\n"+t.help(), t.parseMode)
	case "help":
		t.sendText(chatID, t.help(), t.parseMode)
	case "status":
		text := fmt.Sprintf("🟢 Online\n\nBot: @%s\nYour ID: %d\nQueued: %d", t.username, msg.From.ID, t.queued())
		if t.summary != nil {
			text += "\n\n" + t.summary()
		}
		t.sendText(chatID, text, "")
	case "settings":
		text := "No settings available."
		if t.summary != nil {
			text = "⚙️ Settings\n\n" + t.summary() + "\n\nSettings are changed in the config file on the server."
		}
		t.sendText(chatID, text, "")
	case "stats":
		t.sendText(chatID, t.statsText(ctx), "")
	case "cancel":
		t.sendText(chatID, "Uploads cannot be cancelled once they have started: the site keeps a submitted video even if the bot stops. If a channel choice is pending, simply ignore it and it will expire.", "")
	default:
		t.sendText(chatID, "Unknown command. Type /help for available commands.", "")
	}
}

func (t *Telegram) queued() int {
	if p, ok := t.bus.(interface{ Pending() int }); ok {
		return p.Pending()
	}
	return 0
}

func (t *Telegram) statsText(ctx context.Context) string {
	if t.stats == nil {
		return "Upload history is disabled."
	}
	st, err := t.stats.Stats(ctx)
	if err != nil {
		t.logger.Warn("stats query failed", "error", err)
		return "Upload history is unavailable right now."
	}
	if st.Total == 0 {
		return "📊 No uploads yet."
	}
	return fmt.Sprintf("📊 Uploads: %d\n\n✅ Published: %d\n⚠️ Unconfirmed: %d\n❌ Failed: %d\n\nLast upload: %s",
		st.Total,
		st.ByStatus[domain.StatusSuccess],
		st.ByStatus[domain.StatusUnconfirmed],
		st.ByStatus[domain.StatusFailed],
		humanize.Time(st.LastAt),
	)
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// deliver renders an outbound message. Messages sharing a status key edit
// one status message; a prompt with choices is sent fresh so the user is
// notified.
func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
		return
	}
	parseMode := formatToParseMode(msg.Format)

	if len(msg.Choices) > 0 {
		m := tgbotapi.NewMessage(chatID, msg.Content)
		m.ParseMode = parseMode
		m.ReplyMarkup = choiceKeyboard(msg.StatusKey, msg.Choices)
		sent, err := t.bot.Send(m)
		if err != nil {
			t.logger.Error("send channel choice failed", "err", err)
			return
		}
		t.setStatus(msg.StatusKey, sent.MessageID, msg.Final)
		return
	}

	if msg.StatusKey == "" {
		t.sendText(chatID, msg.Content, parseMode)
		return
	}

	if id, ok := t.statusID(msg.StatusKey); ok && len(msg.Content) <= telegramMaxMsgLen {
		edit := tgbotapi.NewEditMessageText(chatID, id, msg.Content)
		edit.ParseMode = parseMode
		_, err := t.bot.Send(edit)
		if err == nil || strings.Contains(err.Error(), "message is not modified") {
			t.setStatus(msg.StatusKey, id, msg.Final)
			return
		}
		t.logger.Debug("status edit failed, sending new message", "err", err)
	}
	id := t.sendText(chatID, msg.Content, parseMode)
	t.setStatus(msg.StatusKey, id, msg.Final)
}

func choiceKeyboard(key string, choices []domain.ChannelOption) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for i, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c.Name, choiceData(key, i)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatToParseMode(format string) string {
	switch strings.ToLower(format) {
	case "markdown":
		return tgbotapi.ModeMarkdown
	case "html":
		return tgbotapi.ModeHTML
	}
	return ""
}

func (t *Telegram) statusID(key string) (int, bool) {
	t.statusMu.Lock()
	defer t.statusMu.Unlock()
	id, ok := t.status[key]
	return id, ok
}

// setStatus remembers id as key's status message; final forgets the key.
func (t *Telegram) setStatus(key string, id int, final bool) {
	t.statusMu.Lock()
	defer t.statusMu.Unlock()
	if final || id == 0 {
		delete(t.status, key)
		return
	}
	t.status[key] = id
}

// sendText sends text split into chunks and returns the ID of the last
// message sent, 0 when every send failed.
func (t *Telegram) sendText(chatID int64, text, parseMode string) int {
	last := 0
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if id := t.sendChunk(chatID, chunk, parseMode); id != 0 {
			last = id
		}
	}
	return last
}

// splitMessage cuts text into pieces of at most maxLen bytes, preferring
// line breaks in the second half of a piece.
func splitMessage(text string, maxLen int) []string {
	var out []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8Start(text[cutAt]) {
				cutAt--
			}
		}
		out = append(out, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// sendChunk sends one message. It tries parseMode first and falls back to
// plain text on a parse error; rate limits and other errors back off
// linearly.
func (t *Telegram) sendChunk(chatID int64, text, parseMode string) int {
	mode := parseMode
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = mode

		sent, err := t.bot.Send(msg)
		if err == nil {
			return sent.MessageID
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			t.sleep(retryAfter)
			continue
		}
		if mode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram parse error, retrying as plain text", "err", err, "parseMode", mode)
			mode = ""
			continue
		}
		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			t.sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
	return 0
}
