package channel

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rumblebot/internal/bus"
	"rumblebot/internal/domain"
	"rumblebot/internal/history"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
	fail     func(c tgbotapi.Chattable, call int) error
	calls    int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(c, f.calls); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	if fileID == "missing" {
		return "", errors.New("Bad Request: file not found")
	}
	return "https://api.telegram.org/file/botTOKEN/" + fileID, nil
}

func (f *fakeBot) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, "edit:"+m.Text)
		}
	}
	return out
}

func newTestTelegram(t *testing.T, cfg TelegramConfig) (*Telegram, *fakeBot, *bus.InMemoryBus) {
	t.Helper()
	cfg.Logger = testLogger()
	tg := NewTelegram(cfg)
	tg.sleep = func(time.Duration) {}
	fb := &fakeBot{}
	b := bus.New(8, testLogger())
	tg.attach(fb, "rumble_test_bot", b)
	return tg, fb, b
}

func userMessage(userID int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: 100},
		Date:      int(time.Now().Unix()),
	}
}

func command(userID int64, text string) *tgbotapi.Message {
	m := userMessage(userID)
	m.Text = text
	name := strings.Fields(text)[0]
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}}
	return m
}

func receive(t *testing.T, b *bus.InMemoryBus) domain.InboundMessage {
	t.Helper()
	select {
	case msg := <-b.Subscribe():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no inbound message published")
		return domain.InboundMessage{}
	}
}

func TestTelegram_VideoPublishesUpload(t *testing.T) {
	tg, _, b := newTestTelegram(t, TelegramConfig{})

	m := userMessage(42)
	m.Caption = "My title\n#one"
	m.Video = &tgbotapi.Video{FileID: "vid1", FileName: "clip.mp4", MimeType: "video/mp4", FileSize: 2048}
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})

	got := receive(t, b)
	if got.Kind != domain.InboundUpload || got.ChatID != "100" || got.SenderID != "42" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if got.Caption != "My title\n#one" {
		t.Errorf("caption = %q", got.Caption)
	}
	if got.Attachment == nil || got.Attachment.FileID != "vid1" || got.Attachment.Size != 2048 {
		t.Errorf("attachment = %+v", got.Attachment)
	}
}

func TestTelegram_VideoWithoutNameGetsDefault(t *testing.T) {
	tg, _, b := newTestTelegram(t, TelegramConfig{})
	m := userMessage(42)
	m.Video = &tgbotapi.Video{FileID: "vid1"}
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if got := receive(t, b); got.Attachment.FileName != "video.mp4" {
		t.Errorf("file name = %q", got.Attachment.FileName)
	}
}

func TestTelegram_DocumentVideoAccepted(t *testing.T) {
	tg, _, b := newTestTelegram(t, TelegramConfig{})
	m := userMessage(42)
	m.Document = &tgbotapi.Document{FileID: "doc1", FileName: "raw.MKV", MimeType: "application/octet-stream"}
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if got := receive(t, b); got.Attachment.FileID != "doc1" {
		t.Errorf("attachment = %+v", got.Attachment)
	}
}

func TestTelegram_NonVideoGetsHint(t *testing.T) {
	tg, fb, b := newTestTelegram(t, TelegramConfig{})
	m := userMessage(42)
	m.Document = &tgbotapi.Document{FileID: "doc1", FileName: "notes.pdf", MimeType: "application/pdf"}
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})

	m = userMessage(42)
	m.Text = "hello"
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if b.Pending() != 0 {
		t.Fatalf("expected nothing published, got %d", b.Pending())
	}
	texts := fb.texts()
	if len(texts) != 2 || !strings.Contains(texts[0], "does not look like a video") || !strings.Contains(texts[1], "Send me a video") {
		t.Errorf("unexpected replies: %q", texts)
	}
}

func TestTelegram_DeclaredSizeOverLimit(t *testing.T) {
	tg, fb, b := newTestTelegram(t, TelegramConfig{MaxBytes: 1 << 20})
	m := userMessage(42)
	m.Video = &tgbotapi.Video{FileID: "big", FileName: "big.mp4", FileSize: 5 << 20}
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})

	if b.Pending() != 0 {
		t.Fatal("oversized video must not be queued")
	}
	texts := fb.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "5.0 MiB") || !strings.Contains(texts[0], "1.0 MiB limit") {
		t.Errorf("unexpected reply: %q", texts)
	}
}

func TestTelegram_AllowList(t *testing.T) {
	tg, fb, b := newTestTelegram(t, TelegramConfig{AllowFrom: []string{"42", " 7 ", "bogus"}})

	m := userMessage(99)
	m.Video = &tgbotapi.Video{FileID: "vid"}
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})
	if b.Pending() != 0 {
		t.Fatal("unauthorized upload was queued")
	}
	if texts := fb.texts(); len(texts) != 1 || !strings.Contains(texts[0], "Unauthorized") {
		t.Errorf("unexpected replies: %q", texts)
	}

	m = userMessage(7)
	m.Video = &tgbotapi.Video{FileID: "vid"}
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: m})
	receive(t, b)
}

func TestTelegram_ChoiceCallback(t *testing.T) {
	tg, fb, b := newTestTelegram(t, TelegramConfig{})
	cq := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 100}},
		Data:    choiceData("req-1", 2),
	}
	tg.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: cq})

	got := receive(t, b)
	if got.Kind != domain.InboundChoice || got.RequestID != "req-1" || got.ChoiceIndex != 2 || got.ChatID != "100" {
		t.Fatalf("unexpected choice: %+v", got)
	}
	if len(fb.requests) != 1 {
		t.Errorf("callback not answered")
	}
	if len(fb.sent) != 1 {
		t.Fatalf("expected keyboard removal, got %d sends", len(fb.sent))
	}
	if _, ok := fb.sent[0].(tgbotapi.EditMessageReplyMarkupConfig); !ok {
		t.Errorf("expected reply markup edit, got %T", fb.sent[0])
	}
}

func TestTelegram_ChoiceCallbackFromStranger(t *testing.T) {
	tg, _, b := newTestTelegram(t, TelegramConfig{AllowFrom: []string{"42"}})
	cq := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 100}},
		Data:    choiceData("req-1", 0),
	}
	tg.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: cq})
	if b.Pending() != 0 {
		t.Fatal("choice from unauthorized user was queued")
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		data  string
		id    string
		index int
		ok    bool
	}{
		{"ch:abc:1", "abc", 1, true},
		{"ch:a:b:0", "a:b", 0, true},
		{"ch:abc", "", 0, false},
		{"ch::1", "", 0, false},
		{"ch:abc:-1", "", 0, false},
		{"ch:abc:x", "", 0, false},
		{"other:abc:1", "", 0, false},
	}
	for _, tt := range tests {
		id, index, ok := parseChoice(tt.data)
		if id != tt.id || index != tt.index || ok != tt.ok {
			t.Errorf("parseChoice(%q) = %q, %d, %v", tt.data, id, index, ok)
		}
	}
}

func TestTelegram_StatusMessageEditedInPlace(t *testing.T) {
	_, fb, b := newTestTelegram(t, TelegramConfig{})

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "100", Content: "received", StatusKey: "r1"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "100", Content: "signed in", StatusKey: "r1"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "100", Content: "done", StatusKey: "r1", Final: true})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "100", Content: "next", StatusKey: "r1"})

	want := []string{"received", "edit:signed in", "edit:done", "next"}
	got := fb.texts()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("texts = %q, want %q", got, want)
	}
	edit := fb.sent[1].(tgbotapi.EditMessageTextConfig)
	if edit.MessageID != 1 {
		t.Errorf("edited message %d, want 1", edit.MessageID)
	}
}

func TestTelegram_FailedEditSendsNewMessage(t *testing.T) {
	_, fb, b := newTestTelegram(t, TelegramConfig{})
	fb.fail = func(c tgbotapi.Chattable, _ int) error {
		if _, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			return errors.New("Bad Request: message to edit not found")
		}
		return nil
	}
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "100", Content: "one", StatusKey: "r1"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "100", Content: "two", StatusKey: "r1"})

	if got := fb.texts(); strings.Join(got, "|") != "one|two" {
		t.Errorf("texts = %q", got)
	}
}

func TestTelegram_ChoicePromptHasKeyboard(t *testing.T) {
	_, fb, b := newTestTelegram(t, TelegramConfig{})
	b.SendOutbound(domain.OutboundMessage{
		Channel:   "telegram",
		ChatID:    "100",
		Content:   "pick",
		StatusKey: "r1",
		Choices:   []domain.ChannelOption{{Name: "Main"}, {Name: "Second"}},
	})

	m, ok := fb.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("expected message, got %T", fb.sent[0])
	}
	kb, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("unexpected keyboard: %#v", m.ReplyMarkup)
	}
	btn := kb.InlineKeyboard[1][0]
	if btn.Text != "Second" || btn.CallbackData == nil || *btn.CallbackData != "ch:r1:1" {
		t.Errorf("unexpected button: %+v", btn)
	}
}

func TestTelegram_ParseErrorFallsBackToPlain(t *testing.T) {
	tg, fb, _ := newTestTelegram(t, TelegramConfig{})
	fb.fail = func(c tgbotapi.Chattable, _ int) error {
		if m, ok := c.(tgbotapi.MessageConfig); ok && m.ParseMode != "" {
			return errors.New("Bad Request: can't parse entities")
		}
		return nil
	}
	if id := tg.sendText(100, "*broken", tgbotapi.ModeMarkdown); id == 0 {
		t.Fatal("expected plain text retry to succeed")
	}
	if m := fb.sent[0].(tgbotapi.MessageConfig); m.ParseMode != "" {
		t.Errorf("parse mode = %q", m.ParseMode)
	}
}

func TestTelegram_RateLimitRetries(t *testing.T) {
	tg, fb, _ := newTestTelegram(t, TelegramConfig{})
	var slept []time.Duration
	tg.sleep = func(d time.Duration) { slept = append(slept, d) }
	fb.fail = func(_ tgbotapi.Chattable, call int) error {
		if call <= 2 {
			return errors.New("Too Many Requests: retry after 3")
		}
		return nil
	}
	if id := tg.sendText(100, "hi", ""); id == 0 {
		t.Fatal("send should eventually succeed")
	}
	if len(slept) != 2 || slept[0] != 3*time.Second || slept[1] != 6*time.Second {
		t.Errorf("backoff = %v", slept)
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	parts := splitMessage(long, 40)
	if len(parts) != 2 || parts[0] != strings.Repeat("a", 30) {
		t.Errorf("parts = %q", parts)
	}
	if splitMessage("", 40) != nil {
		t.Error("empty text should produce no parts")
	}

	// No usable newline: cut on a rune boundary.
	runes := strings.Repeat("é", 30)
	for _, p := range splitMessage(runes, 11) {
		if !strings.HasPrefix(p, "é") || len(p) > 11 {
			t.Errorf("bad part %q", p)
		}
	}
}

type fakeStats struct {
	st  history.Stats
	err error
}

func (f fakeStats) Stats(context.Context) (history.Stats, error) { return f.st, f.err }

func TestTelegram_Commands(t *testing.T) {
	tg, fb, _ := newTestTelegram(t, TelegramConfig{
		Summary: func() string { return "Account: a***@example.com" },
		Stats: fakeStats{st: history.Stats{
			Total:    3,
			ByStatus: map[domain.UploadStatus]int{domain.StatusSuccess: 2, domain.StatusFailed: 1},
			LastAt:   time.Now().Add(-time.Hour),
		}},
	})
	ctx := context.Background()
	for _, c := range []string{"/start", "/help", "/status", "/stats", "/settings", "/cancel", "/nope"} {
		tg.handleUpdate(ctx, tgbotapi.Update{Message: command(42, c)})
	}
	texts := fb.texts()
	if len(texts) != 7 {
		t.Fatalf("expected 7 replies, got %d: %q", len(texts), texts)
	}
	checks := []string{"Send me a video", "How to upload", "a***@example.com", "Published: 2", "Settings", "cannot be cancelled", "Unknown command"}
	for i, want := range checks {
		if !strings.Contains(texts[i], want) {
			t.Errorf("reply %d = %q, want it to contain %q", i, texts[i], want)
		}
	}
}

func TestTelegram_HelpMentionsCloudLimit(t *testing.T) {
	tg, fb, _ := newTestTelegram(t, TelegramConfig{})
	tg.handleUpdate(context.Background(), tgbotapi.Update{Message: command(42, "/help")})

	self, fb2, _ := newTestTelegram(t, TelegramConfig{APIEndpoint: "http://localhost:8081/bot%s/%s"})
	self.handleUpdate(context.Background(), tgbotapi.Update{Message: command(42, "/help")})

	if texts := fb.texts(); len(texts) != 1 || !strings.Contains(texts[0], "20 MB") {
		t.Errorf("cloud help = %q", texts)
	}
	if texts := fb2.texts(); len(texts) != 1 || strings.Contains(texts[0], "20 MB") {
		t.Errorf("self-hosted help = %q", texts)
	}
}

func TestTelegram_StatsUnavailable(t *testing.T) {
	tg, _, _ := newTestTelegram(t, TelegramConfig{Stats: fakeStats{err: errors.New("db closed")}})
	if got := tg.statsText(context.Background()); !strings.Contains(got, "unavailable") {
		t.Errorf("stats text = %q", got)
	}
	tg.stats = nil
	if got := tg.statsText(context.Background()); !strings.Contains(got, "disabled") {
		t.Errorf("stats text = %q", got)
	}
}

func TestTelegram_FileURL(t *testing.T) {
	tg, _, _ := newTestTelegram(t, TelegramConfig{})
	url, err := tg.FileURL(context.Background(), "abc")
	if err != nil || !strings.HasSuffix(url, "/abc") {
		t.Fatalf("FileURL = %q, %v", url, err)
	}
	if _, err := tg.FileURL(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing file")
	}
}
