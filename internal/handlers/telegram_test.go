package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/dialog"
	"github.com/markjakearzadon/payentry-bot/internal/services"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	fileURL  string
	sendErr  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.sendErr
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	if b.fileURL == "" {
		return "", errors.New("file not found")
	}
	return b.fileURL + "/" + fileID, nil
}

func (b *fakeBot) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (b *fakeBot) messages() []tgbotapi.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, 0, len(b.sent))
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

type recordingDialog struct {
	mu      sync.Mutex
	events  []dialog.Event
	replies []dialog.Reply
}

func (d *recordingDialog) Handle(_ context.Context, ev dialog.Event) []dialog.Reply {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.replies
}

func textUpdate(chatID, fromID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: fromID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}}
}

func TestToEvent(t *testing.T) {
	cmd := textUpdate(10, 20, "/Start")
	cmd.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}

	tests := []struct {
		name   string
		update tgbotapi.Update
		want   dialog.Event
		ok     bool
	}{
		{
			name:   "text",
			update: textUpdate(10, 20, "hello"),
			want:   dialog.Event{ChatID: 10, CallerID: 20, Kind: dialog.EventText, Text: "hello"},
			ok:     true,
		},
		{
			name:   "command",
			update: cmd,
			want:   dialog.Event{ChatID: 10, CallerID: 20, Kind: dialog.EventCommand, Text: "start"},
			ok:     true,
		},
		{
			name: "callback",
			update: tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
				ID:      "cb-1",
				From:    &tgbotapi.User{ID: 20},
				Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 10}},
				Data:    "prod:3",
			}},
			want: dialog.Event{ChatID: 10, CallerID: 20, Kind: dialog.EventChoice, Data: "prod:3"},
			ok:   true,
		},
		{
			name: "photo picks largest size",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				From:  &tgbotapi.User{ID: 20},
				Chat:  &tgbotapi.Chat{ID: 10},
				Photo: []tgbotapi.PhotoSize{{FileID: "small", FileSize: 10}, {FileID: "large", FileSize: 900}},
			}},
			want: dialog.Event{ChatID: 10, CallerID: 20, Kind: dialog.EventMedia,
				Media: &dialog.Media{FileID: "large", Size: 900, Photo: true}},
			ok: true,
		},
		{
			name: "document",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				From:     &tgbotapi.User{ID: 20},
				Chat:     &tgbotapi.Chat{ID: 10},
				Document: &tgbotapi.Document{FileID: "doc", FileName: "receipt.pdf", MimeType: "application/pdf", FileSize: 42},
			}},
			want: dialog.Event{ChatID: 10, CallerID: 20, Kind: dialog.EventMedia,
				Media: &dialog.Media{FileID: "doc", FileName: "receipt.pdf", MIMEType: "application/pdf", Size: 42}},
			ok: true,
		},
		{
			name:   "channel post",
			update: tgbotapi.Update{ChannelPost: &tgbotapi.Message{Text: "x"}},
			ok:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToEvent(tt.update)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNewReplyMessage(t *testing.T) {
	msg := NewReplyMessage(10, dialog.Reply{
		Text: "<b>Check</b>",
		HTML: true,
		Options: [][]dialog.Option{
			{{Label: "✅ Send", Data: "review:send"}},
			{{Label: "❌ Cancel", Data: "review:cancel"}},
		},
	})
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "review:send", *kb.InlineKeyboard[0][0].CallbackData)

	plain := NewReplyMessage(10, dialog.Reply{Text: "hi"})
	assert.Empty(t, plain.ParseMode)
	assert.Nil(t, plain.ReplyMarkup)
}

func TestHandleUpdate_AcksCallbacksAndSendsReplies(t *testing.T) {
	bot := &fakeBot{}
	d := &recordingDialog{replies: []dialog.Reply{{Text: "one"}, {Text: "two"}}}
	h := NewTelegramHandler(bot, d, "", zap.NewNop())

	h.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 20},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 10}},
		Data:    "amount:ok",
	}})

	require.Len(t, bot.requests, 1)
	cb, ok := bot.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-1", cb.CallbackQueryID)

	msgs := bot.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, int64(10), msgs[1].ChatID)
}

func TestPoll_KeepsPerChatOrder(t *testing.T) {
	bot := &fakeBot{}
	d := &recordingDialog{}
	h := NewTelegramHandler(bot, d, "", zap.NewNop())

	updates := make(chan tgbotapi.Update)
	done := make(chan struct{})
	go func() {
		h.Poll(context.Background(), updates)
		close(done)
	}()

	words := []string{"a", "b", "c", "d", "e", "f"}
	for _, w := range words {
		updates <- textUpdate(10, 20, w)
		updates <- textUpdate(11, 21, w)
	}
	close(updates)
	<-done

	var chat10 []string
	for _, ev := range d.events {
		if ev.ChatID == 10 {
			chat10 = append(chat10, ev.Text)
		}
	}
	assert.Equal(t, words, chat10)
	assert.Len(t, d.events, 12)
}

func TestWebhook(t *testing.T) {
	bot := &fakeBot{}
	d := &recordingDialog{replies: []dialog.Reply{{Text: "ok"}}}
	tg := NewTelegramHandler(bot, d, "s3cret", zap.NewNop())
	router := NewRouter(tg, nil)

	body := `{"update_id":1,"message":{"message_id":5,"from":{"id":20},"chat":{"id":10,"type":"private"},"date":0,"text":"hello"}}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/wrong", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, d.events)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/s3cret", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/s3cret", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.events, 1)
	assert.Equal(t, "hello", d.events[0].Text)
	assert.Len(t, bot.messages(), 1)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestTelegramFiles_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/file/photo-1" {
			_, _ = w.Write([]byte("jpeg bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	files := NewTelegramFiles(&fakeBot{fileURL: srv.URL + "/file"}, srv.Client())
	body, err := files.Fetch(context.Background(), "photo-1")
	require.NoError(t, err)
	raw, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "jpeg bytes", string(raw))

	_, err = files.Fetch(context.Background(), "missing")
	assert.Error(t, err)

	_, err = NewTelegramFiles(&fakeBot{}, nil).Fetch(context.Background(), "x")
	assert.Error(t, err)
}

type fakeProofs map[string]string

func (f fakeProofs) Open(id string) (io.ReadCloser, string, error) {
	if id == "broken" {
		return nil, "", errors.New("db down")
	}
	body, ok := f[id]
	if !ok {
		return nil, "", services.ErrProofNotFound
	}
	return io.NopCloser(strings.NewReader(body)), "image/jpeg", nil
}

func TestGetProof(t *testing.T) {
	router := NewRouter(nil, NewProofHandler(fakeProofs{"abc": "jpeg"}, zap.NewNop()))

	tests := []struct {
		path string
		code int
	}{
		{path: "/proofs/abc", code: http.StatusOK},
		{path: "/proofs/nope", code: http.StatusNotFound},
		{path: "/proofs/broken", code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, rec.Code, tt.path)
		if tt.code == http.StatusOK {
			assert.Equal(t, "jpeg", rec.Body.String())
			assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
		}
	}
}
