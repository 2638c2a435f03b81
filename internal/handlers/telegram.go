package handlers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/dialog"
)

// BotAPI is the part of the Telegram client the handlers use.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// Dialog processes one inbound event and returns the replies.
type Dialog interface {
	Handle(ctx context.Context, ev dialog.Event) []dialog.Reply
}

// DefaultWorkers is the number of poll workers. Updates of one chat always
// land on the same worker, so they are handled in arrival order.
const DefaultWorkers = 8

type TelegramHandler struct {
	bot     BotAPI
	dialog  Dialog
	secret  string
	workers int
	logger  *zap.Logger
}

func NewTelegramHandler(bot BotAPI, d Dialog, webhookSecret string, logger *zap.Logger) *TelegramHandler {
	return &TelegramHandler{
		bot:     bot,
		dialog:  d,
		secret:  webhookSecret,
		workers: DefaultWorkers,
		logger:  logger,
	}
}

// ToEvent converts a Telegram update into a dialog event. Updates without a
// sender or chat are skipped.
func ToEvent(u tgbotapi.Update) (dialog.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return dialog.Event{}, false
		}
		chatID := cq.From.ID
		if cq.Message != nil && cq.Message.Chat != nil {
			chatID = cq.Message.Chat.ID
		}
		return dialog.Event{ChatID: chatID, CallerID: cq.From.ID, Kind: dialog.EventChoice, Data: cq.Data}, true
	}

	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return dialog.Event{}, false
	}
	ev := dialog.Event{ChatID: msg.Chat.ID, CallerID: msg.From.ID, Kind: dialog.EventText}

	switch {
	case msg.IsCommand():
		ev.Kind = dialog.EventCommand
		ev.Text = strings.ToLower(msg.Command())
	case len(msg.Photo) > 0:
		// Telegram lists photo sizes smallest first.
		p := msg.Photo[len(msg.Photo)-1]
		ev.Kind = dialog.EventMedia
		ev.Media = &dialog.Media{FileID: p.FileID, Size: p.FileSize, Photo: true}
	case msg.Document != nil:
		ev.Kind = dialog.EventMedia
		ev.Media = &dialog.Media{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MIMEType: msg.Document.MimeType,
			Size:     msg.Document.FileSize,
		}
	default:
		ev.Text = msg.Text
	}
	return ev, true
}

// HandleUpdate acknowledges callbacks, runs the dialog and sends its replies.
func (h *TelegramHandler) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	if cq := u.CallbackQuery; cq != nil {
		if _, err := h.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			h.logger.Warn("failed to answer callback", zap.String("callback_id", cq.ID), zap.Error(err))
		}
	}

	ev, ok := ToEvent(u)
	if !ok {
		h.logger.Debug("skipping update", zap.Int("update_id", u.UpdateID))
		return
	}

	for _, r := range h.dialog.Handle(ctx, ev) {
		if _, err := h.bot.Send(NewReplyMessage(ev.ChatID, r)); err != nil {
			h.logger.Error("failed to send reply", zap.Int64("chat_id", ev.ChatID), zap.Error(err))
		}
	}
}

// NewReplyMessage renders a dialog reply, attaching an inline keyboard to
// choice prompts.
func NewReplyMessage(chatID int64, r dialog.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if r.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
	}
	if len(r.Options) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(r.Options))
		for _, opts := range r.Options {
			row := make([]tgbotapi.InlineKeyboardButton, 0, len(opts))
			for _, o := range opts {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(o.Label, o.Data))
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return msg
}

// Poll handles updates until ctx is done or the channel closes, then waits
// for the updates in flight.
func (h *TelegramHandler) Poll(ctx context.Context, updates <-chan tgbotapi.Update) {
	queues := make([]chan tgbotapi.Update, h.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, 16)
		wg.Add(1)
		go func(q <-chan tgbotapi.Update) {
			defer wg.Done()
			for u := range q {
				h.HandleUpdate(ctx, u)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			queues[shard(u, h.workers)] <- u
		}
	}
}

func shard(u tgbotapi.Update, n int) int {
	ev, ok := ToEvent(u)
	if !ok {
		return 0
	}
	id := ev.ChatID
	if id < 0 {
		id = -id
	}
	return int(id % int64(n))
}

// Webhook accepts updates posted by Telegram to /telegram/{secret}.
func (h *TelegramHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	got := mux.Vars(r)["secret"]
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	u, err := h.bot.HandleUpdate(r)
	if err != nil {
		h.logger.Warn("invalid webhook update", zap.Error(err))
		http.Error(w, `{"error":"invalid update"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), time.Minute)
	defer cancel()
	h.HandleUpdate(ctx, *u)
	w.WriteHeader(http.StatusOK)
}

// TelegramFiles downloads attachments through the Bot API file endpoint.
type TelegramFiles struct {
	bot    BotAPI
	client *http.Client
}

func NewTelegramFiles(bot BotAPI, client *http.Client) *TelegramFiles {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TelegramFiles{bot: bot, client: client}
}

func (f *TelegramFiles) Fetch(ctx context.Context, fileID string) (io.ReadCloser, error) {
	link, err := f.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create file request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("file download status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
