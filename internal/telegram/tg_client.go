package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/localization"
	"supportdesk/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// botAPI is the part of *tgbotapi.BotAPI the client needs.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client delivers outgoing messages through the Bot API.
type Client struct {
	api  botAPI
	keys renderer
	log  logrus.FieldLogger
}

var _ chathub.Transport = (*Client)(nil)

func NewClient(api botAPI, l *localization.Localizer, log logrus.FieldLogger) *Client {
	return &Client{
		api:  api,
		keys: renderer{loc: l},
		log:  log.WithField("component", "telegram_client"),
	}
}

// Send implements chathub.Transport.
func (c *Client) Send(ctx context.Context, out chathub.Outgoing) (int, error) {
	chatID, err := parseChatID(out.ChatID)
	if err != nil {
		return 0, err
	}
	msg, err := c.build(chatID, out)
	if err != nil {
		return 0, err
	}

	sent, err := call(ctx, func() (tgbotapi.Message, error) { return c.api.Send(msg) })
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Edit implements chathub.Transport. Text messages get their text replaced,
// media messages their caption.
func (c *Client) Edit(ctx context.Context, e chathub.Edit) error {
	chatID, err := parseChatID(e.ChatID)
	if err != nil {
		return err
	}
	markup := c.keys.inline(e.Keyboard, e.Locale)

	var req tgbotapi.Chattable
	if e.Content.Kind == models.KindText || e.Content.Kind == "" {
		cfg := tgbotapi.NewEditMessageText(chatID, e.MessageID, e.Content.Text)
		cfg.ReplyMarkup = markup
		req = cfg
	} else {
		cfg := tgbotapi.NewEditMessageCaption(chatID, e.MessageID, e.Content.Text)
		cfg.ReplyMarkup = markup
		req = cfg
	}
	return c.request(ctx, req)
}

// ClearKeyboard implements chathub.Transport.
func (c *Client) ClearKeyboard(ctx context.Context, chatID string, messageID int) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	return c.request(ctx, tgbotapi.NewEditMessageReplyMarkup(id, messageID, empty))
}

func (c *Client) request(ctx context.Context, req tgbotapi.Chattable) error {
	_, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return c.api.Request(req) })
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		c.log.WithError(err).Debug("edit left message unchanged")
		return nil
	}
	return err
}

func (c *Client) build(chatID int64, out chathub.Outgoing) (tgbotapi.Chattable, error) {
	markup := c.keys.markup(out.Keyboard, out.Locale)
	content := out.Content
	file := tgbotapi.FileID(content.FileID)

	switch content.Kind {
	case models.KindText, "":
		msg := tgbotapi.NewMessage(chatID, content.Text)
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	case models.KindPhoto:
		msg := tgbotapi.NewPhoto(chatID, file)
		msg.Caption = content.Text
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	case models.KindVideo:
		msg := tgbotapi.NewVideo(chatID, file)
		msg.Caption = content.Text
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	case models.KindDocument:
		msg := tgbotapi.NewDocument(chatID, file)
		msg.Caption = content.Text
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	case models.KindVoice:
		msg := tgbotapi.NewVoice(chatID, file)
		msg.Caption = content.Text
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	case models.KindAudio:
		msg := tgbotapi.NewAudio(chatID, file)
		msg.Caption = content.Text
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	case models.KindSticker:
		msg := tgbotapi.NewSticker(chatID, file)
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	case models.KindVideoNote:
		msg := tgbotapi.NewVideoNote(chatID, 0, file)
		msg.ReplyToMessageID = out.ReplyTo
		msg.ReplyMarkup = markup
		return msg, nil
	}
	return nil, fmt.Errorf("unsupported content kind %q", content.Kind)
}

// call runs fn and gives up waiting when ctx is done. The request itself is
// bounded by the HTTP client timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}
