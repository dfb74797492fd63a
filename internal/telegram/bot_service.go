// Package telegram connects the support desk to the Telegram Bot API. It
// receives updates, turns them into chathub events and delivers outgoing
// messages.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/config"
	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/localization"
	"supportdesk/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Bot is the part of *tgbotapi.BotAPI the service needs.
type Bot interface {
	botAPI
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// EventHandler consumes decoded events.
type EventHandler interface {
	Handle(ctx context.Context, ev chathub.Event) error
}

// BotService is responsible for receiving Telegram updates and routing them to the handler.
// Updates of one chat are handled in arrival order; different chats run concurrently.
type BotService struct {
	Bot         Bot
	Handler     EventHandler
	Localizer   *localization.Localizer
	PollTimeout int
	QueueSize   int
	// IdleTimeout stops a chat's worker after that long without events.
	IdleTimeout time.Duration

	log     logrus.FieldLogger
	mu      sync.Mutex
	workers map[string]*chatWorker
	wg      sync.WaitGroup
}

// chatWorker serializes the events of one chat. pending counts events handed
// to dispatch but not yet taken by the worker and is guarded by BotService.mu.
type chatWorker struct {
	events  chan chathub.Event
	pending int
}

// NewBotService creates a new BotService instance.
func NewBotService(bot Bot, h EventHandler, l *localization.Localizer, log logrus.FieldLogger) *BotService {
	return &BotService{
		Bot:         bot,
		Handler:     h,
		Localizer:   l,
		PollTimeout: config.DefaultPollTimeout,
		QueueSize:   config.DefaultChatQueueSize,
		IdleTimeout: config.DefaultChatIdleTimeout,
		log:         log.WithField("component", "telegram_bot"),
		workers:     make(map[string]*chatWorker),
	}
}

// Run polls for updates until ctx is cancelled, then waits for queued events to drain.
func (s *BotService) Run(ctx context.Context) {
	s.setCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.PollTimeout
	updates := s.Bot.GetUpdatesChan(u)
	s.log.Info("listening for updates")

	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			s.Bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.dispatch(ctx, update)
		}
	}
}

func (s *BotService) dispatch(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		s.answerCallback(update.CallbackQuery)
	}

	ev, ok := ToEvent(update)
	if !ok {
		return
	}

	w := s.worker(ctx, ev.ChatID)
	select {
	case w.events <- ev:
	case <-ctx.Done():
		s.mu.Lock()
		w.pending--
		s.mu.Unlock()
	}
}

// worker returns the worker of a chat with one more pending event, starting
// its goroutine on first use.
func (s *BotService) worker(ctx context.Context, chatID string) *chatWorker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[chatID]; ok {
		w.pending++
		return w
	}
	w := &chatWorker{events: make(chan chathub.Event, s.QueueSize), pending: 1}
	s.workers[chatID] = w

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.work(context.WithoutCancel(ctx), chatID, w)
	}()
	return w
}

func (s *BotService) work(ctx context.Context, chatID string, w *chatWorker) {
	idle := time.NewTimer(s.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			s.mu.Lock()
			w.pending--
			s.mu.Unlock()
			s.handle(ctx, ev)
		case <-idle.C:
			if s.retire(chatID, w) {
				return
			}
		}
		idle.Reset(s.IdleTimeout)
	}
}

// retire removes an idle worker. It fails while dispatch still owes it an event.
func (s *BotService) retire(chatID string, w *chatWorker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.pending > 0 || s.workers[chatID] != w {
		return false
	}
	delete(s.workers, chatID)
	return true
}

func (s *BotService) handle(ctx context.Context, ev chathub.Event) {
	err := s.Handler.Handle(ctx, ev)
	if err == nil {
		return
	}

	entry := s.log.WithError(err).WithFields(logrus.Fields{"chat_id": ev.ChatID, "kind": ev.Kind})
	if errors.Is(err, chathub.ErrUserNotFound) || errors.Is(err, chathub.ErrOperatorNotFound) {
		entry.Warn("event for unknown participant dropped")
		return
	}
	entry.Error("failed to handle event")
}

func (s *BotService) shutdown() {
	s.mu.Lock()
	for id, w := range s.workers {
		close(w.events)
		delete(s.workers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *BotService) answerCallback(q *tgbotapi.CallbackQuery) {
	if _, err := s.Bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		s.log.WithError(err).WithField("callback_id", q.ID).Warn("failed to answer callback")
	}
}

// setCommands registers the command menu for every supported locale plus the
// unscoped fallback.
func (s *BotService) setCommands() {
	scope := tgbotapi.NewBotCommandScopeDefault()
	locales := []string{""}
	for _, l := range language.Members() {
		locales = append(locales, l.Locale())
	}

	for _, locale := range locales {
		key := locale
		if key == "" {
			key = localization.FallbackLocale
		}
		cmds := s.commands(key)
		if _, err := s.Bot.Request(tgbotapi.NewSetMyCommandsWithScopeAndLanguage(scope, locale, cmds...)); err != nil {
			s.log.WithError(err).WithField("locale", locale).Warn("failed to set bot commands")
		}
	}
}

func (s *BotService) commands(locale string) []tgbotapi.BotCommand {
	names := []string{"start", "help", "lang", "begin", "end"}
	out := make([]tgbotapi.BotCommand, 0, len(names))
	for _, n := range names {
		out = append(out, tgbotapi.BotCommand{
			Command:     n,
			Description: s.Localizer.GetString(locale, "command_"+n),
		})
	}
	return out
}

// ToEvent decodes an update. It reports false for updates the desk ignores:
// non-private chats, unknown callbacks and update types it does not handle.
func ToEvent(update tgbotapi.Update) (chathub.Event, bool) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if !msg.Chat.IsPrivate() {
			return chathub.Event{}, false
		}
		ev := chathub.Event{
			ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
			SenderName: senderName(msg.From),
			MessageID:  msg.MessageID,
		}
		if msg.ReplyToMessage != nil {
			ev.ReplyToID = msg.ReplyToMessage.MessageID
		}
		if msg.Contact != nil {
			ev.Kind = chathub.EventContact
			ev.Contact = &chathub.Contact{PhoneNumber: msg.Contact.PhoneNumber}
			if msg.Contact.UserID != 0 {
				ev.Contact.OwnerChatID = strconv.FormatInt(msg.Contact.UserID, 10)
			}
			return ev, true
		}
		ev.Kind = chathub.EventMessage
		ev.Content = extractContent(msg)
		return ev, true

	case update.EditedMessage != nil:
		msg := update.EditedMessage
		if !msg.Chat.IsPrivate() {
			return chathub.Event{}, false
		}
		return chathub.Event{
			ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
			SenderName: senderName(msg.From),
			Kind:       chathub.EventEdit,
			MessageID:  msg.MessageID,
			Content:    extractContent(msg),
		}, true

	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		cb, err := DecodeCallback(q.Data)
		if err != nil || q.Message == nil {
			return chathub.Event{}, false
		}
		return chathub.Event{
			ChatID:     strconv.FormatInt(q.Message.Chat.ID, 10),
			SenderName: senderName(q.From),
			Kind:       chathub.EventCallback,
			MessageID:  q.Message.MessageID,
			Callback:   cb,
		}, true
	}
	return chathub.Event{}, false
}

// extractContent picks the relayable part of a message. Unsupported types
// yield an empty Kind.
func extractContent(msg *tgbotapi.Message) chathub.Content {
	switch {
	case msg.Text != "":
		return chathub.TextContent(msg.Text)
	case len(msg.Photo) > 0:
		return chathub.Content{Kind: models.KindPhoto, Text: msg.Caption, FileID: msg.Photo[len(msg.Photo)-1].FileID}
	case msg.Video != nil:
		return chathub.Content{Kind: models.KindVideo, Text: msg.Caption, FileID: msg.Video.FileID}
	case msg.Document != nil:
		return chathub.Content{Kind: models.KindDocument, Text: msg.Caption, FileID: msg.Document.FileID}
	case msg.Voice != nil:
		return chathub.Content{Kind: models.KindVoice, Text: msg.Caption, FileID: msg.Voice.FileID}
	case msg.Audio != nil:
		return chathub.Content{Kind: models.KindAudio, Text: msg.Caption, FileID: msg.Audio.FileID}
	case msg.Sticker != nil:
		return chathub.Content{Kind: models.KindSticker, FileID: msg.Sticker.FileID}
	case msg.VideoNote != nil:
		return chathub.Content{Kind: models.KindVideoNote, FileID: msg.VideoNote.FileID}
	}
	return chathub.Content{}
}

func senderName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}
