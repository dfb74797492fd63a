package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/localization"
	"supportdesk/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	mu         sync.Mutex
	sent       []tgbotapi.Chattable
	requests   []tgbotapi.Chattable
	requestErr error
	block      chan struct{}
	updates    chan tgbotapi.Update
	stopped    bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 16)}
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: 500 + len(b.sent)}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	if b.requestErr != nil {
		return nil, b.requestErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *fakeBot) requestsOf(match func(tgbotapi.Chattable) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if match(r) {
			n++
		}
	}
	return n
}

type recordingHandler struct {
	mu     sync.Mutex
	events []chathub.Event
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, ev chathub.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func localizer(t *testing.T) *localization.Localizer {
	t.Helper()
	l, err := localization.NewBundledLocalizer()
	require.NoError(t, err)
	return l
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func privateChat(id int64) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "private"}
}

func TestCallbackCodec(t *testing.T) {
	cases := []chathub.Callback{
		chathub.ChooseLanguage{Language: language.RUS},
		chathub.LanguageCount{Count: 2},
		chathub.ToggleLanguage{Language: language.ENG},
		chathub.ConfirmLanguages{},
		chathub.ConfirmPhoneChange{Accept: true},
		chathub.ConfirmPhoneChange{Accept: false},
	}
	for _, cb := range cases {
		data := EncodeCallback(cb)
		assert.LessOrEqual(t, len(data), 64)

		got, err := DecodeCallback(data)
		require.NoError(t, err, data)
		assert.Equal(t, cb, got)
	}
}

func TestDecodeCallback_Rejects(t *testing.T) {
	for _, data := range []string{"", "lang:DEU", "count:x", "toggle:", "phone:maybe", "report_Critical"} {
		_, err := DecodeCallback(data)
		assert.Error(t, err, data)
	}
}

func TestToEvent_TextWithReply(t *testing.T) {
	ev, ok := ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      7,
		Chat:           privateChat(42),
		From:           &tgbotapi.User{ID: 42, FirstName: "Ali", LastName: "Valiyev"},
		Text:           "hello",
		ReplyToMessage: &tgbotapi.Message{MessageID: 3},
	}})

	require.True(t, ok)
	assert.Equal(t, "42", ev.ChatID)
	assert.Equal(t, "Ali Valiyev", ev.SenderName)
	assert.Equal(t, chathub.EventMessage, ev.Kind)
	assert.Equal(t, 7, ev.MessageID)
	assert.Equal(t, 3, ev.ReplyToID)
	assert.Equal(t, chathub.TextContent("hello"), ev.Content)
}

func TestToEvent_Contact(t *testing.T) {
	ev, ok := ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 9,
		Chat:      privateChat(42),
		From:      &tgbotapi.User{ID: 42, UserName: "ali"},
		Contact:   &tgbotapi.Contact{PhoneNumber: "998901234567", UserID: 42},
	}})

	require.True(t, ok)
	assert.Equal(t, chathub.EventContact, ev.Kind)
	assert.Equal(t, "ali", ev.SenderName)
	require.NotNil(t, ev.Contact)
	assert.Equal(t, "998901234567", ev.Contact.PhoneNumber)
	assert.Equal(t, "42", ev.Contact.OwnerChatID)
}

func TestToEvent_MediaAndUnsupported(t *testing.T) {
	ev, ok := ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:    privateChat(1),
		Caption: "receipt",
		Photo:   []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}})
	require.True(t, ok)
	assert.Equal(t, chathub.Content{Kind: models.KindPhoto, Text: "receipt", FileID: "large"}, ev.Content)

	ev, ok = ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     privateChat(1),
		Location: &tgbotapi.Location{Latitude: 41.3, Longitude: 69.2},
	}})
	require.True(t, ok)
	assert.Empty(t, ev.Content.Kind)
}

func TestToEvent_EditAndCallback(t *testing.T) {
	ev, ok := ToEvent(tgbotapi.Update{EditedMessage: &tgbotapi.Message{
		MessageID: 11,
		Chat:      privateChat(5),
		Text:      "fixed",
	}})
	require.True(t, ok)
	assert.Equal(t, chathub.EventEdit, ev.Kind)
	assert.Equal(t, 11, ev.MessageID)
	assert.Equal(t, "fixed", ev.Content.Text)

	ev, ok = ToEvent(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 5, FirstName: "Op"},
		Message: &tgbotapi.Message{MessageID: 20, Chat: privateChat(5)},
		Data:    "lang:ENG",
	}})
	require.True(t, ok)
	assert.Equal(t, chathub.EventCallback, ev.Kind)
	assert.Equal(t, 20, ev.MessageID)
	assert.Equal(t, chathub.ChooseLanguage{Language: language.ENG}, ev.Callback)
}

func TestToEvent_Ignored(t *testing.T) {
	_, ok := ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		Text: "hi",
	}})
	assert.False(t, ok)

	_, ok = ToEvent(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Message: &tgbotapi.Message{Chat: privateChat(5)},
		Data:    "unknown",
	}})
	assert.False(t, ok)

	_, ok = ToEvent(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestRenderer_Keyboards(t *testing.T) {
	r := renderer{loc: localizer(t)}

	contact, ok := r.markup(chathub.ContactRequest{}, "ru").(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, contact.Keyboard[0][0].RequestContact)
	assert.Equal(t, r.loc.GetString("ru", "button_share_contact"), contact.Keyboard[0][0].Text)

	_, ok = r.markup(chathub.RemoveKeyboard{}, "ru").(tgbotapi.ReplyKeyboardRemove)
	assert.True(t, ok)
	assert.Nil(t, r.markup(nil, "ru"))

	sel := r.inline(chathub.LanguageSelect{Selected: []language.Language{language.RUS}}, "en")
	require.NotNil(t, sel)
	require.Len(t, sel.InlineKeyboard, len(language.Members())+1)
	for i, l := range language.Members() {
		btn := sel.InlineKeyboard[i][0]
		require.NotNil(t, btn.CallbackData)
		assert.Equal(t, EncodeCallback(chathub.ToggleLanguage{Language: l}), *btn.CallbackData)
		if l == language.RUS {
			assert.Contains(t, btn.Text, "✅")
		} else {
			assert.NotContains(t, btn.Text, "✅")
		}
	}

	count := r.inline(chathub.LanguageCountMenu{Max: 3}, "en")
	require.NotNil(t, count)
	assert.Len(t, count.InlineKeyboard[0], 3)

	assert.Nil(t, r.inline(chathub.BeginButton{}, "en"))
}

func TestClient_SendMediaWithReply(t *testing.T) {
	bot := newFakeBot()
	c := NewClient(bot, localizer(t), quietLogger())

	id, err := c.Send(context.Background(), chathub.Outgoing{
		ChatID:  "42",
		Content: chathub.Content{Kind: models.KindPhoto, Text: "caption", FileID: "file-1"},
		ReplyTo: 17,
	})
	require.NoError(t, err)
	assert.Equal(t, 501, id)

	require.Len(t, bot.sent, 1)
	photo, ok := bot.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), photo.ChatID)
	assert.Equal(t, "caption", photo.Caption)
	assert.Equal(t, 17, photo.ReplyToMessageID)
	assert.Equal(t, tgbotapi.FileID("file-1"), photo.File)
}

func TestClient_SendTextWithKeyboard(t *testing.T) {
	bot := newFakeBot()
	c := NewClient(bot, localizer(t), quietLogger())

	_, err := c.Send(context.Background(), chathub.Outgoing{
		ChatID:   "42",
		Locale:   "en",
		Content:  chathub.TextContent("pick"),
		Keyboard: chathub.LanguageMenu{},
	})
	require.NoError(t, err)

	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "pick", msg.Text)
	_, ok = msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.True(t, ok)
}

func TestClient_SendRejectsBadInput(t *testing.T) {
	c := NewClient(newFakeBot(), localizer(t), quietLogger())

	_, err := c.Send(context.Background(), chathub.Outgoing{ChatID: "not-a-number", Content: chathub.TextContent("x")})
	assert.Error(t, err)

	_, err = c.Send(context.Background(), chathub.Outgoing{ChatID: "1", Content: chathub.Content{Kind: "poll"}})
	assert.Error(t, err)
}

func TestClient_SendHonorsContext(t *testing.T) {
	bot := newFakeBot()
	bot.block = make(chan struct{})
	defer close(bot.block)
	c := NewClient(bot, localizer(t), quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, chathub.Outgoing{ChatID: "1", Content: chathub.TextContent("x")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_EditAndClear(t *testing.T) {
	bot := newFakeBot()
	c := NewClient(bot, localizer(t), quietLogger())
	ctx := context.Background()

	require.NoError(t, c.Edit(ctx, chathub.Edit{ChatID: "3", MessageID: 8, Content: chathub.TextContent("new")}))
	require.NoError(t, c.Edit(ctx, chathub.Edit{ChatID: "3", MessageID: 9, Content: chathub.Content{Kind: models.KindPhoto, Text: "cap"}}))
	require.NoError(t, c.ClearKeyboard(ctx, "3", 10))

	require.Len(t, bot.requests, 3)
	text, ok := bot.requests[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, "new", text.Text)
	caption, ok := bot.requests[1].(tgbotapi.EditMessageCaptionConfig)
	require.True(t, ok)
	assert.Equal(t, "cap", caption.Caption)
	markup, ok := bot.requests[2].(tgbotapi.EditMessageReplyMarkupConfig)
	require.True(t, ok)
	assert.Equal(t, 10, markup.MessageID)
	require.NotNil(t, markup.ReplyMarkup)
	assert.Empty(t, markup.ReplyMarkup.InlineKeyboard)
}

func TestClient_EditNotModifiedIsIgnored(t *testing.T) {
	bot := newFakeBot()
	bot.requestErr = errors.New("Bad Request: message is not modified")
	c := NewClient(bot, localizer(t), quietLogger())

	assert.NoError(t, c.Edit(context.Background(), chathub.Edit{ChatID: "3", MessageID: 8, Content: chathub.TextContent("same")}))

	bot.requestErr = errors.New("Bad Request: message to edit not found")
	assert.Error(t, c.Edit(context.Background(), chathub.Edit{ChatID: "3", MessageID: 8, Content: chathub.TextContent("same")}))
}

func TestBotService_RunDispatchesInOrder(t *testing.T) {
	bot := newFakeBot()
	h := &recordingHandler{}
	svc := NewBotService(bot, h, localizer(t), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	for i := 1; i <= 5; i++ {
		bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{MessageID: i, Chat: privateChat(1), Text: "m"}}
	}
	bot.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Message: &tgbotapi.Message{MessageID: 99, Chat: privateChat(2)},
		Data:    "confirm",
	}}

	require.Eventually(t, func() bool { return h.count() == 6 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	var fromFirst []int
	for _, ev := range h.events {
		if ev.ChatID == "1" {
			fromFirst = append(fromFirst, ev.MessageID)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, fromFirst)
	assert.True(t, bot.stopped)

	answered := bot.requestsOf(func(c tgbotapi.Chattable) bool {
		cb, ok := c.(tgbotapi.CallbackConfig)
		return ok && cb.CallbackQueryID == "cb-1"
	})
	assert.Equal(t, 1, answered)

	commandSets := bot.requestsOf(func(c tgbotapi.Chattable) bool {
		_, ok := c.(tgbotapi.SetMyCommandsConfig)
		return ok
	})
	assert.Equal(t, len(language.Members())+1, commandSets)
}

func TestBotService_RetiresIdleChatWorkers(t *testing.T) {
	bot := newFakeBot()
	h := &recordingHandler{}
	svc := NewBotService(bot, h, localizer(t), quietLogger())
	svc.IdleTimeout = 20 * time.Millisecond
	workers := func() int {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.workers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	for i := int64(1); i <= 3; i++ {
		bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{MessageID: int(i), Chat: privateChat(i), Text: "m"}}
	}
	require.Eventually(t, func() bool { return h.count() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return workers() == 0 }, time.Second, 5*time.Millisecond)

	// a retired chat gets a fresh worker
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 4, Chat: privateChat(1), Text: "again"}}
	require.Eventually(t, func() bool { return h.count() == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, workers())
}

func TestBotService_LogsHandlerErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	h := &recordingHandler{err: &chathub.NotFoundError{Role: models.RoleUser, ChatID: "1"}}
	svc := NewBotService(newFakeBot(), h, localizer(t), log)

	svc.handle(context.Background(), chathub.Event{ChatID: "1", Kind: chathub.EventMessage})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	h.err = errors.New("boom")
	svc.handle(context.Background(), chathub.Event{ChatID: "1", Kind: chathub.EventMessage})
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
