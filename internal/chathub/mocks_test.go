package chathub_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/localization"
	"supportdesk/backend/internal/models"
	"supportdesk/backend/internal/queue"
	"supportdesk/backend/internal/sessions"
	"supportdesk/backend/internal/storage"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingTransport keeps every outgoing message. Sends to chats in failFor fail.
type recordingTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []chathub.Outgoing
	edits   []chathub.Edit
	cleared []int
	failFor map[string]bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{nextID: 1000, failFor: map[string]bool{}}
}

func (r *recordingTransport) Send(_ context.Context, out chathub.Outgoing) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[out.ChatID] {
		return 0, errors.New("chat not found")
	}
	r.nextID++
	r.sent = append(r.sent, out)
	return r.nextID, nil
}

func (r *recordingTransport) Edit(_ context.Context, e chathub.Edit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, e)
	return nil
}

func (r *recordingTransport) ClearKeyboard(_ context.Context, _ string, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, messageID)
	return nil
}

// textsTo returns the texts sent to chatID in order.
func (r *recordingTransport) textsTo(chatID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.ChatID == chatID {
			out = append(out, s.Content.Text)
		}
	}
	return out
}

func (r *recordingTransport) lastTo(chatID string) (chathub.Outgoing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].ChatID == chatID {
			return r.sent[i], true
		}
	}
	return chathub.Outgoing{}, false
}

func (r *recordingTransport) lastEdit() chathub.Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.edits[len(r.edits)-1]
}

// MockTransport is a testify mock of chathub.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, out chathub.Outgoing) (int, error) {
	args := m.Called(ctx, out)
	return args.Int(0), args.Error(1)
}

func (m *MockTransport) Edit(ctx context.Context, e chathub.Edit) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockTransport) ClearKeyboard(ctx context.Context, chatID string, messageID int) error {
	return m.Called(ctx, chatID, messageID).Error(0)
}

type fixture struct {
	manager   *chathub.ManagerService
	store     *storage.MemoryStore
	queues    *queue.Memory
	transport *recordingTransport
	loc       *localization.Localizer
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := localization.NewBundledLocalizer()
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	queues := queue.NewMemory()
	transport := newRecordingTransport()
	m := chathub.NewManagerService(store, queues, transport, loc, quietLogger())
	m.Events = store
	return &fixture{manager: m, store: store, queues: queues, transport: transport, loc: loc}
}

// faultyStore fails CreateSession, and SetSessionEnded for the chats in pauseFails.
type faultyStore struct {
	*storage.MemoryStore
	createErr  error
	pauseFails map[string]bool
}

func (s *faultyStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryStore.CreateSession(ctx, sess)
}

func (s *faultyStore) SetSessionEnded(ctx context.Context, chatID string, ended bool) error {
	if s.pauseFails[chatID] {
		return errors.New("db down")
	}
	return s.MemoryStore.SetSessionEnded(ctx, chatID, ended)
}

// withFaults routes the manager's storage through a faultyStore sharing f.store.
func (f *fixture) withFaults(createErr error, pauseFails ...string) *fixture {
	fs := &faultyStore{MemoryStore: f.store, createErr: createErr, pauseFails: map[string]bool{}}
	for _, id := range pauseFails {
		fs.pauseFails[id] = true
	}
	f.manager.Storage = fs
	f.manager.Sessions = sessions.NewDirectory(fs, quietLogger())
	return f
}

func (f *fixture) withTransport(t chathub.Transport) *fixture {
	f.manager.Transport = t
	return f
}

func (f *fixture) addOperator(t *testing.T, chatID string, langs ...language.Language) {
	t.Helper()
	require.NoError(t, f.store.CreateParticipant(context.Background(), &models.Participant{
		ChatID:    chatID,
		Name:      "Operator " + chatID,
		Role:      models.RoleOperator,
		Language:  language.ENG,
		Languages: pq.StringArray(language.Strings(langs)),
	}))
}

func (f *fixture) addUser(t *testing.T, chatID string, lang language.Language) {
	t.Helper()
	require.NoError(t, f.store.CreateParticipant(context.Background(), &models.Participant{
		ChatID:      chatID,
		Name:        "User " + chatID,
		PhoneNumber: "+99890000" + chatID,
		Role:        models.RoleUser,
		Language:    lang,
		Languages:   pq.StringArray{string(lang)},
	}))
}

func (f *fixture) text(locale, key string) string {
	return f.loc.GetString(locale, key)
}

func message(chatID string, id int, text string) chathub.Event {
	return chathub.Event{
		ChatID:    chatID,
		Kind:      chathub.EventMessage,
		MessageID: id,
		Content:   chathub.TextContent(text),
	}
}
