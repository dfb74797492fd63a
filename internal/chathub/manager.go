// Package chathub is the routing core: it pairs users with operators, buffers
// and relays their messages and reacts to commands and button presses.
package chathub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"supportdesk/backend/internal/config"
	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/localization"
	"supportdesk/backend/internal/locks"
	"supportdesk/backend/internal/models"
	"supportdesk/backend/internal/pending"
	"supportdesk/backend/internal/queue"
	"supportdesk/backend/internal/sessions"
	"supportdesk/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ManagerService handles every inbound event. Handle may be called from many
// goroutines at once.
type ManagerService struct {
	Storage   storage.Storage
	Queues    queue.Manager
	Pending   *pending.Buffer
	Sessions  *sessions.Directory
	Matcher   *MatcherService
	Transport Transport
	Localizer *localization.Localizer
	// Events receives routing events; nil disables publishing.
	Events      storage.EventPublisher
	SendTimeout time.Duration

	log     logrus.FieldLogger
	pairing *locks.Keyed

	mu           sync.Mutex
	setups       map[string]*languageSetup
	phoneChanges map[string]string
}

// languageSetup is an operator's served-language selection in progress.
type languageSetup struct {
	count    int
	selected []language.Language
}

// NewManagerService wires the routing core over its collaborators.
func NewManagerService(s storage.Storage, q queue.Manager, t Transport, l *localization.Localizer, log logrus.FieldLogger) *ManagerService {
	return &ManagerService{
		Storage:      s,
		Queues:       q,
		Pending:      pending.NewBuffer(s, log),
		Sessions:     sessions.NewDirectory(s, log),
		Matcher:      NewMatcherService(s, q, log),
		Transport:    t,
		Localizer:    l,
		SendTimeout:  config.DefaultSendTimeout,
		log:          log,
		pairing:      locks.NewKeyed(),
		setups:       make(map[string]*languageSetup),
		phoneChanges: make(map[string]string),
	}
}

// Handle processes one inbound event to completion. Failed sends are logged
// and do not make Handle fail; a returned error means the event was dropped.
func (m *ManagerService) Handle(ctx context.Context, ev Event) error {
	p, err := m.participantFor(ctx, ev)
	if err != nil {
		return err
	}

	if ev.Kind == EventCallback {
		return m.handleCallback(ctx, p, ev)
	}
	if p.IsOperator() {
		return m.handleOperator(ctx, p, ev)
	}
	return m.handleUser(ctx, p, ev)
}

// participantFor loads the sender, registering unknown chats as users.
func (m *ManagerService) participantFor(ctx context.Context, ev Event) (*models.Participant, error) {
	p, err := m.Storage.FindParticipant(ctx, ev.ChatID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find participant %s: %w", ev.ChatID, err)
	}

	p = &models.Participant{
		ChatID:    ev.ChatID,
		Name:      ev.SenderName,
		Role:      models.RoleUser,
		Language:  language.Default,
		Languages: language.Strings([]language.Language{language.Default}),
	}
	if err := m.Storage.CreateParticipant(ctx, p); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// the chat exists but was soft-deleted
			return nil, &NotFoundError{Role: models.RoleUser, ChatID: ev.ChatID}
		}
		return nil, fmt.Errorf("register %s: %w", ev.ChatID, err)
	}
	m.log.WithField("chat_id", ev.ChatID).Info("registered new user")
	return p, nil
}

func (m *ManagerService) requireParticipant(ctx context.Context, chatID string, role models.Role) (*models.Participant, error) {
	p, err := m.Storage.FindParticipant(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && p.Role != role) {
		return nil, &NotFoundError{Role: role, ChatID: chatID}
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", chatID, err)
	}
	return p, nil
}

func (m *ManagerService) requireUser(ctx context.Context, chatID string) (*models.Participant, error) {
	return m.requireParticipant(ctx, chatID, models.RoleUser)
}

func (m *ManagerService) requireOperator(ctx context.Context, chatID string) (*models.Participant, error) {
	return m.requireParticipant(ctx, chatID, models.RoleOperator)
}

// connect pairs op with user: the user leaves the waiting queue, the session is
// established, both sides are told and the user's pending messages are
// delivered. The operator must already be marked busy. It reports false when
// the user was paired elsewhere in the meantime.
func (m *ManagerService) connect(ctx context.Context, op, user *models.Participant, lang language.Language) (bool, error) {
	unlock := m.pairing.Lock(user.ChatID)
	current, err := m.Sessions.ActiveOperatorFor(ctx, user.ChatID)
	if err == nil && current == "" {
		err = m.Sessions.Establish(ctx, op.ChatID, user.ChatID)
	}
	unlock()
	if err != nil {
		return false, err
	}
	if current != "" {
		return false, nil
	}

	for _, l := range language.Members() {
		if _, err := m.Queues.Remove(ctx, l, user.ChatID); err != nil {
			m.log.WithError(err).WithField("user", user.ChatID).Warn("failed to remove paired user from queue")
		}
	}

	m.log.WithFields(logrus.Fields{
		"operator": op.ChatID,
		"user":     user.ChatID,
		"language": lang,
	}).Info("session started")
	m.publish(ctx, models.RoutingEvent{
		Type:           models.EventSessionStarted,
		OperatorChatID: op.ChatID,
		UserChatID:     user.ChatID,
		Language:       string(lang),
	})

	m.notify(ctx, user, "operator_joined", nil, EndButton{})
	phone := user.PhoneNumber
	if phone == "" {
		phone = "-"
	}
	m.notify(ctx, op, "new_client", map[string]string{
		"name":     displayName(user),
		"phone":    phone,
		"language": lang.Title(),
	}, EndButton{})

	m.deliverPending(ctx, op.ChatID, user.ChatID)
	return true, nil
}

// release clears the busy flag of an operator left without sessions.
func (m *ManagerService) release(ctx context.Context, opChatID string) {
	users, err := m.Sessions.ActiveUsersFor(ctx, opChatID)
	if err != nil {
		m.log.WithError(err).WithField("operator", opChatID).Error("failed to list sessions")
		return
	}
	if len(users) > 0 {
		return
	}
	if err := m.Storage.SetBusy(ctx, opChatID, false); err != nil {
		m.log.WithError(err).WithField("operator", opChatID).Error("failed to clear busy flag")
	}
}

// rematch gives a freed operator the next waiting user from its languages. It
// reports whether a user was connected.
func (m *ManagerService) rematch(ctx context.Context, op *models.Participant) (bool, error) {
	langs := op.ServedLanguages()
	for {
		userID, lang, err := m.Matcher.PickWaitingUser(ctx, langs)
		if err != nil {
			return false, err
		}
		if userID == "" {
			return false, nil
		}
		user, err := m.requireUser(ctx, userID)
		if err != nil {
			m.log.WithError(err).Warn("dequeued user vanished")
			continue
		}
		if err := m.Storage.SetBusy(ctx, op.ChatID, true); err != nil {
			m.requeue(ctx, user, lang)
			return false, fmt.Errorf("mark %s busy: %w", op.ChatID, err)
		}
		ok, err := m.connect(ctx, op, user, lang)
		if err != nil {
			m.release(ctx, op.ChatID)
			m.requeue(ctx, user, lang)
			return false, err
		}
		if ok {
			return true, nil
		}
	}
}

// requeue puts back a user that was dequeued for a pairing that failed.
func (m *ManagerService) requeue(ctx context.Context, user *models.Participant, lang language.Language) {
	if _, err := m.Queues.Enqueue(ctx, lang, user.ChatID); err != nil {
		m.log.WithError(err).WithField("user", user.ChatID).Error("failed to requeue user")
	}
}

func (m *ManagerService) publish(ctx context.Context, ev models.RoutingEvent) {
	if m.Events == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := m.Events.PublishEvent(ctx, ev); err != nil {
		m.log.WithError(err).WithField("event", ev.Type).Warn("failed to publish routing event")
	}
}

// send delivers out within SendTimeout. Failures are logged and returned as *SendError.
func (m *ManagerService) send(ctx context.Context, out Outgoing) (int, error) {
	sendCtx, cancel := context.WithTimeout(ctx, m.SendTimeout)
	defer cancel()

	id, err := m.Transport.Send(sendCtx, out)
	if err != nil {
		m.log.WithError(err).WithField("chat_id", out.ChatID).Warn("send failed")
		return 0, &SendError{ChatID: out.ChatID, Err: err}
	}
	return id, nil
}

func (m *ManagerService) edit(ctx context.Context, e Edit) {
	editCtx, cancel := context.WithTimeout(ctx, m.SendTimeout)
	defer cancel()

	if err := m.Transport.Edit(editCtx, e); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"chat_id": e.ChatID, "message_id": e.MessageID}).Warn("edit failed")
	}
}

func (m *ManagerService) clearKeyboard(ctx context.Context, chatID string, messageID int) {
	if messageID == 0 {
		return
	}
	clearCtx, cancel := context.WithTimeout(ctx, m.SendTimeout)
	defer cancel()

	if err := m.Transport.ClearKeyboard(clearCtx, chatID, messageID); err != nil {
		m.log.WithError(err).WithField("chat_id", chatID).Debug("failed to clear keyboard")
	}
}

func (m *ManagerService) text(p *models.Participant, key string, params map[string]string) string {
	return m.Localizer.Format(p.Language.Locale(), key, params)
}

// notify sends a localized text to p.
func (m *ManagerService) notify(ctx context.Context, p *models.Participant, key string, params map[string]string, kb Keyboard) {
	_, _ = m.send(ctx, Outgoing{
		ChatID:   p.ChatID,
		Locale:   p.Language.Locale(),
		Content:  TextContent(m.text(p, key, params)),
		Keyboard: kb,
	})
}

func displayName(p *models.Participant) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return p.ChatID
}
