package chathub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"supportdesk/backend/internal/config"
	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"

	"github.com/sirupsen/logrus"
)

func (m *ManagerService) handleUser(ctx context.Context, u *models.Participant, ev Event) error {
	if ev.Kind == EventContact {
		return m.userContact(ctx, u, ev)
	}

	cmd := ev.Command()
	if !u.PhoneVerified() {
		switch cmd {
		case "start":
			m.notify(ctx, u, "welcome", map[string]string{"name": displayName(u)}, LanguageMenu{})
		case "lang":
			m.notify(ctx, u, "choose_language", nil, LanguageMenu{})
		case "help":
			m.notify(ctx, u, "help_user", nil, nil)
		default:
			m.notify(ctx, u, "phone_required", nil, ContactRequest{})
		}
		return nil
	}

	switch cmd {
	case "start":
		return m.userStart(ctx, u)
	case "help":
		m.notify(ctx, u, "help_user", nil, nil)
		return nil
	case "lang":
		m.notify(ctx, u, "choose_language", nil, LanguageMenu{})
		return nil
	case "end":
		return m.userEnd(ctx, u)
	}

	if ev.Kind == EventEdit {
		return m.relayUserEdit(ctx, u, ev)
	}
	if ev.Content.Kind == "" {
		m.notify(ctx, u, "unsupported_message", nil, nil)
		return nil
	}
	return m.userMessage(ctx, u, ev)
}

// userStart resumes a paused user and puts it in line for an operator.
func (m *ManagerService) userStart(ctx context.Context, u *models.Participant) error {
	if err := m.Storage.SetSessionEnded(ctx, u.ChatID, false); err != nil {
		return fmt.Errorf("resume user %s: %w", u.ChatID, err)
	}
	u.SessionEnded = false

	op, err := m.Sessions.ActiveOperatorFor(ctx, u.ChatID)
	if err != nil {
		return err
	}
	if op != "" {
		m.notify(ctx, u, "operator_joined", nil, EndButton{})
		return nil
	}

	position, err := m.enqueue(ctx, u)
	if err != nil {
		return err
	}
	connected, err := m.tryConnect(ctx, u)
	if err != nil || connected {
		return err
	}
	return m.noticeWaiting(ctx, u, position)
}

// userMessage relays to the paired operator, or buffers the message and
// looks for a free operator.
func (m *ManagerService) userMessage(ctx context.Context, u *models.Participant, ev Event) error {
	op, err := m.Sessions.ActiveOperatorFor(ctx, u.ChatID)
	if err != nil {
		return err
	}
	if op != "" {
		_ = m.relayToOperator(ctx, op, u, ev.Content, ev.MessageID, ev.ReplyToID)
		return nil
	}

	if u.SessionEnded {
		m.notify(ctx, u, "operator_offline", nil, nil)
		return nil
	}

	err = m.Pending.Append(ctx, &models.PendingMessage{
		UserChatID:    u.ChatID,
		UserMessageID: ev.MessageID,
		Kind:          ev.Content.Kind,
		Text:          ev.Content.Text,
		FileID:        ev.Content.FileID,
	})
	if err != nil {
		return err
	}

	lang := u.Language
	wasQueued, err := m.Queues.Contains(ctx, lang, u.ChatID)
	if err != nil {
		return fmt.Errorf("check queue of %s: %w", u.ChatID, err)
	}
	position, err := m.enqueue(ctx, u)
	if err != nil {
		return err
	}

	// a session may have started while the message was being buffered
	if op, err := m.Sessions.ActiveOperatorFor(ctx, u.ChatID); err != nil {
		return err
	} else if op != "" {
		m.deliverPending(ctx, op, u.ChatID)
		return nil
	}

	connected, err := m.tryConnect(ctx, u)
	if err != nil || connected {
		return err
	}
	if !wasQueued {
		return m.noticeWaiting(ctx, u, position)
	}
	return nil
}

// tryConnect claims a free operator for the user's language and connects them.
func (m *ManagerService) tryConnect(ctx context.Context, u *models.Participant) (bool, error) {
	lang := u.Language
	for attempt := 0; attempt < config.MaxClaimAttempts; attempt++ {
		opID, err := m.Matcher.PickOperator(ctx, lang, true)
		if err != nil || opID == "" {
			return false, err
		}
		claimed, err := m.Storage.ClaimOperator(ctx, opID)
		if err != nil {
			return false, fmt.Errorf("claim operator %s: %w", opID, err)
		}
		if !claimed {
			continue
		}

		op, err := m.requireOperator(ctx, opID)
		if err != nil {
			return false, err
		}
		ok, err := m.connect(ctx, op, u, lang)
		if err != nil || !ok {
			m.release(ctx, opID)
		}
		return ok, err
	}
	return false, nil
}

func (m *ManagerService) enqueue(ctx context.Context, u *models.Participant) (int, error) {
	position, err := m.Queues.Enqueue(ctx, u.Language, u.ChatID)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", u.ChatID, err)
	}
	m.publish(ctx, models.RoutingEvent{
		Type:       models.EventUserQueued,
		UserChatID: u.ChatID,
		Language:   string(u.Language),
		Position:   position,
	})
	return position, nil
}

// noticeWaiting tells a queued user why nobody answered yet.
func (m *ManagerService) noticeWaiting(ctx context.Context, u *models.Participant, position int) error {
	anyOp, err := m.Matcher.PickOperator(ctx, u.Language, false)
	if err != nil {
		return err
	}
	if anyOp == "" {
		m.notify(ctx, u, "no_operator_available", nil, nil)
		return nil
	}
	m.notify(ctx, u, "queue_position", map[string]string{"position": fmt.Sprint(position)}, nil)
	return nil
}

// userEnd closes the user's session, drops its queue entries and pending
// messages and offers the freed operator to the next waiting user.
func (m *ManagerService) userEnd(ctx context.Context, u *models.Participant) error {
	ops, err := m.Sessions.EndByUser(ctx, u.ChatID)
	if err != nil {
		return err
	}
	// the sessions are already closed, so the operators are handled even when
	// pausing the user fails
	var errs []error
	if err := m.Storage.SetSessionEnded(ctx, u.ChatID, true); err != nil {
		errs = append(errs, fmt.Errorf("pause user %s: %w", u.ChatID, err))
	}
	for _, l := range language.Members() {
		if _, err := m.Queues.Remove(ctx, l, u.ChatID); err != nil {
			m.log.WithError(err).WithField("user", u.ChatID).Warn("failed to remove user from queue")
		}
	}
	if n, err := m.Pending.Discard(ctx, u.ChatID); err != nil {
		m.log.WithError(err).WithField("user", u.ChatID).Error("failed to discard pending messages")
	} else if n > 0 {
		m.log.WithFields(logrus.Fields{"user": u.ChatID, "count": n}).Info("discarded pending messages")
	}

	m.notify(ctx, u, "end_session", nil, RemoveKeyboard{})

	for _, opID := range ops {
		m.publish(ctx, models.RoutingEvent{
			Type:           models.EventSessionEnded,
			OperatorChatID: opID,
			UserChatID:     u.ChatID,
		})
		if err := m.operatorFreed(ctx, opID, u); err != nil {
			m.log.WithError(err).WithField("operator", opID).Warn("auto-rematch failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// operatorFreed tells the operator the user left and, unless the operator is
// paused, connects it with the next waiting user.
func (m *ManagerService) operatorFreed(ctx context.Context, opID string, left *models.Participant) error {
	op, err := m.requireOperator(ctx, opID)
	if err != nil {
		return err
	}
	m.notify(ctx, op, "user_left", map[string]string{"name": displayName(left)}, nil)

	if op.SessionEnded {
		m.release(ctx, opID)
		return nil
	}
	connected, err := m.rematch(ctx, op)
	if err != nil || connected {
		return err
	}

	users, err := m.Sessions.ActiveUsersFor(ctx, opID)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		m.release(ctx, opID)
		m.notify(ctx, op, "operator_no_users", nil, nil)
	}
	return nil
}

func (m *ManagerService) userContact(ctx context.Context, u *models.Participant, ev Event) error {
	if ev.Contact == nil {
		return nil
	}
	if ev.Contact.OwnerChatID != "" && ev.Contact.OwnerChatID != u.ChatID {
		m.notify(ctx, u, "contact_not_yours", nil, ContactRequest{})
		return nil
	}
	phone := normalizePhone(ev.Contact.PhoneNumber)

	switch {
	case !u.PhoneVerified():
		if err := m.Storage.SetPhone(ctx, u.ChatID, phone); err != nil {
			return fmt.Errorf("save phone of %s: %w", u.ChatID, err)
		}
		u.PhoneNumber = phone
		m.notify(ctx, u, "contact_saved", nil, RemoveKeyboard{})
		if u.SessionEnded {
			return nil
		}
		return m.userStart(ctx, u)
	case u.PhoneNumber == phone:
		m.notify(ctx, u, "phone_same", nil, nil)
		return nil
	default:
		m.mu.Lock()
		m.phoneChanges[u.ChatID] = phone
		m.mu.Unlock()
		m.notify(ctx, u, "phone_change_confirm", map[string]string{"old": u.PhoneNumber, "new": phone}, PhoneChangeConfirm{})
		return nil
	}
}

func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, config.PhoneNumberPrefix) {
		return phone
	}
	return config.PhoneNumberPrefix + phone
}
