package chathub

import (
	"context"
	"fmt"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"

	"github.com/sirupsen/logrus"
)

func (m *ManagerService) handleOperator(ctx context.Context, op *models.Participant, ev Event) error {
	if ev.Kind == EventContact {
		m.notify(ctx, op, "contact_not_needed", nil, nil)
		return nil
	}

	switch ev.Command() {
	case "start":
		m.operatorStart(ctx, op)
		return nil
	case "begin":
		return m.operatorBegin(ctx, op)
	case "end":
		return m.operatorEnd(ctx, op)
	case "help":
		m.notify(ctx, op, "help_operator", nil, nil)
		return nil
	case "lang":
		m.notify(ctx, op, "choose_language", nil, LanguageMenu{})
		return nil
	}

	if ev.Kind == EventEdit {
		return m.relayOperatorEdit(ctx, op, ev)
	}
	if ev.Content.Kind == "" {
		m.notify(ctx, op, "unsupported_message", nil, nil)
		return nil
	}
	return m.broadcast(ctx, op, ev)
}

// operatorStart opens the served-language setup.
func (m *ManagerService) operatorStart(ctx context.Context, op *models.Participant) {
	m.mu.Lock()
	m.setups[op.ChatID] = &languageSetup{}
	m.mu.Unlock()

	m.notify(ctx, op, "operator_select_language_count", nil, LanguageCountMenu{Max: len(language.Members())})
}

// operatorBegin resumes the operator and connects it with the first waiting
// user of its languages.
func (m *ManagerService) operatorBegin(ctx context.Context, op *models.Participant) error {
	if len(op.ServedLanguages()) == 0 {
		m.notify(ctx, op, "operator_no_languages", nil, nil)
		return nil
	}
	if err := m.Storage.SetSessionEnded(ctx, op.ChatID, false); err != nil {
		return fmt.Errorf("resume operator %s: %w", op.ChatID, err)
	}
	op.SessionEnded = false
	m.publish(ctx, models.RoutingEvent{Type: models.EventOperatorResumed, OperatorChatID: op.ChatID})

	users, err := m.Sessions.ActiveUsersFor(ctx, op.ChatID)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		m.notify(ctx, op, "operator_warn_message", nil, EndButton{})
		return nil
	}

	m.notify(ctx, op, "operator_start_work", nil, nil)
	connected, err := m.rematch(ctx, op)
	if err != nil || connected {
		return err
	}
	m.release(ctx, op.ChatID)
	m.notify(ctx, op, "operator_no_users", nil, nil)
	return nil
}

// operatorEnd closes every session of the operator and pauses it until the
// next /begin.
func (m *ManagerService) operatorEnd(ctx context.Context, op *models.Participant) error {
	users, err := m.Sessions.EndByOperator(ctx, op.ChatID)
	if err != nil {
		return err
	}
	if err := m.Storage.SetSessionEnded(ctx, op.ChatID, true); err != nil {
		return fmt.Errorf("pause operator %s: %w", op.ChatID, err)
	}
	if err := m.Storage.SetBusy(ctx, op.ChatID, false); err != nil {
		return fmt.Errorf("free operator %s: %w", op.ChatID, err)
	}

	for _, userID := range users {
		m.publish(ctx, models.RoutingEvent{
			Type:           models.EventSessionEnded,
			OperatorChatID: op.ChatID,
			UserChatID:     userID,
		})
		user, err := m.requireUser(ctx, userID)
		if err != nil {
			m.log.WithError(err).Warn("skipping end notice")
			continue
		}
		m.notify(ctx, user, "operator_left", nil, RemoveKeyboard{})
	}
	m.publish(ctx, models.RoutingEvent{Type: models.EventOperatorPaused, OperatorChatID: op.ChatID})
	m.log.WithFields(logrus.Fields{"operator": op.ChatID, "sessions": len(users)}).Info("operator ended work")

	m.notify(ctx, op, "thank_you", nil, BeginButton{})
	return nil
}

// broadcast relays an operator message to every user connected to it. A
// failed send to one user does not stop the others.
func (m *ManagerService) broadcast(ctx context.Context, op *models.Participant, ev Event) error {
	if op.SessionEnded {
		m.notify(ctx, op, "operator_paused", nil, BeginButton{})
		return nil
	}
	users, err := m.Sessions.ActiveUsersFor(ctx, op.ChatID)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		m.notify(ctx, op, "operator_no_users", nil, nil)
		return nil
	}

	failed := 0
	for _, userID := range users {
		user, err := m.requireUser(ctx, userID)
		if err != nil {
			m.log.WithError(err).Warn("skipping broadcast target")
			failed++
			continue
		}
		if err := m.relayToUser(ctx, op, user, ev.Content, ev.MessageID, ev.ReplyToID); err != nil {
			failed++
		}
	}
	if failed > 0 {
		m.log.WithFields(logrus.Fields{"operator": op.ChatID, "failed": failed, "total": len(users)}).Warn("broadcast partially failed")
	}
	return nil
}
