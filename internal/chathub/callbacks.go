package chathub

import (
	"context"
	"fmt"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"

	"github.com/sirupsen/logrus"
)

func (m *ManagerService) handleCallback(ctx context.Context, p *models.Participant, ev Event) error {
	switch cb := ev.Callback.(type) {
	case ChooseLanguage:
		return m.chooseLanguage(ctx, p, ev.MessageID, cb.Language)
	case LanguageCount:
		if p.IsOperator() {
			m.startSelection(ctx, p, ev.MessageID, cb.Count)
		}
	case ToggleLanguage:
		if p.IsOperator() {
			m.toggleLanguage(ctx, p, ev.MessageID, cb.Language)
		}
	case ConfirmLanguages:
		if p.IsOperator() {
			return m.confirmLanguages(ctx, p, ev.MessageID)
		}
	case ConfirmPhoneChange:
		if !p.IsOperator() {
			return m.confirmPhoneChange(ctx, p, ev.MessageID, cb.Accept)
		}
	default:
		m.log.WithField("chat_id", p.ChatID).Debug("unknown callback ignored")
	}
	return nil
}

func (m *ManagerService) chooseLanguage(ctx context.Context, p *models.Participant, msgID int, lang language.Language) error {
	previous := p.Language
	if err := m.Storage.SetLanguage(ctx, p.ChatID, lang); err != nil {
		return fmt.Errorf("set language of %s: %w", p.ChatID, err)
	}
	p.Language = lang
	m.clearKeyboard(ctx, p.ChatID, msgID)

	if p.IsOperator() {
		m.notify(ctx, p, "language_changed", map[string]string{"language": lang.Title()}, nil)
		m.notify(ctx, p, "operator_press_start", nil, nil)
		return nil
	}

	// a queued user follows its language to the matching queue
	if previous != lang {
		removed, err := m.Queues.Remove(ctx, previous, p.ChatID)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", p.ChatID, err)
		}
		if removed {
			if _, err := m.enqueue(ctx, p); err != nil {
				return err
			}
		}
	}

	if !p.PhoneVerified() {
		m.notify(ctx, p, "share_contact", nil, ContactRequest{})
		return nil
	}
	m.notify(ctx, p, "language_changed", map[string]string{"language": lang.Title()}, nil)
	return nil
}

func (m *ManagerService) startSelection(ctx context.Context, op *models.Participant, msgID, count int) {
	if count < 1 || count > len(language.Members()) {
		return
	}
	m.mu.Lock()
	m.setups[op.ChatID] = &languageSetup{count: count}
	m.mu.Unlock()

	m.edit(ctx, Edit{
		ChatID:    op.ChatID,
		MessageID: msgID,
		Locale:    op.Language.Locale(),
		Content:   TextContent(m.text(op, "operator_select_languages", map[string]string{"total": "0"})),
		Keyboard:  LanguageSelect{},
	})
}

func (m *ManagerService) toggleLanguage(ctx context.Context, op *models.Participant, msgID int, lang language.Language) {
	m.mu.Lock()
	setup, ok := m.setups[op.ChatID]
	if !ok || setup.count == 0 {
		m.mu.Unlock()
		return
	}
	idx := -1
	for i, l := range setup.selected {
		if l == lang {
			idx = i
		}
	}
	switch {
	case idx >= 0:
		setup.selected = append(setup.selected[:idx], setup.selected[idx+1:]...)
	case len(setup.selected) < setup.count:
		setup.selected = append(setup.selected, lang)
	}
	selected := append([]language.Language(nil), setup.selected...)
	m.mu.Unlock()

	m.edit(ctx, Edit{
		ChatID:    op.ChatID,
		MessageID: msgID,
		Locale:    op.Language.Locale(),
		Content:   TextContent(m.text(op, "operator_select_languages", map[string]string{"total": fmt.Sprint(len(selected))})),
		Keyboard:  LanguageSelect{Selected: selected},
	})
}

func (m *ManagerService) confirmLanguages(ctx context.Context, op *models.Participant, msgID int) error {
	m.mu.Lock()
	setup, ok := m.setups[op.ChatID]
	if !ok || setup.count == 0 {
		m.mu.Unlock()
		return nil
	}
	count, selected := setup.count, append([]language.Language(nil), setup.selected...)
	if len(selected) == count {
		delete(m.setups, op.ChatID)
	}
	m.mu.Unlock()

	if len(selected) != count {
		m.notify(ctx, op, "operator_select_more_languages", map[string]string{
			"total": fmt.Sprint(count),
			"count": fmt.Sprint(len(selected)),
		}, nil)
		return nil
	}

	if err := m.Storage.SetServedLanguages(ctx, op.ChatID, selected); err != nil {
		return fmt.Errorf("save languages of %s: %w", op.ChatID, err)
	}
	m.log.WithFields(logrus.Fields{"operator": op.ChatID, "languages": selected}).Info("operator languages saved")
	m.clearKeyboard(ctx, op.ChatID, msgID)
	m.notify(ctx, op, "operator_languages_saved", nil, BeginButton{})
	return nil
}

func (m *ManagerService) confirmPhoneChange(ctx context.Context, u *models.Participant, msgID int, accept bool) error {
	m.mu.Lock()
	phone, ok := m.phoneChanges[u.ChatID]
	delete(m.phoneChanges, u.ChatID)
	m.mu.Unlock()

	m.clearKeyboard(ctx, u.ChatID, msgID)
	if !ok {
		return nil
	}
	if !accept {
		m.notify(ctx, u, "phone_change_cancelled", nil, nil)
		return nil
	}
	if err := m.Storage.SetPhone(ctx, u.ChatID, phone); err != nil {
		return fmt.Errorf("change phone of %s: %w", u.ChatID, err)
	}
	m.notify(ctx, u, "phone_changed", nil, nil)
	return nil
}
