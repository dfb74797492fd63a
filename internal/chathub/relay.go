package chathub

import (
	"context"
	"errors"

	"supportdesk/backend/internal/models"
	"supportdesk/backend/internal/storage"

	"github.com/sirupsen/logrus"
)

// deliverPending flushes the user's buffer to the operator in arrival order.
func (m *ManagerService) deliverPending(ctx context.Context, opChatID, userChatID string) {
	msgs, err := m.Pending.Flush(ctx, userChatID)
	if err != nil {
		m.log.WithError(err).WithField("user", userChatID).Error("failed to flush pending messages")
		return
	}
	if len(msgs) == 0 {
		return
	}
	user, err := m.requireUser(ctx, userChatID)
	if err != nil {
		m.log.WithError(err).Warn("pending messages lost their sender")
		return
	}
	for _, msg := range msgs {
		content := Content{Kind: msg.Kind, Text: msg.Text, FileID: msg.FileID}
		_ = m.relayToOperator(ctx, opChatID, user, content, msg.UserMessageID, 0)
	}
}

// relayToOperator copies a user message into the operator chat and records
// the mapping. replyTo is a message id in the user chat.
func (m *ManagerService) relayToOperator(ctx context.Context, opChatID string, user *models.Participant, c Content, userMsgID, replyTo int) error {
	out := Outgoing{ChatID: opChatID, Content: c}
	if replyTo != 0 {
		mapping, err := m.Storage.FindByUserMessage(ctx, user.ChatID, replyTo)
		if err == nil && mapping.OperatorChatID == opChatID {
			out.ReplyTo = mapping.OperatorMessageID
		}
	}

	sentID, err := m.send(ctx, out)
	if err != nil {
		return err
	}
	m.saveMapping(ctx, &models.MessageMapping{
		OperatorChatID:    opChatID,
		OperatorMessageID: sentID,
		UserChatID:        user.ChatID,
		UserMessageID:     userMsgID,
	}, c)
	return nil
}

// relayToUser copies an operator message into the user chat and records the
// mapping. replyTo is a message id in the operator chat.
func (m *ManagerService) relayToUser(ctx context.Context, op, user *models.Participant, c Content, opMsgID, replyTo int) error {
	out := Outgoing{ChatID: user.ChatID, Locale: user.Language.Locale(), Content: c}
	if replyTo != 0 {
		mappings, err := m.Storage.FindByOperatorMessage(ctx, op.ChatID, replyTo)
		if err == nil {
			for _, mm := range mappings {
				if mm.UserChatID == user.ChatID {
					out.ReplyTo = mm.UserMessageID
					break
				}
			}
		}
	}

	sentID, err := m.send(ctx, out)
	if err != nil {
		return err
	}
	m.saveMapping(ctx, &models.MessageMapping{
		OperatorChatID:    op.ChatID,
		OperatorMessageID: opMsgID,
		UserChatID:        user.ChatID,
		UserMessageID:     sentID,
	}, c)
	return nil
}

func (m *ManagerService) saveMapping(ctx context.Context, mm *models.MessageMapping, c Content) {
	mm.Kind = c.Kind
	mm.Payload = c.Text
	if c.FileID != "" {
		fileID := c.FileID
		mm.FileID = &fileID
	}
	if err := m.Storage.SaveMapping(ctx, mm); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"operator": mm.OperatorChatID,
			"user":     mm.UserChatID,
		}).Error("failed to save message mapping")
	}
}

// relayUserEdit propagates an edited user message to its copy in the operator chat.
func (m *ManagerService) relayUserEdit(ctx context.Context, u *models.Participant, ev Event) error {
	if ev.Content.Kind == "" {
		return nil
	}
	mapping, err := m.Storage.FindByUserMessage(ctx, u.ChatID, ev.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		m.log.WithField("chat_id", u.ChatID).Debug("edit of an unrelayed message ignored")
		return nil
	}
	if err != nil {
		return err
	}
	m.edit(ctx, Edit{
		ChatID:    mapping.OperatorChatID,
		MessageID: mapping.OperatorMessageID,
		Content:   ev.Content,
	})
	return nil
}

// relayOperatorEdit propagates an edited operator message to every user copy.
func (m *ManagerService) relayOperatorEdit(ctx context.Context, op *models.Participant, ev Event) error {
	if ev.Content.Kind == "" {
		return nil
	}
	mappings, err := m.Storage.FindByOperatorMessage(ctx, op.ChatID, ev.MessageID)
	if err != nil {
		return err
	}
	for _, mm := range mappings {
		m.edit(ctx, Edit{
			ChatID:    mm.UserChatID,
			MessageID: mm.UserMessageID,
			Content:   ev.Content,
		})
	}
	return nil
}
