// Package pending buffers user messages that arrive while no operator is
// connected and hands them over, in arrival order, once a session starts.
package pending

import (
	"context"
	"fmt"

	"supportdesk/backend/internal/locks"
	"supportdesk/backend/internal/models"
	"supportdesk/backend/internal/storage"

	"github.com/sirupsen/logrus"
)

// Buffer serializes appends and flushes per user over a durable PendingStore.
type Buffer struct {
	store storage.PendingStore
	locks *locks.Keyed
	log   logrus.FieldLogger
}

func NewBuffer(store storage.PendingStore, log logrus.FieldLogger) *Buffer {
	return &Buffer{
		store: store,
		locks: locks.NewKeyed(),
		log:   log,
	}
}

// Append stores msg as PENDING for its user.
func (b *Buffer) Append(ctx context.Context, msg *models.PendingMessage) error {
	unlock := b.locks.Lock(msg.UserChatID)
	defer unlock()

	msg.Status = models.PendingStatusPending
	if err := b.store.AppendPending(ctx, msg); err != nil {
		return fmt.Errorf("append pending for %s: %w", msg.UserChatID, err)
	}
	return nil
}

// Flush returns every PENDING message of the user in arrival order and marks
// them DELIVERED. A second flush with no appends in between returns nothing.
func (b *Buffer) Flush(ctx context.Context, userChatID string) ([]models.PendingMessage, error) {
	unlock := b.locks.Lock(userChatID)
	defer unlock()

	msgs, err := b.store.TakePending(ctx, userChatID)
	if err != nil {
		return nil, fmt.Errorf("flush pending for %s: %w", userChatID, err)
	}
	if len(msgs) > 0 {
		b.log.WithFields(logrus.Fields{"user": userChatID, "count": len(msgs)}).Debug("pending messages flushed")
	}
	return msgs, nil
}

// Discard drops the user's undelivered messages and reports how many there were.
func (b *Buffer) Discard(ctx context.Context, userChatID string) (int64, error) {
	unlock := b.locks.Lock(userChatID)
	defer unlock()

	n, err := b.store.DiscardPending(ctx, userChatID)
	if err != nil {
		return 0, fmt.Errorf("discard pending for %s: %w", userChatID, err)
	}
	return n, nil
}

func (b *Buffer) Count(ctx context.Context, userChatID string) (int64, error) {
	return b.store.CountPending(ctx, userChatID)
}
