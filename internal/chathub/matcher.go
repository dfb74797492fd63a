package chathub

import (
	"context"
	"errors"
	"fmt"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"
	"supportdesk/backend/internal/queue"
	"supportdesk/backend/internal/storage"

	"github.com/sirupsen/logrus"
)

// MatcherService picks who gets paired next: an operator for a waiting user,
// or a waiting user for a freed operator.
type MatcherService struct {
	Storage storage.Storage
	Queues  queue.Manager
	log     logrus.FieldLogger
}

// NewMatcherService creates a new Matcher.
func NewMatcherService(s storage.Storage, q queue.Manager, log logrus.FieldLogger) *MatcherService {
	return &MatcherService{
		Storage: s,
		Queues:  q,
		log:     log,
	}
}

// PickOperator returns the oldest registered operator serving lang that is not
// deleted and not paused. With requireNotBusy set, operators in a session are
// skipped as well. It returns "" when nobody qualifies.
func (m *MatcherService) PickOperator(ctx context.Context, lang language.Language, requireNotBusy bool) (string, error) {
	op, err := m.Storage.FindAvailableOperator(ctx, lang, requireNotBusy)
	if err != nil {
		return "", fmt.Errorf("pick operator for %s: %w", lang, err)
	}
	return op, nil
}

// PickWaitingUser walks langs in the given order and dequeues the head of the
// first non-empty queue. Entries whose user has since left, paused or been
// paired are dropped and the walk continues with the next head.
func (m *MatcherService) PickWaitingUser(ctx context.Context, langs []language.Language) (string, language.Language, error) {
	for _, lang := range langs {
		for {
			userID, ok, err := m.Queues.Dequeue(ctx, lang)
			if err != nil {
				return "", "", fmt.Errorf("dequeue %s: %w", lang, err)
			}
			if !ok {
				break
			}

			waiting, err := m.stillWaiting(ctx, userID)
			if err != nil {
				return "", "", err
			}
			if waiting {
				return userID, lang, nil
			}
			m.log.WithFields(logrus.Fields{"user": userID, "language": lang}).Debug("dropped stale queue entry")
		}
	}
	return "", "", nil
}

func (m *MatcherService) stillWaiting(ctx context.Context, userID string) (bool, error) {
	p, err := m.Storage.FindParticipant(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find waiting user %s: %w", userID, err)
	}
	if p.Role != models.RoleUser || p.SessionEnded {
		return false, nil
	}
	op, err := m.Storage.ActiveOperator(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("active operator of %s: %w", userID, err)
	}
	return op == "", nil
}
