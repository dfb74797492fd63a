// Package storage is the persistence layer: the participant directory, session
// records, the pending message store and message mappings.
package storage

import (
	"context"
	"errors"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("storage: duplicate")
)

// Directory looks up and mutates participants. Soft-deleted participants are
// invisible to every lookup.
type Directory interface {
	FindParticipant(ctx context.Context, chatID string) (*models.Participant, error)
	CreateParticipant(ctx context.Context, p *models.Participant) error
	ListOperators(ctx context.Context) ([]models.Participant, error)

	SetLanguage(ctx context.Context, chatID string, lang language.Language) error
	SetServedLanguages(ctx context.Context, chatID string, langs []language.Language) error
	SetPhone(ctx context.Context, chatID, phone string) error
	SetBusy(ctx context.Context, chatID string, busy bool) error
	SetSessionEnded(ctx context.Context, chatID string, ended bool) error
	SoftDelete(ctx context.Context, chatID string) error

	// ClaimOperator atomically flips busy from false to true. It reports false
	// when the operator was already busy.
	ClaimOperator(ctx context.Context, chatID string) (bool, error)
	// FindAvailableOperator returns the oldest registered operator serving lang
	// that is neither deleted nor paused, optionally also not busy. It returns
	// "" when there is none.
	FindAvailableOperator(ctx context.Context, lang language.Language, requireNotBusy bool) (string, error)
}

// SessionStore persists operator-user pairings.
type SessionStore interface {
	FindSession(ctx context.Context, operatorChatID, userChatID string) (*models.Session, error)
	// CreateSession inserts a new active session; ErrDuplicate when the pair exists.
	CreateSession(ctx context.Context, s *models.Session) error
	ActivateSession(ctx context.Context, operatorChatID, userChatID string) error
	// DeactivateByOperator ends every active session of the operator and returns the users.
	DeactivateByOperator(ctx context.Context, operatorChatID string) ([]string, error)
	// DeactivateByUser ends every active session of the user and returns the operators.
	DeactivateByUser(ctx context.Context, userChatID string) ([]string, error)
	ActiveUsers(ctx context.Context, operatorChatID string) ([]string, error)
	// ActiveOperator returns "" when the user has no active session.
	ActiveOperator(ctx context.Context, userChatID string) (string, error)
}

// PendingStore is the durable queue of undelivered user messages.
type PendingStore interface {
	AppendPending(ctx context.Context, m *models.PendingMessage) error
	// TakePending returns the user's PENDING messages in arrival order and marks
	// exactly those rows DELIVERED in one atomic step.
	TakePending(ctx context.Context, userChatID string) ([]models.PendingMessage, error)
	DiscardPending(ctx context.Context, userChatID string) (int64, error)
	CountPending(ctx context.Context, userChatID string) (int64, error)
}

// MappingStore records relayed message pairs for reply and edit threading.
type MappingStore interface {
	SaveMapping(ctx context.Context, m *models.MessageMapping) error
	// FindByUserMessage returns the newest mapping of a user-side message.
	FindByUserMessage(ctx context.Context, userChatID string, userMessageID int) (*models.MessageMapping, error)
	// FindByOperatorMessage returns every mapping of an operator-side message;
	// a broadcast produces one per user.
	FindByOperatorMessage(ctx context.Context, operatorChatID string, operatorMessageID int) ([]models.MessageMapping, error)
}

// EventPublisher fans routing events out to other processes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.RoutingEvent) error
}

// Storage is the full persistence surface used by the bot.
type Storage interface {
	Directory
	SessionStore
	PendingStore
	MappingStore
}
