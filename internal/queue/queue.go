// Package queue keeps the per-language FIFO queues of users waiting for an operator.
package queue

import (
	"context"

	"supportdesk/backend/internal/language"
)

// Manager is a set of per-language FIFO queues of user chat ids.
// A user appears at most once per language queue. Implementations must be
// safe for concurrent use.
type Manager interface {
	// Enqueue adds userID to the tail of the queue for lang unless it is already
	// queued, and returns its 1-based position.
	Enqueue(ctx context.Context, lang language.Language, userID string) (int, error)
	// Dequeue pops the oldest entry. ok is false when the queue is empty.
	Dequeue(ctx context.Context, lang language.Language) (userID string, ok bool, err error)
	Contains(ctx context.Context, lang language.Language, userID string) (bool, error)
	// Position returns the 1-based position of userID, or 0 when it is not queued.
	Position(ctx context.Context, lang language.Language, userID string) (int, error)
	Remove(ctx context.Context, lang language.Language, userID string) (bool, error)
	Len(ctx context.Context, lang language.Language) (int, error)
}

// Snapshot returns the queue length of every supported language.
func Snapshot(ctx context.Context, m Manager) (map[language.Language]int, error) {
	out := make(map[language.Language]int)
	for _, l := range language.Members() {
		n, err := m.Len(ctx, l)
		if err != nil {
			return nil, err
		}
		out[l] = n
	}
	return out, nil
}
