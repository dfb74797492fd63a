package queue

import (
	"context"
	"sync"

	"supportdesk/backend/internal/language"
)

// Memory is the in-process Manager. Queues are not persisted and are lost on restart.
type Memory struct {
	mu     sync.Mutex
	queues map[language.Language][]string
}

// NewMemory creates an empty in-memory queue manager.
func NewMemory() *Memory {
	return &Memory{queues: make(map[language.Language][]string)}
}

var _ Manager = (*Memory)(nil)

func (m *Memory) Enqueue(_ context.Context, lang language.Language, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[lang]
	if i := indexOf(q, userID); i >= 0 {
		return i + 1, nil
	}
	m.queues[lang] = append(q, userID)
	return len(q) + 1, nil
}

func (m *Memory) Dequeue(_ context.Context, lang language.Language) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[lang]
	if len(q) == 0 {
		return "", false, nil
	}
	head := q[0]
	q[0] = ""
	m.queues[lang] = q[1:]
	return head, true, nil
}

func (m *Memory) Contains(_ context.Context, lang language.Language, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return indexOf(m.queues[lang], userID) >= 0, nil
}

func (m *Memory) Position(_ context.Context, lang language.Language, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return indexOf(m.queues[lang], userID) + 1, nil
}

func (m *Memory) Remove(_ context.Context, lang language.Language, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[lang]
	i := indexOf(q, userID)
	if i < 0 {
		return false, nil
	}
	m.queues[lang] = append(q[:i:i], q[i+1:]...)
	return true, nil
}

func (m *Memory) Len(_ context.Context, lang language.Language) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[lang]), nil
}

func indexOf(q []string, userID string) int {
	for i, id := range q {
		if id == userID {
			return i
		}
	}
	return -1
}
