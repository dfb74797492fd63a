package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// MemoryStore is a process-local Storage. It backs the "memory" storage
// backend for local runs and the routing tests.
type MemoryStore struct {
	mu           sync.Mutex
	seq          int64
	participants map[string]*memParticipant
	sessions     []*models.Session
	pending      []*models.PendingMessage
	mappings     []*models.MessageMapping
	events       []models.RoutingEvent
}

type memParticipant struct {
	p   models.Participant
	seq int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{participants: make(map[string]*memParticipant)}
}

var (
	_ Storage        = (*MemoryStore)(nil)
	_ EventPublisher = (*MemoryStore)(nil)
)

func (m *MemoryStore) next() int64 {
	m.seq++
	return m.seq
}

func (m *MemoryStore) live(chatID string) (*memParticipant, bool) {
	mp, ok := m.participants[chatID]
	if !ok || mp.p.Deleted {
		return nil, false
	}
	return mp, true
}

func (m *MemoryStore) mutate(chatID string, fn func(p *models.Participant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.live(chatID)
	if !ok {
		return ErrNotFound
	}
	fn(&mp.p)
	mp.p.UpdatedAt = time.Now()
	return nil
}

func copyParticipant(p models.Participant) *models.Participant {
	p.Languages = append(pq.StringArray(nil), p.Languages...)
	return &p
}

func (m *MemoryStore) FindParticipant(_ context.Context, chatID string) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.live(chatID)
	if !ok {
		return nil, ErrNotFound
	}
	return copyParticipant(mp.p), nil
}

func (m *MemoryStore) CreateParticipant(_ context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.participants[p.ChatID]; exists {
		return ErrDuplicate
	}
	if err := p.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.participants[p.ChatID] = &memParticipant{p: *copyParticipant(*p), seq: m.next()}
	return nil
}

func (m *MemoryStore) ListOperators(_ context.Context) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ops []*memParticipant
	for _, mp := range m.participants {
		if !mp.p.Deleted && mp.p.Role == models.RoleOperator {
			ops = append(ops, mp)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].seq < ops[j].seq })
	out := make([]models.Participant, len(ops))
	for i, mp := range ops {
		out[i] = *copyParticipant(mp.p)
	}
	return out, nil
}

func (m *MemoryStore) SetLanguage(_ context.Context, chatID string, lang language.Language) error {
	return m.mutate(chatID, func(p *models.Participant) {
		p.Language = lang
		if p.Role == models.RoleUser {
			p.Languages = pq.StringArray{string(lang)}
		}
	})
}

func (m *MemoryStore) SetServedLanguages(_ context.Context, chatID string, langs []language.Language) error {
	return m.mutate(chatID, func(p *models.Participant) { p.Languages = language.Strings(langs) })
}

func (m *MemoryStore) SetPhone(_ context.Context, chatID, phone string) error {
	return m.mutate(chatID, func(p *models.Participant) { p.PhoneNumber = phone })
}

func (m *MemoryStore) SetBusy(_ context.Context, chatID string, busy bool) error {
	return m.mutate(chatID, func(p *models.Participant) { p.Busy = busy })
}

func (m *MemoryStore) SetSessionEnded(_ context.Context, chatID string, ended bool) error {
	return m.mutate(chatID, func(p *models.Participant) { p.SessionEnded = ended })
}

func (m *MemoryStore) SoftDelete(_ context.Context, chatID string) error {
	return m.mutate(chatID, func(p *models.Participant) {
		p.Deleted = true
		p.Busy = false
	})
}

func (m *MemoryStore) ClaimOperator(_ context.Context, chatID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.live(chatID)
	if !ok || mp.p.Role != models.RoleOperator || mp.p.Busy {
		return false, nil
	}
	mp.p.Busy = true
	return true, nil
}

func (m *MemoryStore) FindAvailableOperator(_ context.Context, lang language.Language, requireNotBusy bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *memParticipant
	for _, mp := range m.participants {
		p := mp.p
		if p.Deleted || p.Role != models.RoleOperator || p.SessionEnded {
			continue
		}
		if requireNotBusy && p.Busy {
			continue
		}
		if !serves(p.Languages, lang) {
			continue
		}
		if best == nil || mp.seq < best.seq {
			best = mp
		}
	}
	if best == nil {
		return "", nil
	}
	return best.p.ChatID, nil
}

func serves(langs pq.StringArray, lang language.Language) bool {
	for _, l := range langs {
		if l == string(lang) {
			return true
		}
	}
	return false
}

// --- SessionStore ---

func (m *MemoryStore) findSession(op, user string) *models.Session {
	for _, s := range m.sessions {
		if s.OperatorChatID == op && s.UserChatID == user {
			return s
		}
	}
	return nil
}

func (m *MemoryStore) FindSession(_ context.Context, operatorChatID, userChatID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findSession(operatorChatID, userChatID)
	if s == nil {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findSession(s.OperatorChatID, s.UserChatID) != nil {
		return ErrDuplicate
	}
	now := time.Now()
	s.ID = uint(m.next())
	s.CreatedAt, s.UpdatedAt = now, now
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	cp := *s
	m.sessions = append(m.sessions, &cp)
	return nil
}

func (m *MemoryStore) ActivateSession(_ context.Context, operatorChatID, userChatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findSession(operatorChatID, userChatID)
	if s == nil {
		return ErrNotFound
	}
	s.Active = true
	s.StartedAt = time.Now()
	s.EndedAt = nil
	return nil
}

func (m *MemoryStore) DeactivateByOperator(_ context.Context, operatorChatID string) ([]string, error) {
	return m.deactivate(func(s *models.Session) (bool, string) {
		return s.OperatorChatID == operatorChatID, s.UserChatID
	}), nil
}

func (m *MemoryStore) DeactivateByUser(_ context.Context, userChatID string) ([]string, error) {
	return m.deactivate(func(s *models.Session) (bool, string) {
		return s.UserChatID == userChatID, s.OperatorChatID
	}), nil
}

func (m *MemoryStore) deactivate(match func(*models.Session) (bool, string)) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	now := time.Now()
	for _, s := range m.sessions {
		ok, counterpart := match(s)
		if !ok || !s.Active {
			continue
		}
		s.Active = false
		s.EndedAt = &now
		out = append(out, counterpart)
	}
	return out
}

func (m *MemoryStore) ActiveUsers(_ context.Context, operatorChatID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sessions {
		if s.OperatorChatID == operatorChatID && s.Active {
			out = append(out, s.UserChatID)
		}
	}
	return out, nil
}

func (m *MemoryStore) ActiveOperator(_ context.Context, userChatID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		s := m.sessions[i]
		if s.UserChatID == userChatID && s.Active {
			return s.OperatorChatID, nil
		}
	}
	return "", nil
}

// CountActiveSessions returns how many active rows exist for a pair.
func (m *MemoryStore) CountActiveSessions(operatorChatID, userChatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.OperatorChatID == operatorChatID && s.UserChatID == userChatID && s.Active {
			n++
		}
	}
	return n
}

// --- PendingStore ---

func (m *MemoryStore) AppendPending(_ context.Context, msg *models.PendingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uint(m.next())
	msg.Status = models.PendingStatusPending
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	m.pending = append(m.pending, &cp)
	return nil
}

func (m *MemoryStore) TakePending(_ context.Context, userChatID string) ([]models.PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PendingMessage
	now := time.Now()
	for _, p := range m.pending {
		if p.UserChatID != userChatID || p.Status != models.PendingStatusPending {
			continue
		}
		p.Status = models.PendingStatusDelivered
		p.DeliveredAt = &now
		out = append(out, *p)
	}
	return out, nil
}

func (m *MemoryStore) DiscardPending(_ context.Context, userChatID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pending[:0]
	var n int64
	for _, p := range m.pending {
		if p.UserChatID == userChatID && p.Status == models.PendingStatusPending {
			n++
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept
	return n, nil
}

func (m *MemoryStore) CountPending(_ context.Context, userChatID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.pending {
		if p.UserChatID == userChatID && p.Status == models.PendingStatusPending {
			n++
		}
	}
	return n, nil
}

// --- MappingStore ---

func (m *MemoryStore) SaveMapping(_ context.Context, mm *models.MessageMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm.ID == "" {
		mm.ID = uuid.New().String()
	}
	if mm.CreatedAt.IsZero() {
		mm.CreatedAt = time.Now()
	}
	cp := *mm
	m.mappings = append(m.mappings, &cp)
	return nil
}

func (m *MemoryStore) FindByUserMessage(_ context.Context, userChatID string, userMessageID int) (*models.MessageMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.mappings) - 1; i >= 0; i-- {
		mm := m.mappings[i]
		if mm.UserChatID == userChatID && mm.UserMessageID == userMessageID {
			cp := *mm
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByOperatorMessage(_ context.Context, operatorChatID string, operatorMessageID int) ([]models.MessageMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MessageMapping
	for _, mm := range m.mappings {
		if mm.OperatorChatID == operatorChatID && mm.OperatorMessageID == operatorMessageID {
			out = append(out, *mm)
		}
	}
	return out, nil
}

// --- EventPublisher ---

func (m *MemoryStore) PublishEvent(_ context.Context, ev models.RoutingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of every published routing event.
func (m *MemoryStore) Events() []models.RoutingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RoutingEvent(nil), m.events...)
}
