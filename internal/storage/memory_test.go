package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func addOperator(t *testing.T, m *MemoryStore, chatID string, langs ...string) {
	t.Helper()
	require.NoError(t, m.CreateParticipant(context.Background(), &models.Participant{
		ChatID: chatID, Role: models.RoleOperator, Language: language.ENG, Languages: langs,
	}))
}

func TestMemoryStore_SoftDeletedChatStaysReserved(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	addOperator(t, m, "10", "UZB")

	require.NoError(t, m.SoftDelete(ctx, "10"))
	_, err := m.FindParticipant(ctx, "10")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.SetBusy(ctx, "10", true), ErrNotFound)

	err = m.CreateParticipant(ctx, &models.Participant{ChatID: "10", Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStore_FindAvailableOperator(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	addOperator(t, m, "busy", "RUS")
	addOperator(t, m, "paused", "RUS")
	addOperator(t, m, "free", "UZB", "RUS")
	require.NoError(t, m.SetBusy(ctx, "busy", true))
	require.NoError(t, m.SetSessionEnded(ctx, "paused", true))

	id, err := m.FindAvailableOperator(ctx, language.RUS, true)
	require.NoError(t, err)
	assert.Equal(t, "free", id)

	id, err = m.FindAvailableOperator(ctx, language.RUS, false)
	require.NoError(t, err)
	assert.Equal(t, "busy", id, "oldest non-paused operator wins when busy is allowed")

	id, err = m.FindAvailableOperator(ctx, language.ENG, false)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMemoryStore_ClaimOperatorIsExclusive(t *testing.T) {
	m := NewMemoryStore()
	addOperator(t, m, "10", "UZB")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.ClaimOperator(context.Background(), "10")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestMemoryStore_UserLanguageIsSingleton(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.CreateParticipant(ctx, &models.Participant{ChatID: "1", Role: models.RoleUser, Language: language.UZB}))

	require.NoError(t, m.SetLanguage(ctx, "1", language.ENG))
	p, err := m.FindParticipant(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, language.ENG, p.Language)
	assert.Equal(t, []language.Language{language.ENG}, p.ServedLanguages())
}

func TestMemoryStore_SessionsAndPending(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, &models.Session{OperatorChatID: "10", UserChatID: "1", Active: true}))
	require.NoError(t, m.CreateSession(ctx, &models.Session{OperatorChatID: "10", UserChatID: "2", Active: true}))
	assert.ErrorIs(t, m.CreateSession(ctx, &models.Session{OperatorChatID: "10", UserChatID: "1"}), ErrDuplicate)

	users, err := m.ActiveUsers(ctx, "10")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, users)

	ended, err := m.DeactivateByUser(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, ended)
	op, err := m.ActiveOperator(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, op)

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.AppendPending(ctx, &models.PendingMessage{UserChatID: "1", UserMessageID: i, Kind: models.KindText, Text: fmt.Sprint(i)}))
	}
	taken, err := m.TakePending(ctx, "1")
	require.NoError(t, err)
	require.Len(t, taken, 3)
	for i, msg := range taken {
		assert.Equal(t, i+1, msg.UserMessageID)
	}
	n, err := m.CountPending(ctx, "1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_Mappings(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.SaveMapping(ctx, &models.MessageMapping{OperatorChatID: "10", UserChatID: "1", OperatorMessageID: 100, UserMessageID: 5}))
	require.NoError(t, m.SaveMapping(ctx, &models.MessageMapping{OperatorChatID: "10", UserChatID: "2", OperatorMessageID: 100, UserMessageID: 7}))

	mm, err := m.FindByUserMessage(ctx, "1", 5)
	require.NoError(t, err)
	assert.Equal(t, 100, mm.OperatorMessageID)
	assert.NotEmpty(t, mm.ID)

	_, err = m.FindByUserMessage(ctx, "1", 6)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := m.FindByOperatorMessage(ctx, "10", 100)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), ErrNotFound)

	dup := translate(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey))
	assert.ErrorIs(t, dup, ErrDuplicate)

	other := errors.New("connection reset")
	assert.Equal(t, other, translate(other))
}
