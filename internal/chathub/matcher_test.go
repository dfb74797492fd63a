package chathub_test

import (
	"context"
	"testing"
	"time"

	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMatcher_PickOperatorOldestFirst checks seniority and the busy, paused and deleted filters.
func TestMatcher_PickOperatorOldestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addOperator(t, "old", language.ENG)
	f.addOperator(t, "young", language.ENG, language.RUS)
	matcher := f.manager.Matcher

	op, err := matcher.PickOperator(ctx, language.ENG, true)
	require.NoError(t, err)
	assert.Equal(t, "old", op)

	require.NoError(t, f.store.SetBusy(ctx, "old", true))
	op, err = matcher.PickOperator(ctx, language.ENG, true)
	require.NoError(t, err)
	assert.Equal(t, "young", op)

	// without the busy filter seniority wins again
	op, err = matcher.PickOperator(ctx, language.ENG, false)
	require.NoError(t, err)
	assert.Equal(t, "old", op)

	require.NoError(t, f.store.SetSessionEnded(ctx, "young", true))
	op, err = matcher.PickOperator(ctx, language.ENG, true)
	require.NoError(t, err)
	assert.Empty(t, op)

	require.NoError(t, f.store.SoftDelete(ctx, "old"))
	op, err = matcher.PickOperator(ctx, language.ENG, false)
	require.NoError(t, err)
	assert.Empty(t, op)

	op, err = matcher.PickOperator(ctx, language.UZB, false)
	require.NoError(t, err)
	assert.Empty(t, op)
}

func TestMatcher_PickWaitingUserUsesLanguageOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "eng", language.ENG)
	f.addUser(t, "rus", language.RUS)
	_, err := f.queues.Enqueue(ctx, language.ENG, "eng")
	require.NoError(t, err)
	_, err = f.queues.Enqueue(ctx, language.RUS, "rus")
	require.NoError(t, err)

	user, lang, err := f.manager.Matcher.PickWaitingUser(ctx, []language.Language{language.RUS, language.ENG})
	require.NoError(t, err)
	assert.Equal(t, "rus", user)
	assert.Equal(t, language.RUS, lang)

	user, lang, err = f.manager.Matcher.PickWaitingUser(ctx, []language.Language{language.RUS, language.ENG})
	require.NoError(t, err)
	assert.Equal(t, "eng", user)
	assert.Equal(t, language.ENG, lang)

	user, _, err = f.manager.Matcher.PickWaitingUser(ctx, []language.Language{language.RUS, language.ENG})
	require.NoError(t, err)
	assert.Empty(t, user)
}

// Entries of users that paused, were deleted or got paired meanwhile are skipped.
func TestMatcher_PickWaitingUserSkipsStaleEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addOperator(t, "op", language.ENG)
	for _, u := range []string{"paused", "deleted", "paired", "ready"} {
		f.addUser(t, u, language.ENG)
		_, err := f.queues.Enqueue(ctx, language.ENG, u)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.SetSessionEnded(ctx, "paused", true))
	require.NoError(t, f.store.SoftDelete(ctx, "deleted"))
	require.NoError(t, f.manager.Sessions.Establish(ctx, "op", "paired"))
	_, err := f.queues.Enqueue(ctx, language.ENG, "ghost")
	require.NoError(t, err)

	user, _, err := f.manager.Matcher.PickWaitingUser(ctx, []language.Language{language.ENG})
	require.NoError(t, err)
	assert.Equal(t, "ready", user)

	n, err := f.queues.Len(ctx, language.ENG)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the ghost entry queued after ready remains")
}

func TestEventHub_FansOutToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := chathub.NewEventHub(quietLogger())
	go hub.Run(ctx)

	a := &chathub.EventClient{Hub: hub, Send: make(chan models.RoutingEvent, 4)}
	b := &chathub.EventClient{Hub: hub, Send: make(chan models.RoutingEvent, 4)}
	hub.RegisterCh <- a
	hub.RegisterCh <- b
	assert.Equal(t, 2, hub.ClientCount())

	ev := models.RoutingEvent{ID: "1", Type: models.EventSessionStarted, OperatorChatID: "op", UserChatID: "u1"}
	require.NoError(t, hub.PublishEvent(ctx, ev))

	for _, c := range []*chathub.EventClient{a, b} {
		select {
		case got := <-c.Send:
			assert.Equal(t, ev, got)
		case <-time.After(time.Second):
			t.Fatal("client did not receive the event")
		}
	}

	hub.UnregisterCh <- a
	_, open := <-a.Send
	assert.False(t, open)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestEventHub_StoppedHubDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := chathub.NewEventHub(quietLogger())
	go hub.Run(ctx)

	c := &chathub.EventClient{Hub: hub, Send: make(chan models.RoutingEvent, 1)}
	hub.RegisterCh <- c
	cancel()

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	_, open := <-c.Send
	assert.False(t, open)

	counted := make(chan int, 1)
	go func() { counted <- hub.ClientCount() }()
	select {
	case n := <-counted:
		assert.Zero(t, n)
	case <-time.After(time.Second):
		t.Fatal("ClientCount blocked after the hub stopped")
	}
}
