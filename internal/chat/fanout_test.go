package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presenceEvent(userId string) types.Event {
	return types.Event{PresenceChanged: &types.PresenceChanged{UserId: userId, NewState: types.PresenceOnline}}
}

func TestHub_SubscribeDeliverUnsubscribe(t *testing.T) {
	su := new(stats.MockStatsUpdater)
	su.On("Incr", stats.ActiveSessions).Twice()
	su.On("Decr", stats.ActiveSessions).Twice()
	h := newHub(testutil.TestLogger(t), su, 8)

	s1 := h.subscribe("s1", "u1")
	s2 := h.subscribe("s2", "u1")
	assert.Equal(t, 2, h.sessionCount("u1"))

	h.deliver([]string{"u1", "u2"}, presenceEvent("u3"))
	assert.Len(t, s1.Events(), 1)
	assert.Len(t, s2.Events(), 1)

	h.deliver([]string{"u1"}, presenceEvent("u4"))
	assert.True(t, h.unsubscribe(s1))
	assert.False(t, h.unsubscribe(s1), "second unsubscribe is a no-op")
	assert.Empty(t, s1.Events(), "queued events are dropped")

	select {
	case <-s1.Done():
	default:
		t.Fatal("expected done to be closed")
	}

	h.deliver([]string{"u1"}, presenceEvent("u5"))
	assert.Len(t, s2.Events(), 3)
	assert.Empty(t, s1.Events())

	h.closeAll()
	assert.Equal(t, 0, h.sessionCount("u1"))
	su.AssertExpectations(t)
}

func TestHub_EvictsOverflowingSession(t *testing.T) {
	h := newHub(testutil.TestLogger(t), new(stats.MockStatsUpdater).AllowAll(), 2)

	slow := h.subscribe("slow", "u1")
	fast := h.subscribe("fast", "u2")

	for range 3 {
		h.deliver([]string{"u1", "u2"}, presenceEvent("u3"))
		drain(fast)
	}

	assert.True(t, slow.Evicted())
	assert.False(t, fast.Evicted())
	assert.Equal(t, 0, h.sessionCount("u1"))
	assert.Equal(t, 1, h.sessionCount("u2"))

	select {
	case <-slow.Done():
	default:
		t.Fatal("evicted session must be torn down")
	}
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, dedupe(nil))
}

func TestService_EventsPerConversationOrder(t *testing.T) {
	s, _ := newTestService(t, Options{})
	a := mustUser(t, s, "alice")
	b := mustUser(t, s, "bob")

	sess, err := s.Subscribe("b-1", b.Id)
	require.NoError(t, err)

	active := MemberSpec{Username: "bob", Status: types.StatusActive}
	c1 := mustConversation(t, s, a, "One", active)
	c2 := mustConversation(t, s, a, "Two", active)

	var wg sync.WaitGroup
	for _, conv := range []types.Conversation{c1, c2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, text := range []string{"1", "2", "3", "4", "5"} {
				_, err := s.Append(context.Background(), conv.Id, a.Id, text, nil, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events := drain(sess)
	want := []string{"1", "2", "3", "4", "5"}
	assert.Equal(t, want, messageTexts(events, c1.Id))
	assert.Equal(t, want, messageTexts(events, c2.Id))

	// unread counters for a conversation only ever count up between resets
	last := map[string]int{}
	for _, ev := range events {
		if u := ev.UnreadCountChanged; u != nil {
			assert.Equal(t, last[u.ConversationId]+1, u.NewCount)
			last[u.ConversationId] = u.NewCount
		}
	}
	assert.Equal(t, map[string]int{c1.Id: 5, c2.Id: 5}, last)
}

func TestService_TwoSessionsSameOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, Options{})
	a := mustUser(t, s, "alice")
	b := mustUser(t, s, "bob")
	c := mustUser(t, s, "carol")
	conv := mustConversation(t, s, a, "Trip",
		MemberSpec{Username: "bob", Status: types.StatusActive},
		MemberSpec{Username: "carol", Status: types.StatusActive},
	)

	s1, err := s.Subscribe("b-1", b.Id)
	require.NoError(t, err)
	s2, err := s.Subscribe("b-2", b.Id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 20 {
			_, err := s.Append(ctx, conv.Id, a.Id, "msg", nil, nil)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 20 {
			state := types.PresenceOnline
			if i%2 == 1 {
				state = types.PresenceOffline
			}
			_, err := s.SetPresence(ctx, c.Id, state)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	e1, e2 := drain(s1), drain(s2)
	assert.Len(t, e1, 20+20+20)
	assert.Equal(t, e1, e2, "sessions of one user observe the same order")
}

func TestService_UnsubscribeStopsDelivery(t *testing.T) {
	s, _ := newTestService(t, Options{})
	a := mustUser(t, s, "alice")
	b := mustUser(t, s, "bob")
	conv := mustConversation(t, s, a, "Trip", MemberSpec{Username: "bob", Status: types.StatusActive})

	sess, err := s.Subscribe("b-1", b.Id)
	require.NoError(t, err)

	mustAppend(t, s, conv.Id, a.Id, "queued")
	s.Unsubscribe(sess)
	mustAppend(t, s, conv.Id, a.Id, "after")

	assert.Empty(t, drain(sess))
	assert.Equal(t, 2, unreadOf(t, s, conv.Id, b.Id), "counters do not depend on sessions")

	_, err = s.Subscribe("x", "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_OverflowEvictsOnlySlowSession(t *testing.T) {
	s, _ := newTestService(t, Options{SessionQueueSize: 4})
	a := mustUser(t, s, "alice")
	b := mustUser(t, s, "bob")
	conv := mustConversation(t, s, a, "Trip", MemberSpec{Username: "bob", Status: types.StatusActive})

	slow, err := s.Subscribe("b-1", b.Id)
	require.NoError(t, err)

	for range 5 {
		mustAppend(t, s, conv.Id, a.Id, "spam")
	}

	assert.True(t, slow.Evicted())
	assert.Equal(t, 0, s.hub.sessionCount(b.Id))
	assert.Len(t, collect(t, s, conv.Id, "", 0), 5, "eviction never affects the log")
}
