package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	offlineTimeout = 5 * time.Second
	mirrorTimeout  = 2 * time.Second
)

// SetPresence moves the user to state. Repeating the current state is a
// no-op, except that online always advances last-seen. Only actual state
// changes are fanned out.
func (s *Service) SetPresence(ctx context.Context, userId string, state types.PresenceState) (types.User, error) {
	if !state.Valid() {
		return types.User{}, fmt.Errorf("%w: presence %q", ErrInvalidArgument, state)
	}

	rec, err := s.user(userId)
	if err != nil {
		return types.User{}, err
	}

	u, _, err := s.setPresence(ctx, rec, state, nil)
	return u, err
}

// setPresence applies a transition and then copies the written state to the
// mirror, if any. It reports whether the state actually changed.
func (s *Service) setPresence(ctx context.Context, rec *userRecord, state types.PresenceState, cond func(types.User) bool) (types.User, bool, error) {
	u, written, changed, err := s.applyPresence(ctx, rec, state, cond)
	if err != nil || !written {
		return u, changed, err
	}
	s.mirrorPresence(ctx, u)
	return u, changed, nil
}

// mirrorPresence runs outside the presence lock with its own deadline so a
// slow mirror never holds up the user's next transition.
func (s *Service) mirrorPresence(ctx context.Context, u types.User) {
	if s.opts.Mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()

	if err := s.opts.Mirror.SetPresence(ctx, u.Id, u.Presence, u.LastSeenAt); err != nil {
		s.log.Error().Err(err).Str("user_id", u.Id).Msg("failed mirroring presence")
	}
}

// applyPresence writes a transition while holding the user's presence lock.
// When cond is set and rejects the current user the call does nothing.
func (s *Service) applyPresence(ctx context.Context, rec *userRecord, state types.PresenceState, cond func(types.User) bool) (u types.User, written, changed bool, err error) {
	rec.presenceMu.Lock()
	defer rec.presenceMu.Unlock()

	cur := rec.snapshot()
	if cond != nil && !cond(cur) {
		return cur, false, false, nil
	}

	prev := cur.Presence
	if state == prev && state != types.PresenceOnline {
		return cur, false, false, nil
	}

	lastSeen := cur.LastSeenAt
	if state == types.PresenceOnline || prev == types.PresenceOnline {
		now := s.now()
		lastSeen = &now
	}

	if err := s.db.UpdatePresence(ctx, cur.Id, state, lastSeen); err != nil {
		return cur, false, false, fmt.Errorf("update presence: %w", err)
	}

	rec.mu.Lock()
	rec.user.Presence = state
	rec.user.LastSeenAt = lastSeen
	updated := rec.user
	rec.mu.Unlock()

	if state == prev {
		return updated, true, false, nil
	}

	switch {
	case state == types.PresenceOnline:
		s.stats.Incr(stats.OnlineUsers)
	case prev == types.PresenceOnline:
		s.stats.Decr(stats.OnlineUsers)
	}

	s.log.Debug().
		Str("user_id", cur.Id).
		Str("from", string(prev)).
		Str("to", string(state)).
		Msg("presence changed")

	s.hub.deliver(s.presenceRecipients(cur.Id), types.Event{
		PresenceChanged: &types.PresenceChanged{
			UserId:     cur.Id,
			NewState:   state,
			LastSeenAt: lastSeen,
		},
	})

	return updated, true, true, nil
}

// presenceRecipients are the user itself plus every subscriber of a
// conversation in whose member list the user appears and has not left.
func (s *Service) presenceRecipients(userId string) []string {
	recipients := []string{userId}
	for _, c := range s.conversationsOf(userId) {
		st := c.load()
		pos, ok := st.member(userId)
		if !ok || st.memberships[pos].Status == types.StatusLeft {
			continue
		}
		recipients = append(recipients, st.subscribers()...)
	}
	return dedupe(recipients)
}

// Subscribe attaches a session to the events of the user's conversations.
func (s *Service) Subscribe(sessionId, userId string) (*Session, error) {
	if _, err := s.user(userId); err != nil {
		return nil, err
	}
	return s.hub.subscribe(sessionId, userId), nil
}

// Unsubscribe stops delivery to the session and drops what is queued for it.
func (s *Service) Unsubscribe(sess *Session) {
	s.hub.unsubscribe(sess)
}

// Connect subscribes a session and marks its user online unless the user
// chose to be hidden.
func (s *Service) Connect(ctx context.Context, sessionId, userId string) (*Session, error) {
	rec, err := s.user(userId)
	if err != nil {
		return nil, err
	}

	sess := s.hub.subscribe(sessionId, userId)
	s.cancelOffline(userId)

	_, _, err = s.setPresence(ctx, rec, types.PresenceOnline, func(u types.User) bool {
		return u.Presence != types.PresenceHidden
	})
	if err != nil {
		s.hub.unsubscribe(sess)
		return nil, err
	}

	return sess, nil
}

// Disconnect tears the session down immediately. Once the user has no
// sessions left it goes offline after the configured grace period.
func (s *Service) Disconnect(sess *Session) {
	s.hub.unsubscribe(sess)

	userId := sess.UserId()
	if s.hub.sessionCount(userId) > 0 {
		return
	}

	if s.opts.OfflineGrace <= 0 {
		s.goOffline(userId)
		return
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if t, ok := s.timers[userId]; ok {
		t.Stop()
	}
	s.timers[userId] = time.AfterFunc(s.opts.OfflineGrace, func() {
		s.timersMu.Lock()
		delete(s.timers, userId)
		s.timersMu.Unlock()

		s.goOffline(userId)
	})
}

func (s *Service) cancelOffline(userId string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if t, ok := s.timers[userId]; ok {
		t.Stop()
		delete(s.timers, userId)
	}
}

func (s *Service) goOffline(userId string) {
	rec, err := s.user(userId)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), offlineTimeout)
	defer cancel()

	_, _, err = s.setPresence(ctx, rec, types.PresenceOffline, func(u types.User) bool {
		return u.Presence == types.PresenceOnline && s.hub.sessionCount(userId) == 0
	})
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userId).Msg("failed marking user offline")
	}
}
