package chat

import (
	"sync"
	"sync/atomic"

	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const defaultSessionQueueSize = 256

// Session is the fan-out handle of one connected client.
type Session struct {
	id        string
	userId    string
	events    chan types.Event
	done      chan struct{}
	closeOnce sync.Once
	evicted   atomic.Bool
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) UserId() string {
	return s.userId
}

// Events delivers events in production order per conversation.
func (s *Session) Events() <-chan types.Event {
	return s.events
}

// Done is closed once the session is unsubscribed or evicted.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Evicted reports whether the session was torn down because its queue overflowed.
func (s *Session) Evicted() bool {
	return s.evicted.Load()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		// queued events are dropped, the client reconciles on reconnect
		for {
			select {
			case <-s.events:
			default:
				return
			}
		}
	})
}

// Hub routes events to the sessions of each recipient user.
type Hub struct {
	log       zerolog.Logger
	stats     stats.StatsProvider
	queueSize int

	mu     sync.RWMutex
	byUser map[string]map[*Session]struct{}
}

func newHub(logger zerolog.Logger, su stats.StatsProvider, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultSessionQueueSize
	}
	return &Hub{
		log:       logger.With().Str("component", "fanout").Logger(),
		stats:     su,
		queueSize: queueSize,
		byUser:    make(map[string]map[*Session]struct{}),
	}
}

func (h *Hub) subscribe(sessionId, userId string) *Session {
	sess := &Session{
		id:     sessionId,
		userId: userId,
		events: make(chan types.Event, h.queueSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.byUser[userId] == nil {
		h.byUser[userId] = make(map[*Session]struct{})
	}
	h.byUser[userId][sess] = struct{}{}
	h.mu.Unlock()

	h.stats.Incr(stats.ActiveSessions)
	h.log.Debug().Str("session_id", sessionId).Str("user_id", userId).Msg("session subscribed")
	return sess
}

// unsubscribe removes the session and drops anything still queued for it.
// It reports whether the session was still registered.
func (h *Hub) unsubscribe(sess *Session) bool {
	h.mu.Lock()
	sessions, ok := h.byUser[sess.userId]
	_, found := sessions[sess]
	if ok && found {
		delete(sessions, sess)
		if len(sessions) == 0 {
			delete(h.byUser, sess.userId)
		}
	}
	h.mu.Unlock()

	sess.close()

	if found {
		h.stats.Decr(stats.ActiveSessions)
		h.log.Debug().Str("session_id", sess.id).Str("user_id", sess.userId).Msg("session unsubscribed")
	}
	return found
}

func (h *Hub) sessionCount(userId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userId])
}

// deliver enqueues ev for every session of the given users without
// blocking. A session whose queue is full is evicted so that it never
// observes a gap in the middle of its stream. Deliveries are serialized so
// that all sessions of a user see events in the same relative order.
func (h *Hub) deliver(userIds []string, ev types.Event) {
	var overflowed []*Session

	h.mu.Lock()
	for _, uid := range userIds {
		for sess := range h.byUser[uid] {
			if sess.evicted.Load() {
				continue
			}
			select {
			case sess.events <- ev:
			default:
				if sess.evicted.CompareAndSwap(false, true) {
					overflowed = append(overflowed, sess)
				}
			}
		}
	}
	h.mu.Unlock()

	for _, sess := range overflowed {
		h.log.Warn().
			Str("session_id", sess.id).
			Str("user_id", sess.userId).
			Msg("session queue full, evicting")
		h.stats.Incr(stats.SessionsEvicted)
		h.unsubscribe(sess)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Session
	for _, sessions := range h.byUser {
		for sess := range sessions {
			all = append(all, sess)
		}
	}
	h.mu.RUnlock()

	for _, sess := range all {
		h.unsubscribe(sess)
	}
}

// dedupe returns ids without duplicates, keeping first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
