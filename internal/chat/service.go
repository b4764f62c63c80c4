package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

// PresenceMirror receives a copy of every presence change so that other
// processes can read the current-value table without touching the core.
type PresenceMirror interface {
	SetPresence(ctx context.Context, userId string, state types.PresenceState, lastSeenAt *time.Time) error
}

type Options struct {
	LockTimeout      time.Duration
	LockRetries      int
	SessionQueueSize int
	// OfflineGrace delays the offline transition after a user's last session closes.
	OfflineGrace time.Duration
	Mirror       PresenceMirror
	Now          func() time.Time
}

type userRecord struct {
	mu   sync.RWMutex
	user types.User

	// serializes presence transitions for this user
	presenceMu sync.Mutex
}

func (r *userRecord) snapshot() types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.user
}

// Service composes identity, message log, unread accounting, presence and
// fan-out. All state lives in memory and every mutation is written through
// to the repository before it becomes visible.
type Service struct {
	log   zerolog.Logger
	db    database.Repository
	stats stats.StatsProvider
	opts  Options
	hub   *Hub

	usersMu   sync.RWMutex
	users     map[string]*userRecord
	usernames map[string]string
	// user id -> ids of conversations holding a membership for the user
	userConvs map[string]map[string]struct{}

	convsMu sync.RWMutex
	convs   map[string]*conversation

	photos sync.Map

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

func NewService(logger zerolog.Logger, db database.Repository, su stats.StatsProvider, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.LockRetries < 0 {
		opts.LockRetries = defaultLockRetries
	}

	for _, metric := range []string{
		stats.ActiveSessions,
		stats.MessagesAppended,
		stats.SessionsEvicted,
		stats.OnlineUsers,
	} {
		su.RegisterMetric(metric)
	}

	log := logger.With().Str("component", "chat").Logger()
	return &Service{
		log:       log,
		db:        db,
		stats:     su,
		opts:      opts,
		hub:       newHub(log, su, opts.SessionQueueSize),
		users:     make(map[string]*userRecord),
		usernames: make(map[string]string),
		userConvs: make(map[string]map[string]struct{}),
		convs:     make(map[string]*conversation),
		timers:    make(map[string]*time.Timer),
	}
}

// now returns the service clock in UTC at the precision the repository stores.
func (s *Service) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Microsecond)
}

// Hydrate loads all durable state into memory. Users persisted as online
// are demoted to offline since no session survives a restart.
func (s *Service) Hydrate(ctx context.Context) error {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, u := range users {
		if u.Presence == types.PresenceOnline {
			last := s.now()
			if err := s.db.UpdatePresence(ctx, u.Id, types.PresenceOffline, &last); err != nil {
				return fmt.Errorf("demote user %s: %w", u.Id, err)
			}
			u.Presence = types.PresenceOffline
			u.LastSeenAt = &last
		}
		s.storeUser(u)
		if u.Avatar != nil {
			s.photos.Store(u.Avatar.Id, photoRef{photo: *u.Avatar})
		}
	}

	convs, err := s.db.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	memberships, err := s.db.ListMemberships(ctx)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}
	byConv := make(map[string][]types.Membership)
	for _, m := range memberships {
		byConv[m.ConversationId] = append(byConv[m.ConversationId], m)
	}

	for _, info := range convs {
		messages, err := s.db.ListMessages(ctx, info.Id)
		if err != nil {
			return fmt.Errorf("list messages for %s: %w", info.Id, err)
		}

		c := s.newConversation(info.Id)
		for i, msg := range messages {
			c.msgIndex.Store(msg.Id, i)
			if msg.Photo != nil {
				s.photos.Store(msg.Photo.Id, photoRef{photo: *msg.Photo, conversationId: info.Id})
			}
		}
		info.Members = nil
		c.publish(&convState{
			info:        info,
			memberships: byConv[info.Id],
			messages:    messages,
		})

		s.convsMu.Lock()
		s.convs[info.Id] = c
		s.convsMu.Unlock()

		for _, m := range byConv[info.Id] {
			s.indexMembership(m.UserId, info.Id)
		}
	}

	s.log.Info().
		Int("users", len(users)).
		Int("conversations", len(convs)).
		Int("memberships", len(memberships)).
		Msg("hydrated state")

	return nil
}

// Stop cancels pending presence timers and tears down every session.
func (s *Service) Stop() {
	s.timersMu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.timersMu.Unlock()

	s.hub.closeAll()
}

func (s *Service) newConversation(id string) *conversation {
	return &conversation{
		id:   id,
		lock: newConvLock(s.opts.LockTimeout, s.opts.LockRetries),
	}
}

func (s *Service) conversation(id string) (*conversation, error) {
	s.convsMu.RLock()
	defer s.convsMu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

func (s *Service) user(id string) (*userRecord, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	rec, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return rec, nil
}

func (s *Service) userByName(username string) (*userRecord, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	rec, ok := s.users[s.usernames[username]]
	if !ok {
		return nil, ErrUserNotFound
	}
	return rec, nil
}

func (s *Service) storeUser(u types.User) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	s.users[u.Id] = &userRecord{user: u}
	s.usernames[u.Username] = u.Id
}

func (s *Service) indexMembership(userId, convId string) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	convs, ok := s.userConvs[userId]
	if !ok {
		convs = make(map[string]struct{})
		s.userConvs[userId] = convs
	}
	convs[convId] = struct{}{}
}

// conversationsOf returns the conversations in which the user holds any membership.
func (s *Service) conversationsOf(userId string) []*conversation {
	s.usersMu.RLock()
	ids := make([]string, 0, len(s.userConvs[userId]))
	for id := range s.userConvs[userId] {
		ids = append(ids, id)
	}
	s.usersMu.RUnlock()

	s.convsMu.RLock()
	defer s.convsMu.RUnlock()

	convs := make([]*conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.convs[id]; ok {
			convs = append(convs, c)
		}
	}
	return convs
}
