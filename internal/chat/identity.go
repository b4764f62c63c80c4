package chat

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	maxUsernameLength    = 64
	maxDisplayNameLength = 128
)

// membership status -> statuses it may move to
var transitions = map[types.MembershipStatus][]types.MembershipStatus{
	types.StatusPending: {types.StatusActive, types.StatusLeft},
	types.StatusInvited: {types.StatusActive, types.StatusLeft},
	types.StatusActive:  {types.StatusLeft},
}

func canTransition(from, to types.MembershipStatus) bool {
	return slices.Contains(transitions[from], to)
}

func validUsername(username string) bool {
	if username == "" || len(username) > maxUsernameLength {
		return false
	}
	return !strings.ContainsFunc(username, unicode.IsSpace)
}

func CleanDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxDisplayNameLength {
		return "", fmt.Errorf("%w: display name must be 1-%d characters", ErrInvalidArgument, maxDisplayNameLength)
	}
	return name, nil
}

// CreateUser registers a new user. The display name defaults to the username.
func (s *Service) CreateUser(ctx context.Context, username string) (types.User, error) {
	if !validUsername(username) {
		return types.User{}, fmt.Errorf("%w: username must be 1-%d characters without spaces", ErrInvalidArgument, maxUsernameLength)
	}

	now := s.now()
	user := types.User{
		Id:          newUserId(),
		Username:    username,
		DisplayName: username,
		Presence:    types.PresenceOffline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The username is reserved before the repository write so the index lock
	// is never held across it. Lookups skip a reservation until it is filled.
	s.usersMu.Lock()
	if _, taken := s.usernames[username]; taken {
		s.usersMu.Unlock()
		return types.User{}, ErrDuplicateUsername
	}
	s.usernames[username] = user.Id
	s.usersMu.Unlock()

	if err := s.db.CreateUser(ctx, user); err != nil {
		s.usersMu.Lock()
		delete(s.usernames, username)
		s.usersMu.Unlock()
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.usersMu.Lock()
	s.users[user.Id] = &userRecord{user: user}
	s.usersMu.Unlock()

	s.log.Debug().Str("user_id", user.Id).Str("username", username).Msg("created user")
	return user, nil
}

func (s *Service) GetUser(userId string) (types.User, error) {
	rec, err := s.user(userId)
	if err != nil {
		return types.User{}, err
	}
	return rec.snapshot(), nil
}

func (s *Service) GetUserByUsername(username string) (types.User, error) {
	rec, err := s.userByName(username)
	if err != nil {
		return types.User{}, err
	}
	return rec.snapshot(), nil
}

// UpdateProfile replaces the display name and avatar of a user. A nil avatar
// clears it. An avatar carrying the id of the current avatar keeps it as is;
// any other avatar is stored as a new photo.
func (s *Service) UpdateProfile(ctx context.Context, userId, displayName string, avatar *types.Photo) (types.User, error) {
	name, err := CleanDisplayName(displayName)
	if err != nil {
		return types.User{}, err
	}

	rec, err := s.user(userId)
	if err != nil {
		return types.User{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	stored := false
	if avatar != nil {
		if cur := rec.user.Avatar; cur != nil && avatar.Id == cur.Id {
			avatar = cur
		} else {
			p := s.preparePhoto(*avatar)
			avatar = &p
			stored = true
		}
	}

	updated := rec.user
	updated.DisplayName = name
	updated.Avatar = avatar
	updated.UpdatedAt = s.now()

	if err := s.db.UpdateUserProfile(ctx, updated); err != nil {
		return types.User{}, fmt.Errorf("update profile: %w", err)
	}

	rec.user = updated
	if stored {
		s.photos.Store(avatar.Id, photoRef{photo: *avatar})
	}

	return updated, nil
}

// AddMember inserts a membership with the given initial status. A user
// whose membership is left may be re-added; the unread counter restarts at zero.
func (s *Service) AddMember(ctx context.Context, conversationId, userId string, status types.MembershipStatus) (types.Membership, error) {
	if status != types.StatusPending && status != types.StatusInvited && status != types.StatusActive {
		return types.Membership{}, fmt.Errorf("%w: initial status %q", ErrInvalidArgument, status)
	}

	rec, err := s.user(userId)
	if err != nil {
		return types.Membership{}, err
	}
	username := rec.snapshot().Username

	c, err := s.conversation(conversationId)
	if err != nil {
		return types.Membership{}, err
	}

	if err := c.lock.acquire(ctx); err != nil {
		return types.Membership{}, err
	}
	defer c.lock.release()

	st := c.load()
	now := s.now()
	next := st.clone()

	m := types.Membership{
		ConversationId: conversationId,
		UserId:         userId,
		Username:       username,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	pos, exists := st.member(userId)
	if exists {
		if st.memberships[pos].Status != types.StatusLeft {
			return types.Membership{}, ErrAlreadyMember
		}
		m.CreatedAt = st.memberships[pos].CreatedAt
		next.memberships[pos] = m
	} else {
		pos = len(next.memberships)
		next.memberships = append(next.memberships, m)
	}

	if err := s.db.UpsertMembership(ctx, m, pos); err != nil {
		return types.Membership{}, fmt.Errorf("upsert membership: %w", err)
	}

	c.publish(next)
	s.indexMembership(userId, conversationId)

	s.hub.deliver(membershipRecipients(next, userId), types.Event{
		MembershipChanged: &types.MembershipChanged{
			ConversationId: conversationId,
			UserId:         userId,
			NewStatus:      status,
		},
	})

	return m, nil
}

// SetMembershipStatus moves a membership along the transition table:
// pending and invited may become active or left, active may become left.
func (s *Service) SetMembershipStatus(ctx context.Context, conversationId, userId string, status types.MembershipStatus) (types.Membership, error) {
	if !status.Valid() {
		return types.Membership{}, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}

	return s.changeStatus(ctx, conversationId, userId, status, func(m types.Membership) error {
		if !canTransition(m.Status, status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, m.Status, status)
		}
		return nil
	})
}

func (s *Service) changeStatus(ctx context.Context, conversationId, userId string, status types.MembershipStatus, check func(types.Membership) error) (types.Membership, error) {
	c, err := s.conversation(conversationId)
	if err != nil {
		return types.Membership{}, err
	}

	if err := c.lock.acquire(ctx); err != nil {
		return types.Membership{}, err
	}
	defer c.lock.release()

	st := c.load()
	pos, ok := st.member(userId)
	if !ok {
		return types.Membership{}, ErrNotAMember
	}
	if err := check(st.memberships[pos]); err != nil {
		return types.Membership{}, err
	}

	next := st.clone()
	m := next.memberships[pos]
	m.Status = status
	m.UpdatedAt = s.now()
	next.memberships[pos] = m

	if err := s.db.UpsertMembership(ctx, m, pos); err != nil {
		return types.Membership{}, fmt.Errorf("upsert membership: %w", err)
	}

	c.publish(next)

	s.log.Debug().
		Str("conversation_id", conversationId).
		Str("user_id", userId).
		Str("status", string(status)).
		Msg("membership changed")

	s.hub.deliver(membershipRecipients(next, userId), types.Event{
		MembershipChanged: &types.MembershipChanged{
			ConversationId: conversationId,
			UserId:         userId,
			NewStatus:      status,
		},
	})

	return m, nil
}

// membershipRecipients are the subscribers after the change plus the
// affected user, who learns about its own removal.
func membershipRecipients(st *convState, userId string) []string {
	return dedupe(append(st.subscribers(), userId))
}

// Membership returns the membership of a user in a conversation, whatever its status.
func (s *Service) Membership(conversationId, userId string) (types.Membership, error) {
	c, err := s.conversation(conversationId)
	if err != nil {
		return types.Membership{}, err
	}

	st := c.load()
	pos, ok := st.member(userId)
	if !ok {
		return types.Membership{}, ErrNotAMember
	}
	return st.memberships[pos], nil
}

// ListActiveConversations returns every conversation the user has not left,
// ordered by unread count descending, then display name, then id.
func (s *Service) ListActiveConversations(userId string) ([]types.ConversationSummary, error) {
	if _, err := s.user(userId); err != nil {
		return nil, err
	}

	summaries := make([]types.ConversationSummary, 0)
	for _, c := range s.conversationsOf(userId) {
		st := c.load()
		pos, ok := st.member(userId)
		if !ok || st.memberships[pos].Status == types.StatusLeft {
			continue
		}
		summaries = append(summaries, types.ConversationSummary{
			Conversation: st.conversation(),
			Membership:   st.memberships[pos],
		})
	}

	slices.SortFunc(summaries, func(a, b types.ConversationSummary) int {
		return cmp.Or(
			cmp.Compare(b.Membership.UnreadCount, a.Membership.UnreadCount),
			cmp.Compare(a.Conversation.DisplayName, b.Conversation.DisplayName),
			cmp.Compare(a.Conversation.Id, b.Conversation.Id),
		)
	})

	return summaries, nil
}
