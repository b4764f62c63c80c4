package chat

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// MemberSpec names a user to add at creation. An empty status means pending.
type MemberSpec struct {
	Username string                 `json:"username"`
	Status   types.MembershipStatus `json:"status,omitempty"`
}

// CreateConversation creates a conversation with the creator as its first
// active member followed by members in the given order. Every username must
// exist. Duplicates and the creator's own name are ignored.
func (s *Service) CreateConversation(ctx context.Context, creatorId, displayName string, members []MemberSpec) (types.Conversation, error) {
	name, err := CleanDisplayName(displayName)
	if err != nil {
		return types.Conversation{}, err
	}

	creator, err := s.user(creatorId)
	if err != nil {
		return types.Conversation{}, err
	}
	creatorUser := creator.snapshot()

	id, err := newConversationId()
	if err != nil {
		return types.Conversation{}, fmt.Errorf("generate conversation id: %w", err)
	}

	now := s.now()
	memberships := []types.Membership{{
		ConversationId: id,
		UserId:         creatorUser.Id,
		Username:       creatorUser.Username,
		Status:         types.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	seen := map[string]struct{}{creatorUser.Id: {}}

	for _, ms := range members {
		status := ms.Status
		if status == "" {
			status = types.StatusPending
		}
		if status != types.StatusPending && status != types.StatusInvited && status != types.StatusActive {
			return types.Conversation{}, fmt.Errorf("%w: initial status %q for %s", ErrInvalidArgument, status, ms.Username)
		}

		rec, err := s.userByName(ms.Username)
		if err != nil {
			return types.Conversation{}, fmt.Errorf("%w: %s", err, ms.Username)
		}
		u := rec.snapshot()
		if _, dup := seen[u.Id]; dup {
			continue
		}
		seen[u.Id] = struct{}{}

		memberships = append(memberships, types.Membership{
			ConversationId: id,
			UserId:         u.Id,
			Username:       u.Username,
			Status:         status,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	info := types.Conversation{
		Id:          id,
		DisplayName: name,
		CreatorId:   creatorUser.Id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.CreateConversation(ctx, info, memberships); err != nil {
		return types.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	c := s.newConversation(id)
	if err := c.lock.acquire(ctx); err != nil {
		return types.Conversation{}, err
	}
	defer c.lock.release()

	st := &convState{info: info, memberships: memberships}
	c.publish(st)

	s.convsMu.Lock()
	s.convs[id] = c
	s.convsMu.Unlock()

	for _, m := range memberships {
		s.indexMembership(m.UserId, id)
	}

	for _, m := range memberships {
		s.hub.deliver(membershipRecipients(st, m.UserId), types.Event{
			MembershipChanged: &types.MembershipChanged{
				ConversationId: id,
				UserId:         m.UserId,
				NewStatus:      m.Status,
			},
		})
	}

	s.log.Debug().
		Str("conversation_id", id).
		Str("creator_id", creatorUser.Id).
		Int("members", len(memberships)).
		Msg("created conversation")

	return st.conversation(), nil
}

func (s *Service) GetConversation(conversationId string) (types.Conversation, error) {
	c, err := s.conversation(conversationId)
	if err != nil {
		return types.Conversation{}, err
	}
	return c.load().conversation(), nil
}

// RenameConversation changes the display name. Only active members may rename.
func (s *Service) RenameConversation(ctx context.Context, conversationId, userId, displayName string) (types.Conversation, error) {
	name, err := CleanDisplayName(displayName)
	if err != nil {
		return types.Conversation{}, err
	}

	c, err := s.conversation(conversationId)
	if err != nil {
		return types.Conversation{}, err
	}

	if err := c.lock.acquire(ctx); err != nil {
		return types.Conversation{}, err
	}
	defer c.lock.release()

	st := c.load()
	pos, ok := st.member(userId)
	if !ok || st.memberships[pos].Status != types.StatusActive {
		return types.Conversation{}, ErrNotAMember
	}

	next := st.clone()
	next.info.DisplayName = name
	next.info.UpdatedAt = s.now()

	if err := s.db.RenameConversation(ctx, conversationId, name, next.info.UpdatedAt); err != nil {
		return types.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}

	c.publish(next)
	return next.conversation(), nil
}

// LeaveConversation moves an active or pending membership to left.
func (s *Service) LeaveConversation(ctx context.Context, conversationId, userId string) (types.Membership, error) {
	return s.changeStatus(ctx, conversationId, userId, types.StatusLeft, func(m types.Membership) error {
		if !receivesEvents(m.Status) {
			return ErrNotAMember
		}
		return nil
	})
}
