package chat

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// incrementUnread bumps the counter of every active or pending member other
// than the author in st and returns the ids it touched. st must be a private clone.
func incrementUnread(st *convState, authorId string) []string {
	var touched []string
	for i := range st.memberships {
		m := &st.memberships[i]
		if !receivesEvents(m.Status) || m.UserId == authorId {
			continue
		}
		m.UnreadCount++
		touched = append(touched, m.UserId)
	}
	return touched
}

// deliverUnread sends each user its own new counter.
func (s *Service) deliverUnread(st *convState, userIds []string) {
	for _, uid := range userIds {
		pos, ok := st.member(uid)
		if !ok {
			continue
		}
		s.hub.deliver([]string{uid}, types.Event{
			UnreadCountChanged: &types.UnreadCountChanged{
				ConversationId: st.info.Id,
				UserId:         uid,
				NewCount:       st.memberships[pos].UnreadCount,
			},
		})
	}
}

// ResetUnread marks everything appended so far as observed by the user.
// Appends serialized after it count again.
func (s *Service) ResetUnread(ctx context.Context, conversationId, userId string) error {
	c, err := s.conversation(conversationId)
	if err != nil {
		return err
	}

	if err := c.lock.acquire(ctx); err != nil {
		return err
	}
	defer c.lock.release()

	st := c.load()
	pos, ok := st.member(userId)
	if !ok || st.memberships[pos].Status == types.StatusLeft {
		return ErrNotAMember
	}
	if st.memberships[pos].UnreadCount == 0 {
		return nil
	}

	next := st.clone()
	next.memberships[pos].UnreadCount = 0

	if err := s.db.ResetUnread(ctx, conversationId, userId); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}

	c.publish(next)
	s.deliverUnread(next, []string{userId})

	return nil
}
