package chat

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// conversation owns the message log and memberships of one conversation.
// Writers hold lock and publish a new convState; readers load the current
// state without locking and never observe a half-applied mutation.
type conversation struct {
	id    string
	lock  *convLock
	state atomic.Pointer[convState]
	// message id -> position in the log
	msgIndex sync.Map
}

// convState is immutable once published. messages may share a backing
// array with later states since the log only grows.
type convState struct {
	info        types.Conversation
	memberships []types.Membership
	messages    []types.Message
}

func (st *convState) clone() *convState {
	return &convState{
		info:        st.info,
		memberships: slices.Clone(st.memberships),
		messages:    st.messages,
	}
}

func (st *convState) member(userId string) (int, bool) {
	for i, m := range st.memberships {
		if m.UserId == userId {
			return i, true
		}
	}
	return -1, false
}

func (st *convState) lastMessage() *types.Message {
	if len(st.messages) == 0 {
		return nil
	}
	return &st.messages[len(st.messages)-1]
}

// conversation returns the public view with the ordered member list.
func (st *convState) conversation() types.Conversation {
	c := st.info
	c.Members = make([]types.Member, len(st.memberships))
	for i, m := range st.memberships {
		c.Members[i] = types.Member{
			UserId:   m.UserId,
			Username: m.Username,
			Status:   m.Status,
		}
	}
	return c
}

// subscribers returns the users receiving conversation events: everyone
// with an active or pending membership.
func (st *convState) subscribers() []string {
	ids := make([]string, 0, len(st.memberships))
	for _, m := range st.memberships {
		if receivesEvents(m.Status) {
			ids = append(ids, m.UserId)
		}
	}
	return ids
}

func receivesEvents(s types.MembershipStatus) bool {
	return s == types.StatusActive || s == types.StatusPending
}

func (c *conversation) load() *convState {
	return c.state.Load()
}

func (c *conversation) publish(st *convState) {
	c.state.Store(st)
}
