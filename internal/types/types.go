package types

import (
	"time"
)

type MembershipStatus string

const (
	StatusPending MembershipStatus = "pending"
	StatusInvited MembershipStatus = "invited"
	StatusActive  MembershipStatus = "active"
	StatusLeft    MembershipStatus = "left"
)

func (s MembershipStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInvited, StatusActive, StatusLeft:
		return true
	}
	return false
}

type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
	PresenceHidden  PresenceState = "hidden"
)

func (p PresenceState) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceHidden:
		return true
	}
	return false
}

type User struct {
	Id          string        `json:"id"`
	Username    string        `json:"username"`
	DisplayName string        `json:"display_name"`
	Avatar      *Photo        `json:"avatar,omitempty"`
	Presence    PresenceState `json:"presence"`
	LastSeenAt  *time.Time    `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
}

// Photo is an opaque image reference. Payloads are stored as given.
type Photo struct {
	Id        string    `json:"id"`
	Picture   []byte    `json:"picture,omitempty"`
	Thumbnail []byte    `json:"thumbnail,omitempty"`
	Date      time.Time `json:"date"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Member struct {
	UserId   string           `json:"user_id"`
	Username string           `json:"username"`
	Status   MembershipStatus `json:"status"`
}

type Conversation struct {
	Id          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatorId   string    `json:"creator_id"`
	Members     []Member  `json:"members"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Membership struct {
	ConversationId string           `json:"conversation_id"`
	UserId         string           `json:"user_id"`
	Username       string           `json:"username"`
	Status         MembershipStatus `json:"status"`
	UnreadCount    int              `json:"unread_count"`
	CreatedAt      time.Time        `json:"created_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at,omitempty"`
}

type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	Membership   Membership   `json:"membership"`
}

type Message struct {
	Id             string    `json:"id"`
	SeqId          int64     `json:"seq_id"`
	ConversationId string    `json:"conversation_id"`
	AuthorId       string    `json:"author_id"`
	Text           string    `json:"text"`
	Photo          *Photo    `json:"photo,omitempty"`
	Location       *Location `json:"location,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Event is a tagged union: exactly one field is set.
type Event struct {
	MessageAppended    *MessageAppended    `json:"message_appended,omitempty"`
	MembershipChanged  *MembershipChanged  `json:"membership_changed,omitempty"`
	UnreadCountChanged *UnreadCountChanged `json:"unread_count_changed,omitempty"`
	PresenceChanged    *PresenceChanged    `json:"presence_changed,omitempty"`
}

// ConversationId returns the conversation an event concerns, or "" for presence events.
func (e Event) ConversationId() string {
	switch {
	case e.MessageAppended != nil:
		return e.MessageAppended.ConversationId
	case e.MembershipChanged != nil:
		return e.MembershipChanged.ConversationId
	case e.UnreadCountChanged != nil:
		return e.UnreadCountChanged.ConversationId
	}
	return ""
}

type MessageAppended struct {
	ConversationId string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

type MembershipChanged struct {
	ConversationId string           `json:"conversation_id"`
	UserId         string           `json:"user_id"`
	NewStatus      MembershipStatus `json:"new_status"`
}

type UnreadCountChanged struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	NewCount       int    `json:"new_count"`
}

type PresenceChanged struct {
	UserId     string        `json:"user_id"`
	NewState   PresenceState `json:"new_state"`
	LastSeenAt *time.Time    `json:"last_seen_at,omitempty"`
}
