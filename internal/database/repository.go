package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Repository is the durable store behind the chat core. Every mutating
// method is expected to be atomic on its own.
type Repository interface {
	Ping() error
	CreateUser(ctx context.Context, user types.User) error
	UpdateUserProfile(ctx context.Context, user types.User) error
	UpdatePresence(ctx context.Context, userId string, state types.PresenceState, lastSeenAt *time.Time) error
	CreateConversation(ctx context.Context, conv types.Conversation, memberships []types.Membership) error
	RenameConversation(ctx context.Context, conversationId, displayName string, updatedAt time.Time) error
	UpsertMembership(ctx context.Context, m types.Membership, position int) error
	// AppendMessage stores msg and increments the unread counter of every
	// listed member in the same transaction.
	AppendMessage(ctx context.Context, msg types.Message, unreadUserIds []string) error
	ResetUnread(ctx context.Context, conversationId, userId string) error
	ListUsers(ctx context.Context) ([]types.User, error)
	ListConversations(ctx context.Context) ([]types.Conversation, error)
	ListMemberships(ctx context.Context) ([]types.Membership, error)
	ListMessages(ctx context.Context, conversationId string) ([]types.Message, error)
	Close() error
}

// CredentialStore keeps password hashes for the HTTP auth layer. The chat
// core never reads it.
type CredentialStore interface {
	SetPasswordHash(ctx context.Context, userId, passwordHash string) error
	// PasswordHash returns sql.ErrNoRows when the user has no credentials.
	PasswordHash(ctx context.Context, userId string) (string, error)
}
