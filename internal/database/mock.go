package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateUser(ctx context.Context, user types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
func (m *MockRepository) UpdateUserProfile(ctx context.Context, user types.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
func (m *MockRepository) UpdatePresence(ctx context.Context, userId string, state types.PresenceState, lastSeenAt *time.Time) error {
	args := m.Called(ctx, userId, state, lastSeenAt)
	return args.Error(0)
}
func (m *MockRepository) CreateConversation(ctx context.Context, conv types.Conversation, memberships []types.Membership) error {
	args := m.Called(ctx, conv, memberships)
	return args.Error(0)
}
func (m *MockRepository) RenameConversation(ctx context.Context, conversationId, displayName string, updatedAt time.Time) error {
	args := m.Called(ctx, conversationId, displayName, updatedAt)
	return args.Error(0)
}
func (m *MockRepository) UpsertMembership(ctx context.Context, ms types.Membership, position int) error {
	args := m.Called(ctx, ms, position)
	return args.Error(0)
}
func (m *MockRepository) AppendMessage(ctx context.Context, msg types.Message, unreadUserIds []string) error {
	args := m.Called(ctx, msg, unreadUserIds)
	return args.Error(0)
}
func (m *MockRepository) ResetUnread(ctx context.Context, conversationId, userId string) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockRepository) ListUsers(ctx context.Context) ([]types.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.User), args.Error(1)
}
func (m *MockRepository) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Conversation), args.Error(1)
}
func (m *MockRepository) ListMemberships(ctx context.Context) ([]types.Membership, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Membership), args.Error(1)
}
func (m *MockRepository) ListMessages(ctx context.Context, conversationId string) ([]types.Message, error) {
	args := m.Called(ctx, conversationId)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) SetPasswordHash(ctx context.Context, userId, passwordHash string) error {
	args := m.Called(ctx, userId, passwordHash)
	return args.Error(0)
}
func (m *MockRepository) PasswordHash(ctx context.Context, userId string) (string, error) {
	args := m.Called(ctx, userId)
	return args.String(0), args.Error(1)
}

// AllowWrites registers permissive expectations for every mutating method.
func (m *MockRepository) AllowWrites() *MockRepository {
	m.On("CreateUser", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("UpdateUserProfile", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("UpdatePresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CreateConversation", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("RenameConversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("UpsertMembership", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("AppendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ResetUnread", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SetPasswordHash", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}
