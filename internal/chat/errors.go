package chat

import "errors"

var (
	ErrDuplicateUsername    = errors.New("username already taken")
	ErrAlreadyMember        = errors.New("user is already a member")
	ErrInvalidTransition    = errors.New("invalid membership transition")
	ErrNotAMember           = errors.New("user is not a member")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrPhotoNotFound        = errors.New("photo not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	// ErrConcurrentModification is reserved for optimistic update paths.
	// Conversation state is lock-serialized so the core never returns it.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrTimeout                = errors.New("timed out acquiring conversation lock")
)
