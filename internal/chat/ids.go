package chat

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

func newUserId() string {
	return uuid.NewString()
}

func newConversationId() (string, error) {
	return shortid.Generate()
}

// newMessageId returns a lexicographically sortable id.
func newMessageId() string {
	return ulid.Make().String()
}

func newPhotoId() string {
	return ulid.Make().String()
}
