package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestNoErrOk(t *testing.T) {
	result := NoErrOK(1, map[string]any{
		"testkey": "testvalue",
	})

	assert.Equal(t, 1, result.Id)
	assert.False(t, result.Timestamp.IsZero())
	assert.Nil(t, result.Event)
	assert.Equal(t, &Response{
		ResponseCode: http.StatusOK,
		Data:         map[string]any{"testkey": "testvalue"},
	}, result.Response)
}

func TestErrInvalidMessage(t *testing.T) {
	t.Run("with id", func(t *testing.T) {
		result := ErrInvalidMessage(5)
		assert.Equal(t, 5, result.Id)
		assert.Equal(t, http.StatusBadRequest, result.Response.ResponseCode)
		assert.Equal(t, "invalid message format", result.Response.Error)
	})

	t.Run("unparsed message", func(t *testing.T) {
		result := ErrInvalidMessage(-1)
		assert.Zero(t, result.Id)
		assert.Equal(t, http.StatusBadRequest, result.Response.ResponseCode)
	})
}

func TestEventMessage(t *testing.T) {
	ev := types.Event{PresenceChanged: &types.PresenceChanged{UserId: "u1", NewState: types.PresenceOnline}}

	result := EventMessage(ev)
	assert.Nil(t, result.Response)
	assert.Zero(t, result.Id)
	assert.Equal(t, &ev, result.Event)
}

func TestErrorStatus(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"conversation not found", chat.ErrConversationNotFound, http.StatusNotFound, "conversation not found"},
		{"wrapped user not found", fmt.Errorf("%w: bob", chat.ErrUserNotFound), http.StatusNotFound, "user not found: bob"},
		{"photo not found", chat.ErrPhotoNotFound, http.StatusNotFound, "photo not found"},
		{"duplicate username", chat.ErrDuplicateUsername, http.StatusConflict, "username already taken"},
		{"already member", chat.ErrAlreadyMember, http.StatusConflict, "user is already a member"},
		{"invalid transition", chat.ErrInvalidTransition, http.StatusBadRequest, "invalid membership transition"},
		{"invalid argument", fmt.Errorf("%w: text too long", chat.ErrInvalidArgument), http.StatusBadRequest, "invalid argument: text too long"},
		{"not a member", chat.ErrNotAMember, http.StatusForbidden, "user is not a member"},
		{"lock timeout", chat.ErrTimeout, http.StatusServiceUnavailable, "service unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "service unavailable"},
		{"unknown", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := ErrorStatus(tc.err)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.msg, msg)
		})
	}
}

func TestErrFromError(t *testing.T) {
	result := ErrFromError(3, chat.ErrNotAMember)
	assert.Equal(t, 3, result.Id)
	assert.Equal(t, http.StatusForbidden, result.Response.ResponseCode)
	assert.Equal(t, "user is not a member", result.Response.Error)
	assert.Nil(t, result.Response.Data)
}
