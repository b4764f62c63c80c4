package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a command sent by a client. Exactly one command is set.
type ClientMessage struct {
	BaseMessage
	Publish  *Publish  `json:"publish,omitempty"`
	Read     *Read     `json:"read,omitempty"`
	Presence *Presence `json:"presence,omitempty"`
}

type Publish struct {
	ConversationId string          `json:"conversation_id"`
	Text           string          `json:"text"`
	Photo          *types.Photo    `json:"photo,omitempty"`
	Location       *types.Location `json:"location,omitempty"`
}

// Read acknowledges everything in the conversation and resets the unread counter.
type Read struct {
	ConversationId string `json:"conversation_id"`
}

type Presence struct {
	State types.PresenceState `json:"state"`
}

// ServerMessage is either the response to a client command or a pushed event.
type ServerMessage struct {
	BaseMessage
	Response *Response    `json:"response,omitempty"`
	Event    *types.Event `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

// ErrFromError converts a chat error into a response.
func ErrFromError(id int, err error) *ServerMessage {
	code, text := ErrorStatus(err)
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        text,
		},
	}
}

func EventMessage(ev types.Event) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: &ev,
	}
}

// ErrorStatus maps chat errors to an HTTP status and a client facing message.
// Anything unknown is an internal error and its text is not exposed.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, chat.ErrPhotoNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, chat.ErrDuplicateUsername),
		errors.Is(err, chat.ErrAlreadyMember),
		errors.Is(err, chat.ErrConcurrentModification):
		return http.StatusConflict, err.Error()
	case errors.Is(err, chat.ErrInvalidTransition),
		errors.Is(err, chat.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrNotAMember):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, chat.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "service unavailable"
	}
	return http.StatusInternalServerError, "internal server error"
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
