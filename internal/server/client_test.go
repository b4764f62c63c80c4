package server

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	t.Run("response", func(t *testing.T) {
		message := &ServerMessage{
			BaseMessage: BaseMessage{
				Id:        1,
				Timestamp: Now(),
			},
			Response: &Response{
				ResponseCode: 200,
				Data:         "test data",
			},
		}

		expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
			`","response":{"response_code":200,"data":"test data"}}`

		bytes, err := serializeMessage(message)
		assert.NoError(t, err)
		assert.JSONEq(t, expected, string(bytes))
	})

	t.Run("event", func(t *testing.T) {
		message := EventMessage(types.Event{
			UnreadCountChanged: &types.UnreadCountChanged{
				ConversationId: "c1",
				UserId:         "u1",
				NewCount:       3,
			},
		})

		expected := `{"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
			`","event":{"unread_count_changed":{"conversation_id":"c1","user_id":"u1","new_count":3}}}`

		bytes, err := serializeMessage(message)
		assert.NoError(t, err)
		assert.JSONEq(t, expected, string(bytes))
	})
}

func TestOptions_withDefaults(t *testing.T) {
	tcases := []struct {
		name     string
		opts     Options
		expected Options
	}{
		{
			name: "zero value",
			opts: Options{},
			expected: Options{
				PingInterval:   54 * time.Second,
				PongWait:       defaultPongWait,
				WriteWait:      defaultWriteWait,
				MaxMessageSize: defaultMaxMessageSize,
			},
		},
		{
			name: "ping not shorter than pong",
			opts: Options{PingInterval: 20 * time.Second, PongWait: 10 * time.Second},
			expected: Options{
				PingInterval:   9 * time.Second,
				PongWait:       10 * time.Second,
				WriteWait:      defaultWriteWait,
				MaxMessageSize: defaultMaxMessageSize,
			},
		},
		{
			name: "explicit values kept",
			opts: Options{PingInterval: time.Second, PongWait: 2 * time.Second, WriteWait: time.Second, MaxMessageSize: 512},
			expected: Options{
				PingInterval:   time.Second,
				PongWait:       2 * time.Second,
				WriteWait:      time.Second,
				MaxMessageSize: 512,
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.opts.withDefaults())
		})
	}
}
