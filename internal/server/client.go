package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 1 << 20
	commandTimeout        = 10 * time.Second
	sendQueueSize         = 64
)

// ChatService is the part of the chat core a websocket session drives.
type ChatService interface {
	Connect(ctx context.Context, sessionId, userId string) (*chat.Session, error)
	Disconnect(sess *chat.Session)
	Append(ctx context.Context, conversationId, authorId, text string, photo *types.Photo, location *types.Location) (types.Message, error)
	ResetUnread(ctx context.Context, conversationId, userId string) error
	SetPresence(ctx context.Context, userId string, state types.PresenceState) (types.User, error)
}

type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

// Client is one websocket connection bound to a chat session. Responses to
// commands and pushed events share the connection through the Write pump.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	svc        ChatService
	log        zerolog.Logger
	userId     string
	sess       *chat.Session
	opts       Options
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

func NewClient(conn *websocket.Conn, cs *ChatServer, sess *chat.Session) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		svc:        cs.svc,
		log: cs.log.With().
			Str("session_id", sess.Id()).
			Str("user_id", sess.UserId()).
			Logger(),
		userId: sess.UserId(),
		sess:   sess,
		opts:   cs.opts,
		send:   make(chan *ServerMessage, sendQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.writeJson(msg) {
				return
			}
		case ev := <-c.sess.Events():
			if !c.writeJson(EventMessage(ev)) {
				return
			}
		case <-c.sess.Done():
			reason := "session closed"
			if c.sess.Evicted() {
				reason = "event queue overflow"
			}
			c.sendClose(websocket.CloseTryAgainLater, reason)
			return
		case <-c.stop:
			c.sendClose(websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.queueMessage(c.handle(&msg))
	}
}

// handle runs one command against the chat core and builds its response.
func (c *Client) handle(msg *ClientMessage) *ServerMessage {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch {
	case msg.Publish != nil:
		p := msg.Publish
		m, err := c.svc.Append(ctx, p.ConversationId, c.userId, p.Text, p.Photo, p.Location)
		if err != nil {
			return c.errResponse(msg.Id, err)
		}
		return NoErrOK(msg.Id, map[string]any{"id": m.Id, "seq_id": m.SeqId, "timestamp": m.Timestamp})
	case msg.Read != nil:
		if err := c.svc.ResetUnread(ctx, msg.Read.ConversationId, c.userId); err != nil {
			return c.errResponse(msg.Id, err)
		}
		return NoErrOK(msg.Id, nil)
	case msg.Presence != nil:
		u, err := c.svc.SetPresence(ctx, c.userId, msg.Presence.State)
		if err != nil {
			return c.errResponse(msg.Id, err)
		}
		return NoErrOK(msg.Id, map[string]any{"presence": u.Presence, "last_seen_at": u.LastSeenAt})
	}

	return ErrInvalidMessage(msg.Id)
}

func (c *Client) errResponse(id int, err error) *ServerMessage {
	resp := ErrFromError(id, err)
	if resp.Response.ResponseCode >= 500 {
		c.log.Error().Err(err).Int("message_id", id).Msg("command failed")
	}
	return resp
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) writeJson(msg *ServerMessage) bool {
	bytes, err := serializeMessage(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to serialize message")
		return true
	}
	return c.sendMessage(websocket.TextMessage, bytes)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) sendClose(code int, reason string) {
	c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.removeClient(c)
	c.svc.Disconnect(c.sess)
	c.stopClient()
}
