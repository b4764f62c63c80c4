package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

// ChatServer owns the websocket clients of this process.
type ChatServer struct {
	log         zerolog.Logger
	svc         ChatService
	opts        Options
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	closing     bool
}

func NewChatServer(logger zerolog.Logger, svc ChatService, opts Options) *ChatServer {
	return &ChatServer{
		log:     logger.With().Str("component", "ws").Logger(),
		svc:     svc,
		opts:    opts.withDefaults(),
		clients: make(map[*Client]struct{}),
	}
}

// Attach connects a new chat session for userId over conn and starts its
// pumps. The connection is closed on error.
func (cs *ChatServer) Attach(ctx context.Context, conn *websocket.Conn, userId string) (*Client, error) {
	cs.clientsLock.Lock()
	closing := cs.closing
	cs.clientsLock.Unlock()
	if closing {
		conn.Close()
		return nil, ErrShuttingDown
	}

	sess, err := cs.svc.Connect(ctx, uuid.NewString(), userId)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := NewClient(conn, cs, sess)
	if !cs.addClient(c) {
		cs.svc.Disconnect(sess)
		conn.Close()
		return nil, ErrShuttingDown
	}

	c.log.Debug().Msg("client attached")
	go c.Write()
	go c.Read()

	return c, nil
}

func (cs *ChatServer) addClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if cs.closing {
		return false
	}
	cs.clients[c] = struct{}{}
	return true
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) ClientCount() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return len(cs.clients)
}

// Shutdown refuses new clients, asks every client to close and waits for
// their write pumps to exit.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	cs.closing = true
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.clientsLock.Unlock()

	cs.log.Info().Int("clients", len(clients)).Msg("shutting down clients")
	for _, c := range clients {
		c.stopClient()
	}

	for _, c := range clients {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
