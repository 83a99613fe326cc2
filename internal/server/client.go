package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	cleanupTimeout = 5 * time.Second
)

// Client is a websocket connection to the relay.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *zap.SugaredLogger
	send       chan []*ServerMessage
	ctx        context.Context
	cancel     context.CancelFunc
	stop       chan struct{}
	stopOnce   sync.Once
	closeMsg   []byte
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *zap.SugaredLogger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		// shortid only fails on a broken generator; fall back to the clock
		id = time.Now().UTC().Format("20060102150405.000000000")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With("conn", id),
		send:       make(chan []*ServerMessage, cs.clientBuffer),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

// Deliver queues msgs for the connection. A connection that cannot keep up is
// closed so it reconnects and replays history instead of missing events.
func (c *Client) Deliver(msgs ...*ServerMessage) bool {
	if c.queueMessage(msgs...) {
		return true
	}

	c.stopWith(websocket.CloseTryAgainLater, "client too slow")
	return false
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case batch := <-c.send:
			for _, msg := range batch {
				bytes, err := serializeMessage(msg)
				if err != nil {
					c.log.Errorf("failed to serialize message: %v", err)
					continue
				}

				if !c.sendMessage(websocket.TextMessage, bytes) {
					return
				}
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, c.closeMsg)
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
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warnf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debugf("error parsing message: %v", err)
			c.queueMessage(ErrInvalidMessageResponse(-1))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinRoom(msg)
	case msg.SendMessage != nil:
		c.sendChatMessage(msg)
	case msg.Leave != nil:
		if err := c.chatServer.Leave(c.ctx, c.id); err != nil {
			c.log.Warnf("leave: %v", err)
		}
	default:
		c.log.Debug("ignoring message with no known event")
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	err := c.chatServer.Join(c.ctx, c, msg.Join.Room, msg.Join.Username())
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidJoin):
		c.queueMessage(ErrInvalidJoinResponse(msg.Id))
	case errors.Is(err, ErrServerClosed):
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	case database.IsStorageError(err):
		c.queueMessage(ErrInternalError(msg.Id))
	default:
		c.log.Warnf("join room %q: %v", msg.Join.Room, err)
	}
}

func (c *Client) sendChatMessage(msg *ClientMessage) {
	sm := msg.SendMessage
	room := sm.Room
	if room == "" {
		if b, ok := c.chatServer.sessions.Lookup(c.id); ok {
			room = b.Room
		}
	}

	_, err := c.chatServer.Send(c.ctx, c.id, room, sm.Username(), sm.Kind(), sm.Message, sm.ImageURL)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidMessage):
		// dropped without a reply
		c.log.Debugf("dropping message: %v", err)
	case errors.Is(err, ErrServerClosed):
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	case database.IsStorageError(err):
		c.queueMessage(ErrInternalError(msg.Id))
	default:
		c.log.Warnf("send to room %q: %v", room, err)
	}
}

func (c *Client) queueMessage(msgs ...*ServerMessage) bool {
	if len(msgs) == 0 {
		return true
	}

	select {
	case c.send <- msgs:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warnf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopWith(websocket.CloseGoingAway, "server shutting down")
}

func (c *Client) stopWith(code int, reason string) {
	c.stopOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		if c.cancel != nil {
			c.cancel()
		}
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := c.chatServer.Disconnect(ctx, c.id); err != nil && !errors.Is(err, ErrServerClosed) {
		c.log.Warnf("cleanup: %v", err)
	}
	c.chatServer.deRegisterClient(c)
	c.stopClient()
}
