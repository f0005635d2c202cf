package handlers

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/velocitype/go-socket-velocitype/internal/models"
)

const (
	sendBufferSize = 32
	writeWait      = 5 * time.Second
)

// Client wraps one websocket connection. Outbound messages go through a
// buffered channel drained by a single write pump, so broadcasts never block
// on a slow consumer; a client that cannot keep up is dropped.
type Client struct {
	conn     *websocket.Conn
	key      string
	identity models.Identity

	send      chan models.Message
	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(conn *websocket.Conn, identity models.Identity) *Client {
	return &Client{
		conn:     conn,
		key:      uuid.New().String(),
		identity: identity,
		send:     make(chan models.Message, sendBufferSize),
		closed:   make(chan struct{}),
	}
}

func (c *Client) Key() string               { return c.key }
func (c *Client) Identity() models.Identity { return c.identity }

// Send queues a message for the write pump. Never blocks; a full buffer
// closes the connection instead of stalling the room broadcast.
func (c *Client) Send(msg models.Message) {
	select {
	case <-c.closed:
	case c.send <- msg:
	default:
		log.Warn().Str("user", c.identity.UserID).Msg("send buffer full, dropping client")
		c.Close()
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// writePump serializes all writes to the websocket.
func (c *Client) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("user", c.identity.UserID).Msg("websocket write failed")
				c.Close()
				return
			}
		}
	}
}
