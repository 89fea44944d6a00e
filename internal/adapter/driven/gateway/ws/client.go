package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Limits bound one connection.
type Limits struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultLimits() Limits {
	return Limits{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// Client is one live WebSocket connection.
type Client struct {
	id     domain.ConnectionID
	hub    *Hub
	conn   *websocket.Conn
	send   chan domain.Envelope
	limits Limits
	log    zerolog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, limits Limits) *Client {
	id := domain.NewConnectionID()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan domain.Envelope, limits.SendBuffer),
		limits: limits,
		log:    log.With().Str("conn_id", id.String()).Logger(),
	}
}

func (c *Client) ID() domain.ConnectionID {
	return c.id
}

// ReadPump feeds frames to the hub until the connection fails. Only one
// goroutine may run it.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.limits.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("Malformed frame")
			_ = c.hub.Deliver(context.Background(), c.id, domain.NewErrorEnvelope(fmt.Errorf("malformed frame: %w", err)))
			continue
		}
		c.hub.submit(c.id, env)
	}
}

// WritePump drains the send buffer and keeps the connection alive with
// pings. Only one goroutine may run it.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.limits.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Error().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
