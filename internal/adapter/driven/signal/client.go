package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// Handler receives every inbound envelope in arrival order.
type Handler interface {
	Handle(ctx context.Context, env domain.Envelope) error
}

// Client is the peer side of the signaling WebSocket. Writes are safe for
// concurrent use; Run must be the only reader.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	mu sync.Mutex
}

func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return &Client{
		conn: conn,
		log:  log.With().Str("component", "signal").Str("server", url).Logger(),
	}, nil
}

// Join asks the server to put this connection in room under identity. Extra
// fields are sent along and come back in the ack.
func (c *Client) Join(ctx context.Context, identity domain.Identity, room domain.RoomName, extra map[string]any) error {
	fields := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		fields[k] = v
	}
	fields["identity"] = identity
	fields["room"] = room

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode join: %w", err)
	}
	return c.write(ctx, domain.Envelope{Type: domain.EventRoomJoin, Payload: payload})
}

// Send implements negotiation.Signaler.
func (c *Client) Send(ctx context.Context, kind domain.EventKind, to domain.ConnectionID, payload domain.SessionDescription) error {
	return c.write(ctx, domain.Envelope{Type: kind, To: to, Payload: payload})
}

func (c *Client) write(ctx context.Context, env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

// Run reads envelopes and hands them to h until the connection closes or ctx
// is done. Handler errors are logged and do not stop the loop.
func (c *Client) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.log.Warn().Err(err).Msg("Skipping malformed frame")
				continue
			}
			return fmt.Errorf("read: %w", err)
		}

		if err := h.Handle(ctx, env); err != nil {
			c.log.Warn().Err(err).Str("kind", string(env.Type)).Msg("Failed to handle event")
		}
	}
}

// Close says goodbye to the server and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.conn.Close()
}
