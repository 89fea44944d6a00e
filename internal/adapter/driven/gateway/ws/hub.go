package ws

import (
	"context"
	"sync"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Dispatcher handles frames in arrival order. Hub.Run calls it from a single
// goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, from domain.ConnectionID, env domain.Envelope) error
	Disconnect(ctx context.Context, conn domain.ConnectionID)
}

type inbound struct {
	from domain.ConnectionID
	env  domain.Envelope
}

// Hub owns every live connection. It implements port.RealTimeGateway.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ConnectionID]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ConnectionID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		quit:       make(chan struct{}),
	}
}

// Deliver queues env on the connection's send buffer without blocking. A full
// buffer drops the event.
func (h *Hub) Deliver(_ context.Context, to domain.ConnectionID, env domain.Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[to]
	if !ok {
		return domain.ErrUnreachable
	}
	select {
	case c.send <- env:
	default:
		log.Warn().Str("conn_id", to.String()).Str("kind", string(env.Type)).Msg("Send buffer full, dropping event")
	}
	return nil
}

// Run processes registrations and inbound frames one at a time until Stop.
func (h *Hub) Run(d Dispatcher) {
	ctx := context.Background()
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			log.Info().Str("conn_id", c.id.String()).Msg("Client registered")

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c.id]
			if ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			if ok {
				d.Disconnect(ctx, c.id)
				log.Info().Str("conn_id", c.id.String()).Msg("Client unregistered")
			}

		case in := <-h.inbound:
			_ = d.Dispatch(ctx, in.from, in.env)
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) submit(from domain.ConnectionID, env domain.Envelope) {
	select {
	case h.inbound <- inbound{from: from, env: env}:
	case <-h.quit:
	}
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
