package service

import (
	"context"
	"sync"

	"github.com/Wyydra/meet/internal/core/domain"
)

type delivery struct {
	to  domain.ConnectionID
	env domain.Envelope
}

// recordingGateway remembers every delivery. Connections listed in live are
// reachable; when live is nil every connection is.
type recordingGateway struct {
	mu   sync.Mutex
	live map[domain.ConnectionID]bool
	sent []delivery
}

func (g *recordingGateway) Deliver(_ context.Context, to domain.ConnectionID, env domain.Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live != nil && !g.live[to] {
		return domain.ErrUnreachable
	}
	g.sent = append(g.sent, delivery{to: to, env: env})
	return nil
}

func (g *recordingGateway) to(conn domain.ConnectionID) []domain.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Envelope
	for _, d := range g.sent {
		if d.to == conn {
			out = append(out, d.env)
		}
	}
	return out
}

func (g *recordingGateway) count(conn domain.ConnectionID, kind domain.EventKind) int {
	n := 0
	for _, env := range g.to(conn) {
		if env.Type == kind {
			n++
		}
	}
	return n
}
