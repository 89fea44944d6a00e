package port

import (
	"context"

	"github.com/Wyydra/meet/internal/core/domain"
)

// RealTimeGateway delivers events to live connections.
type RealTimeGateway interface {
	// Deliver queues env for the connection. It returns domain.ErrUnreachable
	// when the connection is not live.
	Deliver(ctx context.Context, to domain.ConnectionID, env domain.Envelope) error
}
