package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/Wyydra/meet/internal/core/port"
	"github.com/rs/zerolog/log"
)

var ErrUnknownKind = errors.New("unknown event kind")

// relayRoutes maps each inbound negotiation kind to the kind the target sees.
var relayRoutes = map[domain.EventKind]domain.EventKind{
	domain.EventCallOffer:           domain.EventIncomingCall,
	domain.EventCallAnswer:          domain.EventCallAccepted,
	domain.EventRenegotiationOffer:  domain.EventRenegotiationNeeded,
	domain.EventRenegotiationAnswer: domain.EventRenegotiationFinal,
}

func IsRelayKind(kind domain.EventKind) bool {
	_, ok := relayRoutes[kind]
	return ok
}

// RelayService forwards negotiation messages between connections. It keeps
// no state.
type RelayService struct {
	gateway port.RealTimeGateway
}

func NewRelayService(gateway port.RealTimeGateway) *RelayService {
	return &RelayService{gateway: gateway}
}

// Forward sends env to env.To, stamped with the sender's connection id.
// Unreachable targets are dropped without error.
func (s *RelayService) Forward(ctx context.Context, from domain.ConnectionID, env domain.Envelope) error {
	out, ok := relayRoutes[env.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	l := log.With().Str("kind", string(env.Type)).Str("from", from.String()).Str("to", env.To.String()).Logger()

	if env.To == "" {
		l.Debug().Msg("Dropping relay message without target")
		return nil
	}

	err := s.gateway.Deliver(ctx, env.To, domain.Envelope{
		Type:    out,
		From:    from,
		Payload: env.Payload,
	})
	if errors.Is(err, domain.ErrUnreachable) {
		l.Debug().Msg("Dropping relay message for unreachable target")
		return nil
	}
	if err != nil {
		return fmt.Errorf("relay %s: %w", env.Type, err)
	}

	l.Debug().Msg("Relayed")
	return nil
}
