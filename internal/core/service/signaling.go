package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/Wyydra/meet/internal/core/port"
	"github.com/rs/zerolog/log"
)

// SignalingService routes one inbound frame to the room router or the relay.
// The caller runs it from a single goroutine so every frame is handled to
// completion before the next.
type SignalingService struct {
	rooms   *RoomService
	relay   *RelayService
	gateway port.RealTimeGateway
}

func NewSignalingService(rooms *RoomService, relay *RelayService, gateway port.RealTimeGateway) *SignalingService {
	return &SignalingService{
		rooms:   rooms,
		relay:   relay,
		gateway: gateway,
	}
}

// Dispatch handles env sent by from. Failures are reported back to the sender
// as an error event and returned.
func (s *SignalingService) Dispatch(ctx context.Context, from domain.ConnectionID, env domain.Envelope) error {
	var err error
	switch {
	case env.Type == domain.EventRoomJoin:
		err = s.rooms.Join(ctx, from, env.Payload)
	case IsRelayKind(env.Type):
		err = s.relay.Forward(ctx, from, env)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if err != nil {
		log.Warn().Err(err).Str("conn_id", from.String()).Str("kind", string(env.Type)).Msg("Failed to handle frame")
		if derr := s.gateway.Deliver(ctx, from, domain.NewErrorEnvelope(err)); derr != nil {
			log.Debug().Err(derr).Str("conn_id", from.String()).Msg("Could not report error to sender")
		}
	}
	return err
}

// Disconnect cleans up after a closed connection.
func (s *SignalingService) Disconnect(ctx context.Context, conn domain.ConnectionID) {
	s.rooms.Disconnect(ctx, conn)
}
