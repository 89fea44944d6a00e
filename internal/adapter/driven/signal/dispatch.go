package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/Wyydra/meet/internal/core/negotiation"
	"github.com/rs/zerolog/log"
)

// Session is the negotiation side the dispatcher drives.
type Session interface {
	SetLocalID(id domain.ConnectionID)
	HandleParticipantJoined(identity domain.Identity, conn domain.ConnectionID)
	InitiateCall(ctx context.Context, target domain.ConnectionID) error
	HandleIncomingCall(ctx context.Context, from domain.ConnectionID, offer negotiation.Description) error
	HandleCallAccepted(ctx context.Context, from domain.ConnectionID, answer negotiation.Description) error
	HandleRenegotiationOffer(ctx context.Context, from domain.ConnectionID, offer negotiation.Description) error
	HandleRenegotiationFinal(ctx context.Context, answer negotiation.Description) error
}

// Dispatcher maps server events onto a Session.
type Dispatcher struct {
	session  Session
	autoCall bool
}

type DispatcherOption func(*Dispatcher)

// WithAutoCall makes the dispatcher call every participant that joins after us.
func WithAutoCall(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.autoCall = enabled }
}

func NewDispatcher(session Session, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{session: session}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Handle(ctx context.Context, env domain.Envelope) error {
	err := d.handle(ctx, env)
	if errors.Is(err, negotiation.ErrStaleDescription) {
		log.Warn().Err(err).Str("kind", string(env.Type)).Msg("Ignored stale description")
		return nil
	}
	return err
}

func (d *Dispatcher) handle(ctx context.Context, env domain.Envelope) error {
	switch env.Type {
	case domain.EventRoomJoinAck:
		d.session.SetLocalID(env.To)
		ev := log.Info().Str("conn_id", env.To.String())
		if len(env.Payload) > 0 {
			ev = ev.RawJSON("join", env.Payload)
		}
		ev.Msg("Joined room")
		return nil

	case domain.EventParticipantJoined:
		var p domain.Participant
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode participant: %w", err)
		}
		d.session.HandleParticipantJoined(p.Identity, p.ConnectionID)
		if d.autoCall {
			return d.session.InitiateCall(ctx, p.ConnectionID)
		}
		return nil

	case domain.EventIncomingCall:
		return d.session.HandleIncomingCall(ctx, env.From, env.Payload)

	case domain.EventCallAccepted:
		return d.session.HandleCallAccepted(ctx, env.From, env.Payload)

	case domain.EventRenegotiationNeeded:
		return d.session.HandleRenegotiationOffer(ctx, env.From, env.Payload)

	case domain.EventRenegotiationFinal:
		return d.session.HandleRenegotiationFinal(ctx, env.Payload)

	case domain.EventError:
		var p domain.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		log.Warn().Str("message", p.Message).Msg("Server reported an error")
		return nil

	default:
		log.Debug().Str("kind", string(env.Type)).Msg("Ignoring unknown event")
		return nil
	}
}
