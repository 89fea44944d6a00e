package service

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/Wyydra/meet/internal/core/port"
	"github.com/rs/zerolog/log"
)

// RoomService groups connections into named rooms. It is the only writer of
// the presence repository.
type RoomService struct {
	presence port.PresenceRepository
	gateway  port.RealTimeGateway

	mu          sync.RWMutex
	rooms       map[domain.RoomName]map[domain.ConnectionID]struct{}
	memberships map[domain.ConnectionID]map[domain.RoomName]struct{}
}

func NewRoomService(presence port.PresenceRepository, gateway port.RealTimeGateway) *RoomService {
	return &RoomService{
		presence:    presence,
		gateway:     gateway,
		rooms:       make(map[domain.RoomName]map[domain.ConnectionID]struct{}),
		memberships: make(map[domain.ConnectionID]map[domain.RoomName]struct{}),
	}
}

// Join binds the identity in payload to conn, tells every other member of the
// room about it, adds conn to the room and acks the joiner with its own
// payload.
func (s *RoomService) Join(ctx context.Context, conn domain.ConnectionID, payload json.RawMessage) error {
	req, err := domain.ParseJoinRequest(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, bound := s.presence.ConnectionOf(ctx, req.Identity)
	if err := s.presence.Bind(ctx, req.Identity, conn); err != nil {
		return fmt.Errorf("join %s: %w", req.Room, err)
	}
	// The identity moved to a new connection; the old one is no longer
	// addressable and leaves every room.
	if bound && prev != conn {
		s.leaveAllLocked(prev)
		log.Info().Str("identity", req.Identity.String()).Str("conn_id", prev.String()).Msg("Stale connection replaced")
	}

	members := s.rooms[req.Room]
	if members == nil {
		members = make(map[domain.ConnectionID]struct{})
		s.rooms[req.Room] = members
		log.Debug().Str("room", req.Room.String()).Msg("Room created")
	}

	joined := domain.NewParticipantJoined(domain.Participant{Identity: req.Identity, ConnectionID: conn})
	for member := range members {
		if member == conn {
			continue
		}
		if err := s.gateway.Deliver(ctx, member, joined); err != nil {
			log.Warn().Err(err).Str("room", req.Room.String()).Str("conn_id", member.String()).Msg("Failed to notify member")
		}
	}

	members[conn] = struct{}{}
	if s.memberships[conn] == nil {
		s.memberships[conn] = make(map[domain.RoomName]struct{})
	}
	s.memberships[conn][req.Room] = struct{}{}

	log.Info().
		Str("room", req.Room.String()).
		Str("identity", req.Identity.String()).
		Str("conn_id", conn.String()).
		Int("count", len(members)).
		Msg("Participant joined room")

	ack := domain.Envelope{Type: domain.EventRoomJoinAck, To: conn, Payload: payload}
	if err := s.gateway.Deliver(ctx, conn, ack); err != nil {
		log.Warn().Err(err).Str("conn_id", conn.String()).Msg("Failed to ack join")
	}
	return nil
}

// Disconnect forgets conn everywhere. Remaining members are not notified.
func (s *RoomService) Disconnect(ctx context.Context, conn domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, _ := s.presence.Unbind(ctx, conn)
	s.leaveAllLocked(conn)

	log.Info().Str("conn_id", conn.String()).Str("identity", identity.String()).Msg("Participant disconnected")
}

// leaveAllLocked removes conn from its rooms and reaps the ones left empty.
func (s *RoomService) leaveAllLocked(conn domain.ConnectionID) {
	for room := range s.memberships[conn] {
		members := s.rooms[room]
		delete(members, conn)
		if len(members) == 0 {
			delete(s.rooms, room)
			log.Debug().Str("room", room.String()).Msg("Room reaped")
		}
	}
	delete(s.memberships, conn)
}

// Lookup returns the live connection of identity.
func (s *RoomService) Lookup(ctx context.Context, identity domain.Identity) (domain.ConnectionID, bool) {
	return s.presence.ConnectionOf(ctx, identity)
}

// Members lists the participants of room ordered by identity.
func (s *RoomService) Members(ctx context.Context, room domain.RoomName) []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Participant, 0, len(s.rooms[room]))
	for conn := range s.rooms[room] {
		identity, ok := s.presence.IdentityOf(ctx, conn)
		if !ok {
			continue
		}
		out = append(out, domain.Participant{Identity: identity, ConnectionID: conn})
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		if c := cmp.Compare(a.Identity, b.Identity); c != 0 {
			return c
		}
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
	return out
}

// RoomCount reports how many rooms currently have members.
func (s *RoomService) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
