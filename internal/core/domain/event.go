package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type EventKind string

// client -> server
const (
	EventRoomJoin            EventKind = "room-join"
	EventCallOffer           EventKind = "call-offer"
	EventCallAnswer          EventKind = "call-answer"
	EventRenegotiationOffer  EventKind = "renegotiation-offer"
	EventRenegotiationAnswer EventKind = "renegotiation-answer"
)

// server -> client
const (
	EventParticipantJoined   EventKind = "participant-joined"
	EventRoomJoinAck         EventKind = "room-join-ack"
	EventIncomingCall        EventKind = "incoming-call"
	EventCallAccepted        EventKind = "call-accepted"
	EventRenegotiationNeeded EventKind = "renegotiation-needed"
	EventRenegotiationFinal  EventKind = "renegotiation-final"
	EventError               EventKind = "error"
)

// ErrUnreachable is returned by a gateway when the target connection is not live.
var ErrUnreachable = errors.New("target connection unreachable")

// SessionDescription is an offer or answer. The server never looks inside it.
type SessionDescription = json.RawMessage

// Envelope is the single frame exchanged over the signaling transport.
type Envelope struct {
	Type    EventKind       `json:"type"`
	From    ConnectionID    `json:"from,omitempty"`
	To      ConnectionID    `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRequest is the payload of a room-join event. Any extra fields the
// client sends are kept in the raw payload and echoed back in the ack.
type JoinRequest struct {
	Identity Identity `json:"identity"`
	Room     RoomName `json:"room"`
}

func ParseJoinRequest(raw json.RawMessage) (JoinRequest, error) {
	var req JoinRequest
	if len(raw) == 0 {
		return req, errors.New("join payload is empty")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decode join payload: %w", err)
	}
	req.Identity = Identity(strings.TrimSpace(string(req.Identity)))
	req.Room = RoomName(strings.TrimSpace(string(req.Room)))
	if req.Identity == "" {
		return req, errors.New("join payload: identity is required")
	}
	if req.Room == "" {
		return req, errors.New("join payload: room is required")
	}
	return req, nil
}

// ErrorPayload is sent back to a client whose frame could not be handled.
type ErrorPayload struct {
	Message string `json:"message"`
}

func NewErrorEnvelope(err error) Envelope {
	b, _ := json.Marshal(ErrorPayload{Message: err.Error()})
	return Envelope{Type: EventError, Payload: b}
}

func NewParticipantJoined(p Participant) Envelope {
	b, _ := json.Marshal(p)
	return Envelope{Type: EventParticipantJoined, Payload: b}
}
