package domain

import (
	"github.com/google/uuid"
)

// ConnectionID names one live transport connection. It is never reused.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func (id ConnectionID) String() string {
	return string(id)
}

// Identity is the caller-supplied name of a participant (an email, an
// interview id...). It may outlive any single connection.
type Identity string

func (i Identity) String() string {
	return string(i)
}

type RoomName string

func (r RoomName) String() string {
	return string(r)
}

// Participant is one member of a room as seen by the other members.
type Participant struct {
	Identity     Identity     `json:"identity"`
	ConnectionID ConnectionID `json:"connectionId"`
}
