package negotiation

import (
	"context"

	"github.com/Wyydra/meet/internal/core/domain"
)

type Description = domain.SessionDescription

// Constraints select which kinds of local media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

type LocalStream interface {
	ID() string
}

type RemoteStream interface {
	ID() string
	Kinds() []string
}

// PeerConnection is the underlying offer/answer engine. Callbacks registered
// with OnNegotiationNeeded and OnTrack must never be invoked from inside one
// of its own methods.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	// SetLocalDescription applies d. LocalDescription then returns what must
	// be sent to the remote side.
	SetLocalDescription(ctx context.Context, d Description) error
	LocalDescription() Description
	SetRemoteDescription(ctx context.Context, d Description) error
	// Rollback discards a local offer that has not been answered, returning
	// the connection to stable.
	Rollback(ctx context.Context) error
	AttachStream(s LocalStream) error
	// OnNegotiationNeeded registers fn to run once after each AttachStream
	// that changed what is sent.
	OnNegotiationNeeded(fn func())
	OnTrack(fn func([]RemoteStream))
	Close() error
}

type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (LocalStream, error)
}

// Signaler sends one negotiation message to a remote connection.
type Signaler interface {
	Send(ctx context.Context, kind domain.EventKind, to domain.ConnectionID, payload Description) error
}

// Presenter is told about everything the user should see.
type Presenter interface {
	RemoteStream(s RemoteStream)
	Presence(connected bool)
	Error(err error)
}
