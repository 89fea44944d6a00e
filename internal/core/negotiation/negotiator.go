package negotiation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Negotiator drives the offer/answer exchange of exactly one peer connection
// against one remote connection at a time. All operations are serialized.
type Negotiator struct {
	mu sync.Mutex

	pc          PeerConnection
	media       MediaSource
	signaler    Signaler
	presenter   Presenter
	constraints Constraints
	log         zerolog.Logger

	state    State
	self     domain.ConnectionID
	remote   domain.ConnectionID
	local    LocalStream
	attached bool
	pending  bool

	roleFixed bool
	polite    bool
}

type Option func(*Negotiator)

func WithConstraints(c Constraints) Option {
	return func(n *Negotiator) { n.constraints = c }
}

// WithPolite pins the glare role instead of deriving it from connection ids.
func WithPolite(polite bool) Option {
	return func(n *Negotiator) {
		n.roleFixed = true
		n.polite = polite
	}
}

func NewNegotiator(pc PeerConnection, media MediaSource, signaler Signaler, presenter Presenter, opts ...Option) *Negotiator {
	n := &Negotiator{
		pc:          pc,
		media:       media,
		signaler:    signaler,
		presenter:   presenter,
		constraints: Constraints{Audio: true, Video: true},
		log:         log.With().Str("component", "negotiator").Logger(),
	}
	for _, opt := range opts {
		opt(n)
	}

	pc.OnNegotiationNeeded(func() {
		if err := n.OnRenegotiationNeeded(context.Background()); err != nil {
			n.log.Error().Err(err).Msg("Renegotiation failed")
		}
	})
	pc.OnTrack(n.OnTrackReceived)
	return n
}

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Remote returns the connection currently negotiated with.
func (n *Negotiator) Remote() domain.ConnectionID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote
}

// SetLocalID records the id the server assigned to this side.
func (n *Negotiator) SetLocalID(id domain.ConnectionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.self = id
}

func (n *Negotiator) Polite() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.politeLocked()
}

// The side whose own id sorts lower yields on glare.
func (n *Negotiator) politeLocked() bool {
	if n.roleFixed {
		return n.polite
	}
	return n.self != "" && n.remote != "" && n.self < n.remote
}

// HandleParticipantJoined makes conn the active remote.
func (n *Negotiator) HandleParticipantJoined(identity domain.Identity, conn domain.ConnectionID) {
	n.mu.Lock()
	n.remote = conn
	n.mu.Unlock()

	n.log.Info().Str("identity", identity.String()).Str("remote", conn.String()).Msg("Participant joined")
	n.presenter.Presence(true)
}

// InitiateCall acquires local media and sends the first offer to target.
func (n *Negotiator) InitiateCall(ctx context.Context, target domain.ConnectionID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != Stable {
		return fmt.Errorf("initiate call in %s: %w", n.state, ErrNegotiationInProgress)
	}
	if err := n.acquireLocked(ctx); err != nil {
		return err
	}

	n.remote = target
	if err := n.offerLocked(ctx, domain.EventCallOffer); err != nil {
		return n.fail(fmt.Errorf("initiate call: %w", err))
	}
	return nil
}

// HandleIncomingCall answers the first offer of from.
func (n *Negotiator) HandleIncomingCall(ctx context.Context, from domain.ConnectionID, offer Description) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.acquireLocked(ctx); err != nil {
		return err
	}
	// An incoming call supersedes our own, so nothing is offered again.
	if ignore, err := n.resolveCollisionLocked(ctx, from, false); ignore || err != nil {
		return err
	}

	n.remote = from
	if err := n.answerLocked(ctx, from, offer, domain.EventCallAnswer); err != nil {
		return n.fail(fmt.Errorf("answer call: %w", err))
	}
	return n.finishRoundLocked(ctx)
}

// HandleCallAccepted completes the first round and attaches local media,
// which makes the peer connection ask for a renegotiation.
func (n *Negotiator) HandleCallAccepted(ctx context.Context, from domain.ConnectionID, answer Description) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.applyAnswerLocked(ctx, answer); err != nil {
		return err
	}
	n.log.Info().Str("remote", from.String()).Msg("Call accepted")

	if err := n.attachLocked(); err != nil {
		return n.fail(err)
	}
	return n.finishRoundLocked(ctx)
}

// OnRenegotiationNeeded sends a fresh offer to the active remote. A request
// made while a round is in flight is deferred until the machine is stable
// again; several such requests collapse into one offer.
func (n *Negotiator) OnRenegotiationNeeded(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.remote == "" {
		n.log.Debug().Msg("Negotiation needed without remote, ignoring")
		return nil
	}
	if n.state != Stable {
		n.pending = true
		n.log.Debug().Str("state", n.state.String()).Msg("Renegotiation deferred")
		return nil
	}
	if err := n.offerLocked(ctx, domain.EventRenegotiationOffer); err != nil {
		return n.fail(fmt.Errorf("renegotiate: %w", err))
	}
	return nil
}

// HandleRenegotiationOffer answers an offer on an established session.
func (n *Negotiator) HandleRenegotiationOffer(ctx context.Context, from domain.ConnectionID, offer Description) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ignore, err := n.resolveCollisionLocked(ctx, from, true); ignore || err != nil {
		return err
	}

	n.remote = from
	if err := n.answerLocked(ctx, from, offer, domain.EventRenegotiationAnswer); err != nil {
		return n.fail(fmt.Errorf("answer renegotiation: %w", err))
	}
	return n.finishRoundLocked(ctx)
}

// HandleRenegotiationFinal applies the answer to our last renegotiation offer.
func (n *Negotiator) HandleRenegotiationFinal(ctx context.Context, answer Description) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.applyAnswerLocked(ctx, answer); err != nil {
		return err
	}
	return n.finishRoundLocked(ctx)
}

// SendStreams publishes local media on the current session, acquiring it
// first if needed.
func (n *Negotiator) SendStreams(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.acquireLocked(ctx); err != nil {
		return err
	}
	if err := n.attachLocked(); err != nil {
		return n.fail(err)
	}
	return nil
}

// OnTrackReceived hands the first remote stream to the presenter.
func (n *Negotiator) OnTrackReceived(streams []RemoteStream) {
	if len(streams) == 0 {
		return
	}
	n.log.Info().Str("stream", streams[0].ID()).Strs("kinds", streams[0].Kinds()).Msg("Remote stream received")
	n.presenter.RemoteStream(streams[0])
}

// Close releases local media and the peer connection.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	local := n.local
	n.mu.Unlock()

	if c, ok := local.(io.Closer); ok {
		_ = c.Close()
	}
	return n.pc.Close()
}

func (n *Negotiator) acquireLocked(ctx context.Context) error {
	if n.local != nil {
		return nil
	}
	stream, err := n.media.Acquire(ctx, n.constraints)
	if err != nil {
		if !errors.Is(err, ErrMediaAcquisition) {
			err = fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
		}
		return n.fail(err)
	}
	n.local = stream
	return nil
}

func (n *Negotiator) attachLocked() error {
	if n.local == nil || n.attached {
		return nil
	}
	if err := n.pc.AttachStream(n.local); err != nil {
		return fmt.Errorf("attach local stream: %w", err)
	}
	n.attached = true
	n.log.Debug().Str("stream", n.local.ID()).Msg("Local stream attached")
	return nil
}

func (n *Negotiator) offerLocked(ctx context.Context, kind domain.EventKind) error {
	offer, err := n.pc.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(ctx, offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	n.state = HaveLocalOffer
	n.pending = false

	if err := n.signaler.Send(ctx, kind, n.remote, n.pc.LocalDescription()); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	n.log.Debug().Str("kind", string(kind)).Str("remote", n.remote.String()).Msg("Offer sent")
	return nil
}

func (n *Negotiator) answerLocked(ctx context.Context, to domain.ConnectionID, offer Description, kind domain.EventKind) error {
	if err := n.pc.SetRemoteDescription(ctx, offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	n.state = HaveRemoteOffer

	answer, err := n.pc.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := n.pc.SetLocalDescription(ctx, answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	n.state = Stable

	if err := n.signaler.Send(ctx, kind, to, n.pc.LocalDescription()); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	n.log.Debug().Str("kind", string(kind)).Str("remote", to.String()).Msg("Answer sent")
	return nil
}

func (n *Negotiator) applyAnswerLocked(ctx context.Context, answer Description) error {
	if n.state != HaveLocalOffer {
		n.log.Warn().Str("state", n.state.String()).Msg("Ignoring answer without outstanding offer")
		return fmt.Errorf("apply answer in %s: %w", n.state, ErrStaleDescription)
	}
	if err := n.pc.SetRemoteDescription(ctx, answer); err != nil {
		return n.fail(fmt.Errorf("set remote answer: %w", err))
	}
	n.state = Stable
	return nil
}

// resolveCollisionLocked handles an offer that arrives while our own offer is
// outstanding. The impolite side drops the incoming offer. The polite side
// rolls its offer back and, when requeue is set, sends it again once the
// incoming round is done.
func (n *Negotiator) resolveCollisionLocked(ctx context.Context, from domain.ConnectionID, requeue bool) (bool, error) {
	if n.state != HaveLocalOffer {
		return false, nil
	}
	if n.remote == "" {
		n.remote = from
	}

	l := n.log.With().Str("remote", from.String()).Logger()
	if !n.politeLocked() {
		l.Info().Msg("Offer collision, keeping our offer")
		return true, nil
	}

	l.Info().Msg("Offer collision, rolling back")
	if err := n.pc.Rollback(ctx); err != nil {
		return true, n.fail(fmt.Errorf("rollback: %w", err))
	}
	n.state = Stable
	n.pending = requeue
	return false, nil
}

func (n *Negotiator) finishRoundLocked(ctx context.Context) error {
	if !n.pending || n.state != Stable {
		return nil
	}
	if err := n.offerLocked(ctx, domain.EventRenegotiationOffer); err != nil {
		return n.fail(fmt.Errorf("deferred renegotiation: %w", err))
	}
	return nil
}

func (n *Negotiator) fail(err error) error {
	n.log.Error().Err(err).Msg("Negotiation error")
	n.presenter.Error(err)
	return err
}
