package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Wyydra/meet/internal/core/domain"
)

func desc(s string) Description {
	return Description(strconv.Quote(s))
}

type fakePeer struct {
	name      string
	seq       int
	local     Description
	remote    Description
	applied   []Description
	attached  []LocalStream
	rollbacks int
	needed    bool
	failOffer bool
	onNeeded  func()
	onTrack   func([]RemoteStream)
	closed    bool
}

func (p *fakePeer) CreateOffer(context.Context) (Description, error) {
	if p.failOffer {
		return nil, errors.New("offer refused")
	}
	p.seq++
	return desc(fmt.Sprintf("%s-offer-%d", p.name, p.seq)), nil
}

func (p *fakePeer) CreateAnswer(context.Context) (Description, error) {
	if p.remote == nil {
		return nil, errors.New("no remote offer")
	}
	p.seq++
	return desc(fmt.Sprintf("%s-answer-%d", p.name, p.seq)), nil
}

func (p *fakePeer) SetLocalDescription(_ context.Context, d Description) error {
	p.local = d
	return nil
}

func (p *fakePeer) LocalDescription() Description { return p.local }

func (p *fakePeer) SetRemoteDescription(_ context.Context, d Description) error {
	p.remote = d
	p.applied = append(p.applied, d)
	return nil
}

func (p *fakePeer) Rollback(context.Context) error {
	p.rollbacks++
	p.local = nil
	return nil
}

func (p *fakePeer) AttachStream(s LocalStream) error {
	p.attached = append(p.attached, s)
	p.needed = true
	return nil
}

func (p *fakePeer) OnNegotiationNeeded(fn func())   { p.onNeeded = fn }
func (p *fakePeer) OnTrack(fn func([]RemoteStream)) { p.onTrack = fn }
func (p *fakePeer) Close() error                    { p.closed = true; return nil }

type fakeStream struct {
	id    string
	kinds []string
}

func (s fakeStream) ID() string      { return s.id }
func (s fakeStream) Kinds() []string { return s.kinds }

type fakeMedia struct {
	err   error
	calls int
}

func (m *fakeMedia) Acquire(context.Context, Constraints) (LocalStream, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return fakeStream{id: "local", kinds: []string{"audio", "video"}}, nil
}

type fakePresenter struct {
	streams  []RemoteStream
	presence []bool
	errs     []error
}

func (p *fakePresenter) RemoteStream(s RemoteStream) { p.streams = append(p.streams, s) }
func (p *fakePresenter) Presence(c bool)             { p.presence = append(p.presence, c) }
func (p *fakePresenter) Error(err error)             { p.errs = append(p.errs, err) }

type message struct {
	from, to domain.ConnectionID
	kind     domain.EventKind
	payload  Description
}

// wire queues messages in send order, standing in for the relay.
type wire struct {
	queue []message
	log   []message
}

type wireSignaler struct {
	self domain.ConnectionID
	w    *wire
}

func (s *wireSignaler) Send(_ context.Context, kind domain.EventKind, to domain.ConnectionID, payload Description) error {
	m := message{from: s.self, to: to, kind: kind, payload: payload}
	s.w.queue = append(s.w.queue, m)
	s.w.log = append(s.w.log, m)
	return nil
}

func (w *wire) sent(from domain.ConnectionID, kind domain.EventKind) []message {
	var out []message
	for _, m := range w.log {
		if m.from == from && m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type side struct {
	id    domain.ConnectionID
	pc    *fakePeer
	media *fakeMedia
	pres  *fakePresenter
	n     *Negotiator
}

func newSide(id domain.ConnectionID, w *wire, opts ...Option) *side {
	s := &side{
		id:    id,
		pc:    &fakePeer{name: string(id)},
		media: &fakeMedia{},
		pres:  &fakePresenter{},
	}
	s.n = NewNegotiator(s.pc, s.media, &wireSignaler{self: id, w: w}, s.pres, opts...)
	s.n.SetLocalID(id)
	return s
}

// pump fires pending negotiation-needed callbacks and delivers queued
// messages until nothing is left to do.
func pump(ctx context.Context, w *wire, sides ...*side) error {
	byID := make(map[domain.ConnectionID]*side, len(sides))
	for _, s := range sides {
		byID[s.id] = s
	}

	for i := 0; i < 100; i++ {
		fired := false
		for _, s := range sides {
			if s.pc.needed {
				s.pc.needed = false
				s.pc.onNeeded()
				fired = true
			}
		}
		if len(w.queue) == 0 {
			if !fired {
				return nil
			}
			continue
		}

		m := w.queue[0]
		w.queue = w.queue[1:]
		target, ok := byID[m.to]
		if !ok {
			continue
		}

		var err error
		switch m.kind {
		case domain.EventCallOffer:
			err = target.n.HandleIncomingCall(ctx, m.from, m.payload)
		case domain.EventCallAnswer:
			err = target.n.HandleCallAccepted(ctx, m.from, m.payload)
		case domain.EventRenegotiationOffer:
			err = target.n.HandleRenegotiationOffer(ctx, m.from, m.payload)
		case domain.EventRenegotiationAnswer:
			err = target.n.HandleRenegotiationFinal(ctx, m.payload)
		}
		if err != nil {
			return fmt.Errorf("%s -> %s %s: %w", m.from, m.to, m.kind, err)
		}
	}
	return errors.New("pump did not settle")
}
