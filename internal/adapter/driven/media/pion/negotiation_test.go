package pion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/meet/internal/core/domain"
	"github.com/Wyydra/meet/internal/core/negotiation"
)

// quiet is how long the relay must stay idle before a call counts as settled.
const quiet = 750 * time.Millisecond

type relayed struct {
	from, to domain.ConnectionID
	kind     domain.EventKind
	payload  negotiation.Description
}

// relay carries messages between two negotiators in send order.
type relay struct {
	ch chan relayed

	mu  sync.Mutex
	log []relayed
}

func newRelay() *relay {
	return &relay{ch: make(chan relayed, 64)}
}

func (r *relay) count(from domain.ConnectionID, kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.log {
		if m.from == from && m.kind == kind {
			n++
		}
	}
	return n
}

type relaySignaler struct {
	self domain.ConnectionID
	r    *relay
}

func (s relaySignaler) Send(_ context.Context, kind domain.EventKind, to domain.ConnectionID, payload negotiation.Description) error {
	m := relayed{from: s.self, to: to, kind: kind, payload: payload}
	s.r.mu.Lock()
	s.r.log = append(s.r.log, m)
	s.r.mu.Unlock()
	s.r.ch <- m
	return nil
}

type callPresenter struct {
	mu   sync.Mutex
	errs []error
}

func (p *callPresenter) RemoteStream(negotiation.RemoteStream) {}
func (p *callPresenter) Presence(bool)                         {}

func (p *callPresenter) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

func (p *callPresenter) errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

type endpoint struct {
	id   domain.ConnectionID
	n    *negotiation.Negotiator
	pres *callPresenter
}

func newEndpoint(t *testing.T, id domain.ConnectionID, r *relay, polite bool) *endpoint {
	t.Helper()
	e := &endpoint{id: id, pres: &callPresenter{}}
	e.n = negotiation.NewNegotiator(newTestPeer(t), SyntheticSource{}, relaySignaler{self: id, r: r}, e.pres,
		negotiation.WithPolite(polite))
	e.n.SetLocalID(id)
	t.Cleanup(func() { _ = e.n.Close() })
	return e
}

// settle delivers relayed messages until the relay stays idle.
func settle(t *testing.T, ctx context.Context, r *relay, eps ...*endpoint) {
	t.Helper()
	byID := make(map[domain.ConnectionID]*endpoint, len(eps))
	for _, e := range eps {
		byID[e.id] = e
	}

	deadline := time.After(30 * time.Second)
	for {
		var m relayed
		select {
		case m = <-r.ch:
		case <-time.After(quiet):
			return
		case <-deadline:
			t.Fatal("negotiation did not settle")
		}

		target, ok := byID[m.to]
		if !ok {
			t.Fatalf("message to unknown connection %q", m.to)
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
		default:
			err = fmt.Errorf("unexpected kind %s", m.kind)
		}
		if err != nil {
			t.Fatalf("%s -> %s %s: %v", m.from, m.to, m.kind, err)
		}
	}
}

func assertSettled(t *testing.T, eps ...*endpoint) {
	t.Helper()
	for _, e := range eps {
		if s := e.n.State(); s != negotiation.Stable {
			t.Errorf("%s state = %s", e.id, s)
		}
		if errs := e.pres.errors(); len(errs) != 0 {
			t.Errorf("%s reported errors: %v", e.id, errs)
		}
	}
}

func TestNegotiatorsCallOverPion(t *testing.T) {
	ctx := context.Background()
	r := newRelay()
	a := newEndpoint(t, "A", r, false)
	b := newEndpoint(t, "B", r, true)

	if err := a.n.InitiateCall(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	settle(t, ctx, r, a, b)
	assertSettled(t, a, b)

	want := []struct {
		from domain.ConnectionID
		kind domain.EventKind
		n    int
	}{
		{"A", domain.EventCallOffer, 1},
		{"B", domain.EventCallAnswer, 1},
		// Attaching the caller's media is the only follow-up round.
		{"A", domain.EventRenegotiationOffer, 1},
		{"B", domain.EventRenegotiationAnswer, 1},
		{"B", domain.EventRenegotiationOffer, 0},
		{"A", domain.EventRenegotiationAnswer, 0},
	}
	for _, w := range want {
		if got := r.count(w.from, w.kind); got != w.n {
			t.Errorf("%s sent %d %s, want %d", w.from, got, w.kind, w.n)
		}
	}

	// The callee sending back costs exactly one more round.
	if err := b.n.SendStreams(ctx); err != nil {
		t.Fatal(err)
	}
	settle(t, ctx, r, a, b)
	assertSettled(t, a, b)

	if got := r.count("B", domain.EventRenegotiationOffer); got != 1 {
		t.Errorf("B sent %d renegotiation offers, want 1", got)
	}
	if got := r.count("A", domain.EventRenegotiationOffer); got != 1 {
		t.Errorf("A sent %d renegotiation offers, want 1", got)
	}
}

func TestNegotiatorGlareOverPion(t *testing.T) {
	ctx := context.Background()
	r := newRelay()
	a := newEndpoint(t, "A", r, true)
	b := newEndpoint(t, "B", r, false)

	if err := a.n.InitiateCall(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	settle(t, ctx, r, a, b)

	offersA := r.count("A", domain.EventRenegotiationOffer)
	offersB := r.count("B", domain.EventRenegotiationOffer)
	answersA := r.count("A", domain.EventRenegotiationAnswer)
	answersB := r.count("B", domain.EventRenegotiationAnswer)

	if err := a.n.OnRenegotiationNeeded(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.n.OnRenegotiationNeeded(ctx); err != nil {
		t.Fatal(err)
	}
	if a.n.State() != negotiation.HaveLocalOffer || b.n.State() != negotiation.HaveLocalOffer {
		t.Fatalf("offers did not cross: A=%s B=%s", a.n.State(), b.n.State())
	}
	settle(t, ctx, r, a, b)
	assertSettled(t, a, b)

	// B's offer wins, then A's withdrawn offer goes out again.
	if got := r.count("B", domain.EventRenegotiationOffer) - offersB; got != 1 {
		t.Errorf("B sent %d offers, want 1", got)
	}
	if got := r.count("A", domain.EventRenegotiationOffer) - offersA; got != 2 {
		t.Errorf("A sent %d offers, want 2", got)
	}
	if got := r.count("A", domain.EventRenegotiationAnswer) - answersA; got != 1 {
		t.Errorf("A sent %d answers, want 1", got)
	}
	if got := r.count("B", domain.EventRenegotiationAnswer) - answersB; got != 1 {
		t.Errorf("B sent %d answers, want 1", got)
	}
}

func TestNegotiatorCallGlareOverPion(t *testing.T) {
	ctx := context.Background()
	r := newRelay()
	a := newEndpoint(t, "A", r, true)
	b := newEndpoint(t, "B", r, false)

	if err := a.n.InitiateCall(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	if err := b.n.InitiateCall(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	settle(t, ctx, r, a, b)
	assertSettled(t, a, b)

	if got := r.count("A", domain.EventCallAnswer); got != 1 {
		t.Errorf("A sent %d call answers, want 1", got)
	}
	if got := r.count("B", domain.EventCallAnswer); got != 0 {
		t.Errorf("B sent %d call answers, want 0", got)
	}
	if got := r.count("B", domain.EventRenegotiationOffer); got != 1 {
		t.Errorf("B sent %d renegotiation offers, want 1", got)
	}
	if got := r.count("A", domain.EventRenegotiationOffer); got != 0 {
		t.Errorf("A sent %d renegotiation offers, want 0", got)
	}
}
