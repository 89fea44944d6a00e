package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Wyydra/meet/internal/core/domain"
)

func TestForwardMapsKinds(t *testing.T) {
	tests := []struct {
		in   domain.EventKind
		want domain.EventKind
	}{
		{domain.EventCallOffer, domain.EventIncomingCall},
		{domain.EventCallAnswer, domain.EventCallAccepted},
		{domain.EventRenegotiationOffer, domain.EventRenegotiationNeeded},
		{domain.EventRenegotiationAnswer, domain.EventRenegotiationFinal},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			gw := &recordingGateway{}
			relay := NewRelayService(gw)
			payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

			err := relay.Forward(context.Background(), "a", domain.Envelope{
				Type:    tt.in,
				From:    "spoofed",
				To:      "b",
				Payload: payload,
			})
			if err != nil {
				t.Fatalf("forward: %v", err)
			}

			envs := gw.to("b")
			if len(envs) != 1 {
				t.Fatalf("expected exactly one delivery, got %d", len(envs))
			}
			got := envs[0]
			if got.Type != tt.want {
				t.Errorf("type = %s, want %s", got.Type, tt.want)
			}
			if got.From != "a" {
				t.Errorf("from = %q, want sender's live id", got.From)
			}
			if string(got.Payload) != string(payload) {
				t.Errorf("payload altered: %s", got.Payload)
			}
		})
	}
}

func TestForwardDropsUnreachable(t *testing.T) {
	gw := &recordingGateway{live: map[domain.ConnectionID]bool{"a": true}}
	relay := NewRelayService(gw)

	for _, to := range []domain.ConnectionID{"gone", ""} {
		err := relay.Forward(context.Background(), "a", domain.Envelope{Type: domain.EventCallAnswer, To: to})
		if err != nil {
			t.Errorf("to %q: expected silent drop, got %v", to, err)
		}
	}
	if len(gw.sent) != 0 {
		t.Errorf("expected no deliveries, got %d", len(gw.sent))
	}
}

func TestForwardRejectsUnknownKind(t *testing.T) {
	relay := NewRelayService(&recordingGateway{})
	err := relay.Forward(context.Background(), "a", domain.Envelope{Type: domain.EventRoomJoin, To: "b"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}
