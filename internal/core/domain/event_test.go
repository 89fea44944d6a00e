package domain

import (
	"encoding/json"
	"testing"
)

func TestParseJoinRequest(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    JoinRequest
		wantErr bool
	}{
		{"valid", `{"identity":"alice@x","room":"r1"}`, JoinRequest{"alice@x", "r1"}, false},
		{"extra fields", `{"identity":"a","room":"r","type":"interview"}`, JoinRequest{"a", "r"}, false},
		{"trimmed", `{"identity":"  a ","room":" r"}`, JoinRequest{"a", "r"}, false},
		{"empty", ``, JoinRequest{}, true},
		{"garbage", `[1,2]`, JoinRequest{}, true},
		{"no identity", `{"room":"r"}`, JoinRequest{}, true},
		{"no room", `{"identity":"a"}`, JoinRequest{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJoinRequest(json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewErrorEnvelope(t *testing.T) {
	env := NewErrorEnvelope(ErrUnreachable)
	if env.Type != EventError {
		t.Fatalf("type = %s", env.Type)
	}
	var p ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Message != ErrUnreachable.Error() {
		t.Errorf("message = %q", p.Message)
	}
}
