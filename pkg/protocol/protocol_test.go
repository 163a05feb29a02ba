package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestUnmarshal_InboundEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, msg Message)
	}{
		{
			name:  "identify-user/object",
			input: `{"type":"identify-user","data":{"userId":"u1"}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*IdentifyUser)
				if !ok || m.UserID != "u1" {
					t.Errorf("got %#v, want IdentifyUser{UserID: u1}", msg)
				}
			},
		},
		{
			name:  "identify-user/bare string",
			input: `{"type":"identify-user","data":"u2"}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*IdentifyUser)
				if !ok || m.UserID != "u2" {
					t.Errorf("got %#v, want IdentifyUser{UserID: u2}", msg)
				}
			},
		},
		{
			name:  "join-chat/bare string",
			input: `{"type":"join-chat","data":"r1"}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*JoinChat)
				if !ok || m.ConnectionID != "r1" {
					t.Errorf("got %#v, want JoinChat{ConnectionID: r1}", msg)
				}
			},
		},
		{
			name:  "initiate-call",
			input: `{"type":"initiate-call","data":{"connectionId":"r1","targetUserId":"u2","callerName":"Ann","callerAvatar":"a.png"}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*InitiateCall)
				if !ok {
					t.Fatalf("got %T, want *InitiateCall", msg)
				}
				want := InitiateCall{ConnectionID: "r1", TargetUserID: "u2", CallerName: "Ann", CallerAvatar: "a.png"}
				if *m != want {
					t.Errorf("got %+v, want %+v", *m, want)
				}
			},
		},
		{
			name:  "accept-call without caller id",
			input: `{"type":"accept-call","data":{"connectionId":"r1"}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*AcceptCall)
				if !ok || m.ConnectionID != "r1" || m.CallerID != "" {
					t.Errorf("got %#v", msg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := Unmarshal([]byte(tt.input))
			if err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestUnmarshal_MissingRoutingField(t *testing.T) {
	t.Parallel()

	inputs := []string{
		`{"type":"identify-user","data":{}}`,
		`{"type":"identify-user"}`,
		`{"type":"join-chat","data":""}`,
		`{"type":"send-message","data":{"content":"hi"}}`,
		`{"type":"initiate-call","data":{"connectionId":"r1"}}`,
		`{"type":"end-call","data":{}}`,
		`{"type":"webrtc-offer","data":{"offer":{"sdp":"v=0"}}}`,
	}

	for _, in := range inputs {
		_, err := Unmarshal([]byte(in))
		if !errors.Is(err, ErrMissingField) {
			t.Errorf("Unmarshal(%s) error = %v, want ErrMissingField", in, err)
		}
	}
}

func TestUnmarshal_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte(`{"type":"unknown-type","data":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown message type, got nil")
	}
	if !strings.Contains(err.Error(), "unknown message type") {
		t.Errorf("error = %q, want it to contain \"unknown message type\"", err.Error())
	}
}

func TestUnmarshal_MalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := Unmarshal([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
	if _, err := Unmarshal([]byte(`{"type":"initiate-call","data":{"connectionId":42}}`)); err == nil {
		t.Fatal("expected error for mistyped field, got nil")
	}
}

func TestRelayedPayload_ForwardedVerbatim(t *testing.T) {
	t.Parallel()

	in := `{"type":"send-message","data":{"connectionId":"r1","content":"hi","meta":{"n":[1,2,3]}}}`
	msg, err := Unmarshal([]byte(in))
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	sm, ok := msg.(*SendMessage)
	if !ok {
		t.Fatalf("got %T, want *SendMessage", msg)
	}
	if sm.ConnectionID != "r1" {
		t.Errorf("ConnectionID = %q, want r1", sm.ConnectionID)
	}

	out := &ReceiveMessage{ConnectionID: sm.ConnectionID}
	out.SetData(sm.Data())
	data, err := Marshal(out)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	want := `{"type":"receive-message","data":{"connectionId":"r1","content":"hi","meta":{"n":[1,2,3]}}}`
	if string(data) != want {
		t.Errorf("forwarded frame:\n  got  %s\n  want %s", data, want)
	}
}

func TestMarshal_TypedPayload(t *testing.T) {
	t.Parallel()

	data, err := Marshal(&CallFailed{Reason: ReasonOffline})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var f struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if f.Type != TypeCallFailed {
		t.Errorf("type = %q, want %q", f.Type, TypeCallFailed)
	}
	if f.Data["reason"] != ReasonOffline {
		t.Errorf("reason = %v, want %q", f.Data["reason"], ReasonOffline)
	}
	if _, ok := f.Data["connectionId"]; ok {
		t.Error("empty connectionId should be omitted")
	}
}

func TestICEServers_RoundTrip(t *testing.T) {
	t.Parallel()

	in := &ICEServers{Servers: []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "123:u1", Credential: "secret"},
	}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	msg, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	got, ok := msg.(*ICEServers)
	if !ok {
		t.Fatalf("got %T, want *ICEServers", msg)
	}
	if len(got.Servers) != 2 {
		t.Fatalf("len(Servers) = %d, want 2", len(got.Servers))
	}
	if got.Servers[1].Username != "123:u1" {
		t.Errorf("Username = %q, want %q", got.Servers[1].Username, "123:u1")
	}
	if got.Servers[1].Credential != "secret" {
		t.Errorf("Credential = %v, want %q", got.Servers[1].Credential, "secret")
	}
}
