package event

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeNewMessage(t *testing.T) {
	env := Envelope{
		Event: "new_message",
		Data:  json.RawMessage(`{"id":"m-100","threadId":"t1","senderId":"u2","text":"hi","clientId":"p1"}`),
	}
	evt, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	msg, ok := evt.(NewMessage)
	if !ok {
		t.Fatalf("variant type = %T, want NewMessage", evt)
	}
	if msg.ID != "m-100" || msg.ThreadID != "t1" || msg.SenderID != "u2" {
		t.Errorf("decoded = %+v", msg)
	}
	if msg.ClientID != "p1" {
		t.Errorf("ClientID = %q, want p1", msg.ClientID)
	}
}

func TestDecodeTyping(t *testing.T) {
	env := Envelope{
		Event: "typing",
		Data:  json.RawMessage(`{"threadId":"t1","userId":"u2","isTyping":true}`),
	}
	evt, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ty, ok := evt.(Typing)
	if !ok {
		t.Fatalf("variant type = %T, want Typing", evt)
	}
	if !ty.IsTyping || ty.UserID != "u2" {
		t.Errorf("decoded = %+v", ty)
	}
}

func TestDecodeIncomingCall(t *testing.T) {
	env := Envelope{
		Event: "incoming_call",
		Data:  json.RawMessage(`{"callId":"c1","callerId":"u9","isVideo":true}`),
	}
	evt, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	call, ok := evt.(IncomingCall)
	if !ok {
		t.Fatalf("variant type = %T, want IncomingCall", evt)
	}
	if call.CallID != "c1" || !call.IsVideo {
		t.Errorf("decoded = %+v", call)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(Envelope{Event: "vibe_capsule_posted"})
	var unknown *ErrUnknownKind
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want ErrUnknownKind", err)
	}
	if unknown.Name != "vibe_capsule_posted" {
		t.Errorf("Name = %q", unknown.Name)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode(Envelope{Event: "typing", Data: json.RawMessage(`{`)})
	if err == nil {
		t.Fatal("Decode() expected error for malformed JSON")
	}
}

func TestMessageReadIDsMergesShapes(t *testing.T) {
	tests := []struct {
		name string
		r    MessageRead
		want int
	}{
		{"single", MessageRead{MessageID: "m1"}, 1},
		{"multi", MessageRead{MessageIDs: []string{"m1", "m2"}}, 2},
		{"both", MessageRead{MessageID: "m3", MessageIDs: []string{"m1", "m2"}}, 3},
		{"empty", MessageRead{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.r.IDs()); got != tt.want {
				t.Errorf("len(IDs()) = %d, want %d", got, tt.want)
			}
		})
	}
}
