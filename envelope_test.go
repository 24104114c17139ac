package chatsync

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"type":"message:delete","payload":{"messageId":"m1"}}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if env.Type != EventMessageDelete {
			t.Errorf("expected message:delete, got %s", env.Type)
		}
		if string(env.Payload) != `{"messageId":"m1"}` {
			t.Errorf("unexpected payload %s", env.Payload)
		}
	})

	for name, raw := range map[string]string{
		"not json":     `{"type":`,
		"missing type": `{"payload":{}}`,
		"array":        `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseEnvelope([]byte(raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCommandEncode(t *testing.T) {
	t.Run("nil payload becomes empty object", func(t *testing.T) {
		data, err := Command{Type: CommandPing}.Encode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"type":"ping","payload":{}}` {
			t.Errorf("unexpected frame %s", data)
		}
	})

	t.Run("message create wire shape", func(t *testing.T) {
		data, err := Command{Type: CommandMessageCreate, Payload: MessageCreatePayload{
			ChannelID:   "general",
			Content:     "hi",
			AuthorID:    "me",
			TempID:      "t1",
			Attachments: []Attachment{},
		}}.Encode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := `{"type":"message:create","payload":{"channelId":"general","content":"hi","authorId":"me","tempId":"t1","attachments":[]}}`
		if string(data) != want {
			t.Errorf("expected %s, got %s", want, data)
		}
	})

	t.Run("unserializable payload", func(t *testing.T) {
		_, err := Command{Type: CommandPing, Payload: make(chan int)}.Encode()
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("expected ErrInvalidPayload, got %v", err)
		}
	})
}

func TestDecodeEvent(t *testing.T) {
	env := func(typ EventType, payload string) Envelope {
		return Envelope{Type: typ, Payload: json.RawMessage(payload)}
	}

	t.Run("message created", func(t *testing.T) {
		ev, err := DecodeEvent(env(EventMessageCreated, `{"id":"m1","tempId":"t1","channelId":"general","content":"hi"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m, ok := ev.(MessageCreatedEvent)
		if !ok {
			t.Fatalf("expected MessageCreatedEvent, got %T", ev)
		}
		if m.Message.ID != "m1" || m.Message.TempID != "t1" {
			t.Errorf("unexpected message %+v", m.Message)
		}
		if ev.Type() != EventMessageCreated {
			t.Errorf("unexpected type %s", ev.Type())
		}
	})

	t.Run("message update by either key", func(t *testing.T) {
		for _, payload := range []string{`{"id":"m1","content":"x"}`, `{"messageId":"m1","content":"x"}`} {
			ev, err := DecodeEvent(env(EventMessageUpdate, payload))
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", payload, err)
			}
			u := ev.(MessageUpdateEvent)
			if u.TargetID() != "m1" || u.Content == nil || *u.Content != "x" {
				t.Errorf("%s: unexpected update %+v", payload, u)
			}
		}
	})

	t.Run("presence", func(t *testing.T) {
		ev, err := DecodeEvent(env(EventPresenceUpdate, `{"userId":"u1","status":"dnd","customStatus":"busy"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p := ev.(PresenceUpdateEvent)
		if p.Status != PresenceDND || p.CustomStatus == nil || *p.CustomStatus != "busy" {
			t.Errorf("unexpected presence %+v", p)
		}
	})

	t.Run("synthetic", func(t *testing.T) {
		ev, err := DecodeEvent(Envelope{Type: EventFailed, Payload: mustPayload(FailedPayload{Attempts: 10})})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.(FailedEvent).Attempts != 10 {
			t.Errorf("unexpected %+v", ev)
		}
	})

	errCases := []struct {
		name string
		env  Envelope
	}{
		{"unknown type", env("channel:created", `{}`)},
		{"missing payload", Envelope{Type: EventMessageDelete}},
		{"null payload", env(EventReactionAdd, `null`)},
		{"message without id", env(EventMessageCreated, `{"content":"hi"}`)},
		{"update without id", env(EventMessageUpdate, `{"content":"hi"}`)},
		{"unknown presence", env(EventPresenceUpdate, `{"userId":"u1","status":"away"}`)},
		{"wrong shape", env(EventTypingStart, `"text"`)},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeEvent(tc.env); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReconnectingDelayInMilliseconds(t *testing.T) {
	data, err := json.Marshal(ReconnectingPayload{Attempt: 2, MaxAttempts: 10, Delay: 6 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"attempt":2,"maxAttempts":10,"delay":6000}` {
		t.Errorf("unexpected wire form %s", data)
	}

	ev, err := DecodeEvent(Envelope{Type: EventReconnecting, Payload: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := ev.(ReconnectingEvent)
	if !ok {
		t.Fatalf("expected ReconnectingEvent, got %T", ev)
	}
	if r.Attempt != 2 || r.MaxAttempts != 10 || r.Delay != 6*time.Second {
		t.Errorf("unexpected payload %+v", r.ReconnectingPayload)
	}
}
