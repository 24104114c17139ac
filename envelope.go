package chatsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Event Types
// ============================================================================

// EventType names an envelope on the wire or a local synthetic event.
type EventType string

// Inbound (server → client) event types.
const (
	EventConnectionReady EventType = "connection:ready"
	EventPong            EventType = "pong"
	EventMessageCreated  EventType = "message:created"
	EventMessageUpdate   EventType = "message:update"
	EventMessageDelete   EventType = "message:delete"
	EventReactionAdd     EventType = "reaction:add"
	EventReactionRemove  EventType = "reaction:remove"
	EventPresenceUpdate  EventType = "presence:update"
	EventTypingStart     EventType = "typing:start"
	EventTypingStop      EventType = "typing:stop"
)

// Outbound (client → server) command types. Update, delete, reaction and
// typing commands share their name with the inbound event.
const (
	CommandPing           EventType = "ping"
	CommandMessageCreate  EventType = "message:create"
	CommandMessageUpdate  EventType = EventMessageUpdate
	CommandMessageDelete  EventType = EventMessageDelete
	CommandReactionAdd    EventType = EventReactionAdd
	CommandReactionRemove EventType = EventReactionRemove
	CommandPresenceSet    EventType = "presence:set"
	CommandTypingStart    EventType = EventTypingStart
	CommandTypingStop     EventType = EventTypingStop
)

// Local synthetic events. They are never written to the wire.
const (
	EventReconnecting EventType = "connection:reconnecting"
	EventFailed       EventType = "connection:failed"
)

// wildcard is the registry key receiving every dispatched envelope.
const wildcard EventType = "*"

// ============================================================================
// Wire Format
// ============================================================================

// Envelope is the wire format for all inbound events.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a logical client-to-server action. The outbound queue stores
// commands, not bytes; they are serialized when written.
type Command struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ParseEnvelope decodes a raw frame. A frame without a type is malformed.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Encode serializes the command as a wire envelope.
func (c Command) Encode() ([]byte, error) {
	payload := c.Payload
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(Command{Type: c.Type, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, c.Type, err)
	}
	return data, nil
}

// ============================================================================
// Event Payload Types
// ============================================================================

// ReadyPayload is sent once the server has accepted the connection.
type ReadyPayload struct {
	ConnectionID string `json:"connectionId"`
}

// MessageCreatePayload is the body of an outbound message:create command.
type MessageCreatePayload struct {
	ChannelID   string       `json:"channelId"`
	Content     string       `json:"content"`
	AuthorID    string       `json:"authorId"`
	TempID      string       `json:"tempId"`
	Attachments []Attachment `json:"attachments"`
}

// MessageUpdatePayload carries an edit. Outbound edits set MessageID and
// Content; inbound edits identify the message by ID and may carry any field.
type MessageUpdatePayload struct {
	ID          string       `json:"id,omitempty"`
	MessageID   string       `json:"messageId,omitempty"`
	Content     *string      `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
}

// TargetID returns the id of the edited message, whichever key carried it.
func (p MessageUpdatePayload) TargetID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.MessageID
}

// MessageDeletePayload identifies a removed message.
type MessageDeletePayload struct {
	MessageID string `json:"messageId"`
}

// ReactionPayload is shared by reaction:add and reaction:remove.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// PresenceUpdatePayload is a remote presence change.
type PresenceUpdatePayload struct {
	UserID       string         `json:"userId"`
	Status       PresenceStatus `json:"status"`
	CustomStatus *string        `json:"customStatus,omitempty"`
	UpdatedAt    *time.Time     `json:"updatedAt,omitempty"`
}

// PresenceSetPayload is the body of an outbound presence:set command.
type PresenceSetPayload struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// TypingPayload is shared by typing:start and typing:stop.
type TypingPayload struct {
	ChannelID string  `json:"channelId"`
	UserID    string  `json:"userId"`
	Username  string  `json:"username,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
}

// ReconnectingPayload is emitted before each scheduled reconnect. On the
// wire delay is a whole number of milliseconds.
type ReconnectingPayload struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

type reconnectingWire struct {
	Attempt     int   `json:"attempt"`
	MaxAttempts int   `json:"maxAttempts"`
	DelayMS     int64 `json:"delay"`
}

func (p ReconnectingPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(reconnectingWire{
		Attempt:     p.Attempt,
		MaxAttempts: p.MaxAttempts,
		DelayMS:     p.Delay.Milliseconds(),
	})
}

func (p *ReconnectingPayload) UnmarshalJSON(data []byte) error {
	var w reconnectingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = ReconnectingPayload{
		Attempt:     w.Attempt,
		MaxAttempts: w.MaxAttempts,
		Delay:       time.Duration(w.DelayMS) * time.Millisecond,
	}
	return nil
}

// FailedPayload is emitted once automatic reconnection gives up.
type FailedPayload struct {
	Attempts int `json:"attempts"`
}

// ============================================================================
// Typed Events
// ============================================================================

// Event is the closed set of decoded events. Only types in this package
// implement it.
type Event interface {
	Type() EventType
	isEvent()
}

type (
	ReadyEvent          struct{ ReadyPayload }
	MessageCreatedEvent struct{ Message Message }
	MessageUpdateEvent  struct{ MessageUpdatePayload }
	MessageDeleteEvent  struct{ MessageDeletePayload }
	ReactionAddEvent    struct{ ReactionPayload }
	ReactionRemoveEvent struct{ ReactionPayload }
	PresenceUpdateEvent struct{ PresenceUpdatePayload }
	TypingStartEvent    struct{ TypingPayload }
	TypingStopEvent     struct{ TypingPayload }
	ReconnectingEvent   struct{ ReconnectingPayload }
	FailedEvent         struct{ FailedPayload }
)

func (ReadyEvent) Type() EventType          { return EventConnectionReady }
func (MessageCreatedEvent) Type() EventType { return EventMessageCreated }
func (MessageUpdateEvent) Type() EventType  { return EventMessageUpdate }
func (MessageDeleteEvent) Type() EventType  { return EventMessageDelete }
func (ReactionAddEvent) Type() EventType    { return EventReactionAdd }
func (ReactionRemoveEvent) Type() EventType { return EventReactionRemove }
func (PresenceUpdateEvent) Type() EventType { return EventPresenceUpdate }
func (TypingStartEvent) Type() EventType    { return EventTypingStart }
func (TypingStopEvent) Type() EventType     { return EventTypingStop }
func (ReconnectingEvent) Type() EventType   { return EventReconnecting }
func (FailedEvent) Type() EventType         { return EventFailed }

func (ReadyEvent) isEvent()          {}
func (MessageCreatedEvent) isEvent() {}
func (MessageUpdateEvent) isEvent()  {}
func (MessageDeleteEvent) isEvent()  {}
func (ReactionAddEvent) isEvent()    {}
func (ReactionRemoveEvent) isEvent() {}
func (PresenceUpdateEvent) isEvent() {}
func (TypingStartEvent) isEvent()    {}
func (TypingStopEvent) isEvent()     {}
func (ReconnectingEvent) isEvent()   {}
func (FailedEvent) isEvent()         {}

// DecodeEvent converts an envelope into its typed variant.
func DecodeEvent(env Envelope) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventConnectionReady:
		var e ReadyEvent
		err = decodePayload(env, &e.ReadyPayload)
		ev = e
	case EventMessageCreated:
		var e MessageCreatedEvent
		err = decodePayload(env, &e.Message)
		if err == nil && e.Message.ID == "" {
			err = fmt.Errorf("decode %s: missing id", env.Type)
		}
		ev = e
	case EventMessageUpdate:
		var e MessageUpdateEvent
		err = decodePayload(env, &e.MessageUpdatePayload)
		if err == nil && e.TargetID() == "" {
			err = fmt.Errorf("decode %s: missing id", env.Type)
		}
		ev = e
	case EventMessageDelete:
		var e MessageDeleteEvent
		err = decodePayload(env, &e.MessageDeletePayload)
		ev = e
	case EventReactionAdd:
		var e ReactionAddEvent
		err = decodePayload(env, &e.ReactionPayload)
		ev = e
	case EventReactionRemove:
		var e ReactionRemoveEvent
		err = decodePayload(env, &e.ReactionPayload)
		ev = e
	case EventPresenceUpdate:
		var e PresenceUpdateEvent
		err = decodePayload(env, &e.PresenceUpdatePayload)
		if err == nil && !e.Status.Valid() {
			err = fmt.Errorf("decode %s: unknown status %q", env.Type, e.Status)
		}
		ev = e
	case EventTypingStart:
		var e TypingStartEvent
		err = decodePayload(env, &e.TypingPayload)
		ev = e
	case EventTypingStop:
		var e TypingStopEvent
		err = decodePayload(env, &e.TypingPayload)
		ev = e
	case EventReconnecting:
		var e ReconnectingEvent
		err = decodePayload(env, &e.ReconnectingPayload)
		ev = e
	case EventFailed:
		var e FailedEvent
		err = decodePayload(env, &e.FailedPayload)
		ev = e
	default:
		return nil, fmt.Errorf("decode envelope: unknown type %q", env.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("decode %s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}

func mustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
