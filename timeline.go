package chatsync

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ============================================================================
// Timeline
// ============================================================================

// Timeline is the visible message sequence. Local submissions appear at once
// as temp records and are reconciled in place when the server echoes them.
//
// Invariants: at most one record carries a given tempId, and a record's
// status only moves temp→normal or temp→failed.
type Timeline struct {
	actions *Actions
	clock   Clock
	log     *slog.Logger

	mu       sync.Mutex
	messages []Message
	notify   notifier
}

// NewTimeline creates an empty timeline that submits through actions.
func NewTimeline(actions *Actions, clock Clock, log *slog.Logger) *Timeline {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Timeline{actions: actions, clock: clock, log: log}
}

// Submit inserts a temp record and sends message:create. When the send is
// rejected locally the same record is marked failed and the error returned.
func (t *Timeline) Submit(d Draft) (Message, error) {
	if t.actions.UserID() == "" {
		return Message{}, ErrNoLocalUser
	}
	tempID := uuid.NewString()
	msg := Message{
		ID:          tempID,
		TempID:      tempID,
		ChannelID:   d.ChannelID,
		AuthorID:    t.actions.UserID(),
		Content:     d.Content,
		Attachments: append([]Attachment(nil), d.Attachments...),
		CreatedAt:   t.clock.Now(),
		Status:      StatusTemp,
	}

	t.mu.Lock()
	t.messages = append(t.messages, msg.clone())
	t.mu.Unlock()
	t.notify.bump()

	_, err := t.actions.SendMessage(MessageCreatePayload{
		ChannelID:   msg.ChannelID,
		Content:     msg.Content,
		AuthorID:    msg.AuthorID,
		TempID:      tempID,
		Attachments: msg.Attachments,
	})
	if err == nil {
		return msg, nil
	}

	t.log.Warn("chatsync: message submission failed", "temp_id", tempID, "err", err)
	t.mu.Lock()
	if i := t.indexByTemp(tempID); i >= 0 && t.messages[i].Status == StatusTemp {
		t.messages[i].Status = StatusFailed
	}
	t.mu.Unlock()
	t.notify.bump()
	msg.Status = StatusFailed
	return msg, fmt.Errorf("submit message: %w", err)
}

// Reconcile applies a message:created event.
func (t *Timeline) Reconcile(server Message) {
	server = server.clone()
	server.Status = StatusNormal

	t.mu.Lock()
	if server.TempID != "" {
		if i := t.indexByTemp(server.TempID); i >= 0 {
			if t.messages[i].Status == StatusTemp {
				t.messages[i] = server
				t.mu.Unlock()
				t.notify.bump()
				return
			}
			// A failed record keeps its tempId; the echo is kept apart from it.
			server.TempID = ""
		}
	}
	if t.indexByID(server.ID) >= 0 {
		t.mu.Unlock()
		return
	}
	t.messages = append(t.messages, server)
	t.mu.Unlock()
	t.notify.bump()
}

// ApplyEdit applies a message:update event. Unknown ids are ignored.
func (t *Timeline) ApplyEdit(p MessageUpdatePayload) {
	t.mu.Lock()
	i := t.indexByID(p.TargetID())
	if i < 0 {
		t.mu.Unlock()
		return
	}
	m := &t.messages[i]
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Attachments != nil {
		m.Attachments = append([]Attachment(nil), p.Attachments...)
	}
	editedAt := t.clock.Now()
	if p.EditedAt != nil {
		editedAt = *p.EditedAt
	}
	m.EditedAt = &editedAt
	t.mu.Unlock()
	t.notify.bump()
}

// ApplyDelete applies a message:delete event. Unknown ids are ignored.
func (t *Timeline) ApplyDelete(messageID string) {
	t.mu.Lock()
	i := t.indexByID(messageID)
	if i < 0 {
		t.mu.Unlock()
		return
	}
	t.messages = append(t.messages[:i:i], t.messages[i+1:]...)
	t.mu.Unlock()
	t.notify.bump()
}

// Edit sends an edit for a confirmed message and applies it locally.
func (t *Timeline) Edit(messageID, content string) error {
	if err := t.confirmed(messageID); err != nil {
		return err
	}
	if _, err := t.actions.EditMessage(messageID, content); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	t.ApplyEdit(MessageUpdatePayload{ID: messageID, Content: &content})
	return nil
}

// Delete sends a delete for a confirmed message and removes it locally.
func (t *Timeline) Delete(messageID string) error {
	if err := t.confirmed(messageID); err != nil {
		return err
	}
	if _, err := t.actions.DeleteMessage(messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	t.ApplyDelete(messageID)
	return nil
}

// Discard drops a failed record.
func (t *Timeline) Discard(tempID string) error {
	t.mu.Lock()
	i := t.indexByTemp(tempID)
	if i < 0 || t.messages[i].Status != StatusFailed {
		t.mu.Unlock()
		return fmt.Errorf("%w: no failed message %s", ErrNotFound, tempID)
	}
	t.messages = append(t.messages[:i:i], t.messages[i+1:]...)
	t.mu.Unlock()
	t.notify.bump()
	return nil
}

// Retry discards a failed record and submits its content again under a new
// tempId.
func (t *Timeline) Retry(tempID string) (Message, error) {
	t.mu.Lock()
	i := t.indexByTemp(tempID)
	if i < 0 || t.messages[i].Status != StatusFailed {
		t.mu.Unlock()
		return Message{}, fmt.Errorf("%w: no failed message %s", ErrNotFound, tempID)
	}
	failed := t.messages[i]
	t.messages = append(t.messages[:i:i], t.messages[i+1:]...)
	t.mu.Unlock()

	return t.Submit(Draft{
		ChannelID:   failed.ChannelID,
		Content:     failed.Content,
		Attachments: failed.Attachments,
	})
}

// Messages returns a copy of the channel's records in display order.
func (t *Timeline) Messages(channelID string) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Message
	for _, m := range t.messages {
		if m.ChannelID == channelID {
			out = append(out, m.clone())
		}
	}
	return out
}

// Get returns the record with the given id.
func (t *Timeline) Get(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexByID(id); i >= 0 {
		return t.messages[i].clone(), true
	}
	return Message{}, false
}

// Len returns the number of records across all channels.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Watch returns a channel that receives the version after each change, and
// a func that stops the notifications.
func (t *Timeline) Watch() (<-chan uint64, func()) {
	return t.notify.watch()
}

// Version increases with every change.
func (t *Timeline) Version() uint64 {
	return t.notify.current()
}

// Bind subscribes the timeline to message events on c.
func (t *Timeline) Bind(c *RealtimeClient) (unbind func()) {
	subs := []*Subscription{
		c.OnMessageCreated(t.Reconcile),
		c.OnMessageUpdate(t.ApplyEdit),
		c.OnMessageDelete(func(p MessageDeletePayload) { t.ApplyDelete(p.MessageID) }),
	}
	return func() { unsubscribeAll(subs) }
}

func (t *Timeline) confirmed(messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexByID(messageID)
	if i < 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	if t.messages[i].Status != StatusNormal {
		return fmt.Errorf("%w: message %s is not confirmed", ErrNotFound, messageID)
	}
	return nil
}

func (t *Timeline) indexByTemp(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i := range t.messages {
		if t.messages[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexByID(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func unsubscribeAll(subs []*Subscription) {
	for _, s := range subs {
		s.Unsubscribe()
	}
}
