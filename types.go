package chatsync

import (
	"errors"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrClosed is returned when an operation races an intentional Disconnect.
	ErrClosed = errors.New("chatsync: connection closed")
	// ErrQueueFull is returned by Send when the outbound queue is at capacity.
	ErrQueueFull = errors.New("chatsync: outbound queue full")
	// ErrInvalidPayload is returned when a command payload cannot be serialized.
	ErrInvalidPayload = errors.New("chatsync: invalid payload")
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("chatsync: not found")
	// ErrNoLocalUser is returned by operations that need a local user id.
	ErrNoLocalUser = errors.New("chatsync: local user id is not set")
)

// ============================================================================
// Messages
// ============================================================================

// MessageStatus is the reconciliation state of a message record.
type MessageStatus string

const (
	StatusNormal MessageStatus = "normal"
	StatusTemp   MessageStatus = "temp"
	StatusFailed MessageStatus = "failed"
)

// Author is the public profile attached to a message.
type Author struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar,omitempty"`
}

// Attachment is a file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a chat message record as seen by the client.
type Message struct {
	ID          string        `json:"id"`
	TempID      string        `json:"tempId,omitempty"`
	ChannelID   string        `json:"channelId"`
	AuthorID    string        `json:"authorId,omitempty"`
	Author      *Author       `json:"author,omitempty"`
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	Status      MessageStatus `json:"status,omitempty"`
}

func (m Message) clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Author != nil {
		a := *m.Author
		m.Author = &a
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	return m
}

// Draft is a message the local user is about to send.
type Draft struct {
	ChannelID   string
	Content     string
	Attachments []Attachment
}

// ============================================================================
// Presence
// ============================================================================

// PresenceStatus is a user's availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceIdle    PresenceStatus = "idle"
	PresenceDND     PresenceStatus = "dnd"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceIdle, PresenceDND, PresenceOffline:
		return true
	}
	return false
}

// Presence is the last known status of one user.
type Presence struct {
	UserID       string         `json:"userId"`
	Status       PresenceStatus `json:"status"`
	CustomStatus *string        `json:"customStatus,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// ============================================================================
// Reactions
// ============================================================================

// Reaction aggregates one emoji on one message.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
	Me    bool     `json:"me"`
}

// ============================================================================
// Typing
// ============================================================================

// TypingUser is a user currently composing in a channel.
type TypingUser struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Avatar    *string   `json:"avatar,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
