package chatsync

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sender is the part of RealtimeClient the action facade needs.
type Sender interface {
	Send(t EventType, payload any) (Delivery, error)
	SendPriority(t EventType, payload any) (Delivery, error)
}

// Actions turns user intents into outbound commands. Results describe the
// local outcome only (delivered, queued or rejected); the server's answer
// arrives later as an inbound event.
type Actions struct {
	conn     Sender
	userID   string
	clock    Clock
	throttle time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewActions creates the facade. A nil clock uses the wall clock.
func NewActions(conn Sender, cfg *Config, clock Clock) *Actions {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.defaults()
	if clock == nil {
		clock = SystemClock{}
	}
	return &Actions{
		conn:     conn,
		userID:   c.UserID,
		clock:    clock,
		throttle: c.TypingThrottle,
		limiters: make(map[string]*rate.Limiter),
	}
}

// UserID returns the local user the facade acts for.
func (a *Actions) UserID() string {
	return a.userID
}

// SendMessage submits message:create.
func (a *Actions) SendMessage(p MessageCreatePayload) (Delivery, error) {
	if p.ChannelID == "" {
		return Dropped, fmt.Errorf("%w: message without channel", ErrInvalidPayload)
	}
	if p.AuthorID == "" {
		p.AuthorID = a.userID
	}
	if p.Attachments == nil {
		p.Attachments = []Attachment{}
	}
	return a.conn.Send(CommandMessageCreate, p)
}

// EditMessage submits message:update with the new content.
func (a *Actions) EditMessage(messageID, content string) (Delivery, error) {
	if messageID == "" {
		return Dropped, fmt.Errorf("%w: edit without message id", ErrInvalidPayload)
	}
	return a.conn.Send(CommandMessageUpdate, MessageUpdatePayload{MessageID: messageID, Content: &content})
}

// DeleteMessage submits message:delete.
func (a *Actions) DeleteMessage(messageID string) (Delivery, error) {
	if messageID == "" {
		return Dropped, fmt.Errorf("%w: delete without message id", ErrInvalidPayload)
	}
	return a.conn.Send(CommandMessageDelete, MessageDeletePayload{MessageID: messageID})
}

// AddReaction submits reaction:add for the local user.
func (a *Actions) AddReaction(messageID, emoji string) (Delivery, error) {
	return a.reaction(CommandReactionAdd, messageID, emoji)
}

// RemoveReaction submits reaction:remove for the local user.
func (a *Actions) RemoveReaction(messageID, emoji string) (Delivery, error) {
	return a.reaction(CommandReactionRemove, messageID, emoji)
}

func (a *Actions) reaction(t EventType, messageID, emoji string) (Delivery, error) {
	if a.userID == "" {
		return Dropped, ErrNoLocalUser
	}
	if messageID == "" || emoji == "" {
		return Dropped, fmt.Errorf("%w: reaction needs message id and emoji", ErrInvalidPayload)
	}
	return a.conn.Send(t, ReactionPayload{MessageID: messageID, Emoji: emoji, UserID: a.userID})
}

// SetPresence submits presence:set for the local user.
func (a *Actions) SetPresence(status PresenceStatus) (Delivery, error) {
	if a.userID == "" {
		return Dropped, ErrNoLocalUser
	}
	if !status.Valid() {
		return Dropped, fmt.Errorf("%w: unknown presence status %q", ErrInvalidPayload, status)
	}
	return a.conn.Send(CommandPresenceSet, PresenceSetPayload{UserID: a.userID, Status: status})
}

// StartTyping submits typing:start, at most once per TypingThrottle per
// channel. A throttled call returns Dropped with a nil error.
func (a *Actions) StartTyping(channelID, username string, avatar *string) (Delivery, error) {
	if a.userID == "" {
		return Dropped, ErrNoLocalUser
	}
	if !a.limiter(channelID).AllowN(a.clock.Now(), 1) {
		return Dropped, nil
	}
	return a.conn.Send(CommandTypingStart, TypingPayload{
		ChannelID: channelID,
		UserID:    a.userID,
		Username:  username,
		Avatar:    avatar,
	})
}

// StopTyping submits typing:stop and resets the channel's throttle.
func (a *Actions) StopTyping(channelID string) (Delivery, error) {
	if a.userID == "" {
		return Dropped, ErrNoLocalUser
	}
	a.mu.Lock()
	delete(a.limiters, channelID)
	a.mu.Unlock()
	return a.conn.Send(CommandTypingStop, TypingPayload{ChannelID: channelID, UserID: a.userID})
}

func (a *Actions) limiter(channelID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(rate.Every(a.throttle), 1)
		a.limiters[channelID] = l
	}
	return l
}
