package chatsync

import (
	"fmt"
	"sync"
	"time"
)

// TypingStore tracks who is composing in each channel. Entries are upserted
// by user id and never expire on their own; Sweep or StartSweeper evicts
// stale ones.
type TypingStore struct {
	clock       Clock
	localUserID string

	mu        sync.Mutex
	byChannel map[string][]TypingUser
	notify    notifier
}

// NewTypingStore creates an empty store. Events about localUserID are
// ignored by Bind.
func NewTypingStore(localUserID string, clock Clock) *TypingStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TypingStore{
		clock:       clock,
		localUserID: localUserID,
		byChannel:   make(map[string][]TypingUser),
	}
}

// Add upserts u with a fresh timestamp. A repeated Add moves the user to the
// end of the list.
func (s *TypingStore) Add(channelID string, u TypingUser) {
	u.Timestamp = s.clock.Now()
	s.mu.Lock()
	cur := s.byChannel[channelID]
	next := make([]TypingUser, 0, len(cur)+1)
	for _, t := range cur {
		if t.UserID != u.UserID {
			next = append(next, t)
		}
	}
	s.byChannel[channelID] = append(next, u)
	s.mu.Unlock()
	s.notify.bump()
}

// Remove deletes the user's entry and reports whether one existed.
func (s *TypingStore) Remove(channelID, userID string) bool {
	s.mu.Lock()
	cur := s.byChannel[channelID]
	next := make([]TypingUser, 0, len(cur))
	for _, t := range cur {
		if t.UserID != userID {
			next = append(next, t)
		}
	}
	removed := len(next) != len(cur)
	if len(next) == 0 {
		delete(s.byChannel, channelID)
	} else {
		s.byChannel[channelID] = next
	}
	s.mu.Unlock()
	if removed {
		s.notify.bump()
	}
	return removed
}

// Users returns a copy of the channel's typing users, oldest first.
func (s *TypingStore) Users(channelID string) []TypingUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TypingUser(nil), s.byChannel[channelID]...)
}

// Sweep removes users whose last keystroke is older than window and returns
// how many were removed.
func (s *TypingStore) Sweep(window time.Duration) int {
	cutoff := s.clock.Now().Add(-window)
	type key struct{ channel, user string }
	var stale []key
	s.mu.Lock()
	for ch, users := range s.byChannel {
		for _, u := range users {
			if u.Timestamp.Before(cutoff) {
				stale = append(stale, key{ch, u.UserID})
			}
		}
	}
	s.mu.Unlock()

	n := 0
	for _, k := range stale {
		if s.Remove(k.channel, k.user) {
			n++
		}
	}
	return n
}

// StartSweeper calls Sweep(window) every interval until stop is called.
func (s *TypingStore) StartSweeper(interval, window time.Duration) (stop func()) {
	var (
		mu      sync.Mutex
		timer   Timer
		stopped bool
	)
	var tick func()
	tick = func() {
		s.Sweep(window)
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			timer = s.clock.AfterFunc(interval, tick)
		}
	}
	mu.Lock()
	timer = s.clock.AfterFunc(interval, tick)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		timer.Stop()
	}
}

// Watch returns a channel that receives the version after each change, and
// a func that stops the notifications.
func (s *TypingStore) Watch() (<-chan uint64, func()) {
	return s.notify.watch()
}

// Bind subscribes the store to typing events on c. A new message from a user
// also ends their typing entry.
func (s *TypingStore) Bind(c *RealtimeClient) (unbind func()) {
	subs := []*Subscription{
		c.OnTypingStart(func(p TypingPayload) {
			if p.UserID == s.localUserID {
				return
			}
			s.Add(p.ChannelID, TypingUser{UserID: p.UserID, Username: p.Username, Avatar: p.Avatar})
		}),
		c.OnTypingStop(func(p TypingPayload) { s.Remove(p.ChannelID, p.UserID) }),
		c.OnMessageCreated(func(m Message) { s.Remove(m.ChannelID, m.AuthorID) }),
	}
	return func() { unsubscribeAll(subs) }
}

// TypingSummary renders the indicator line for a channel's typing users.
func TypingSummary(users []TypingUser) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", users[0].Username)
	case 2:
		return fmt.Sprintf("%s and %s are typing...", users[0].Username, users[1].Username)
	case 3:
		return fmt.Sprintf("%s, %s and %s are typing...", users[0].Username, users[1].Username, users[2].Username)
	}
	return "Several people are typing..."
}
