package chatsync

import (
	"fmt"
	"sync"
)

// ReactionStore aggregates emoji reactions per message. After every mutation
// each entry satisfies Count == len(Users) and Me == (local user in Users),
// and no entry has zero users.
type ReactionStore struct {
	actions *Actions

	mu        sync.Mutex
	byMessage map[string][]Reaction
	notify    notifier
}

// NewReactionStore creates an empty store that submits through actions.
func NewReactionStore(actions *Actions) *ReactionStore {
	return &ReactionStore{actions: actions, byMessage: make(map[string][]Reaction)}
}

// Add reacts with emoji as the local user. The change is applied at once and
// rolled back if the command is rejected locally.
func (s *ReactionStore) Add(messageID, emoji string) error {
	return s.local(messageID, emoji, true)
}

// Remove withdraws the local user's emoji reaction.
func (s *ReactionStore) Remove(messageID, emoji string) error {
	return s.local(messageID, emoji, false)
}

// Toggle adds the reaction when the local user has not reacted with emoji,
// and removes it otherwise. It reports whether the reaction was added.
func (s *ReactionStore) Toggle(messageID, emoji string) (bool, error) {
	add := !s.has(messageID, emoji, s.actions.UserID())
	return add, s.local(messageID, emoji, add)
}

func (s *ReactionStore) local(messageID, emoji string, add bool) error {
	userID := s.actions.UserID()
	if userID == "" {
		return ErrNoLocalUser
	}
	changed := s.apply(messageID, emoji, userID, add)

	var err error
	if add {
		_, err = s.actions.AddReaction(messageID, emoji)
	} else {
		_, err = s.actions.RemoveReaction(messageID, emoji)
	}
	if err != nil {
		if changed {
			s.apply(messageID, emoji, userID, !add)
		}
		return fmt.Errorf("reaction %s: %w", emoji, err)
	}
	return nil
}

// ApplyRemote applies a reaction:add (add=true) or reaction:remove event.
// Local and remote changes share the same merge.
func (s *ReactionStore) ApplyRemote(p ReactionPayload, add bool) {
	s.apply(p.MessageID, p.Emoji, p.UserID, add)
}

// Set replaces the message's reactions, recomputing counts and the local
// flag from the user lists.
func (s *ReactionStore) Set(messageID string, reactions []Reaction) {
	me := s.actions.UserID()
	var next []Reaction
	for _, r := range reactions {
		users := dedupe(r.Users)
		if len(users) == 0 {
			continue
		}
		next = append(next, Reaction{
			Emoji: r.Emoji,
			Count: len(users),
			Users: users,
			Me:    me != "" && contains(users, me),
		})
	}

	s.mu.Lock()
	if len(next) == 0 {
		delete(s.byMessage, messageID)
	} else {
		s.byMessage[messageID] = next
	}
	s.mu.Unlock()
	s.notify.bump()
}

// Clear drops every reaction on a message.
func (s *ReactionStore) Clear(messageID string) {
	s.mu.Lock()
	delete(s.byMessage, messageID)
	s.mu.Unlock()
	s.notify.bump()
}

// Get returns a copy of the message's reactions.
func (s *ReactionStore) Get(messageID string) []Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byMessage[messageID]
	out := make([]Reaction, len(list))
	for i, r := range list {
		r.Users = append([]string(nil), r.Users...)
		out[i] = r
	}
	return out
}

// Watch returns a channel that receives the version after each change, and
// a func that stops the notifications.
func (s *ReactionStore) Watch() (<-chan uint64, func()) {
	return s.notify.watch()
}

// Bind subscribes the store to reaction events on c.
func (s *ReactionStore) Bind(c *RealtimeClient) (unbind func()) {
	subs := []*Subscription{
		c.OnReactionAdd(func(p ReactionPayload) { s.ApplyRemote(p, true) }),
		c.OnReactionRemove(func(p ReactionPayload) { s.ApplyRemote(p, false) }),
	}
	return func() { unsubscribeAll(subs) }
}

func (s *ReactionStore) has(messageID, emoji, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byMessage[messageID] {
		if r.Emoji == emoji {
			return contains(r.Users, userID)
		}
	}
	return false
}

// apply merges one user's reaction change and reports whether anything
// changed. The message's slice is replaced, never edited in place.
func (s *ReactionStore) apply(messageID, emoji, userID string, add bool) bool {
	if messageID == "" || emoji == "" || userID == "" {
		return false
	}
	me := s.actions.UserID()

	s.mu.Lock()
	next, changed := mergeReaction(s.byMessage[messageID], emoji, userID, me, add)
	if changed {
		if len(next) == 0 {
			delete(s.byMessage, messageID)
		} else {
			s.byMessage[messageID] = next
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify.bump()
	}
	return changed
}

func mergeReaction(list []Reaction, emoji, userID, me string, add bool) ([]Reaction, bool) {
	idx := -1
	for i, r := range list {
		if r.Emoji == emoji {
			idx = i
			break
		}
	}

	next := make([]Reaction, len(list), len(list)+1)
	copy(next, list)

	switch {
	case add && idx < 0:
		next = append(next, Reaction{Emoji: emoji, Users: []string{userID}})
		idx = len(next) - 1
	case add:
		if contains(next[idx].Users, userID) {
			return list, false
		}
		next[idx].Users = append(append([]string(nil), next[idx].Users...), userID)
	case idx < 0 || !contains(next[idx].Users, userID):
		return list, false
	default:
		users := make([]string, 0, len(next[idx].Users)-1)
		for _, u := range next[idx].Users {
			if u != userID {
				users = append(users, u)
			}
		}
		if len(users) == 0 {
			return append(next[:idx], next[idx+1:]...), true
		}
		next[idx].Users = users
	}

	next[idx].Count = len(next[idx].Users)
	next[idx].Me = me != "" && contains(next[idx].Users, me)
	return next, true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
