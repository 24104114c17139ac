package chatsync

import (
	"fmt"
	"sync"
)

// PresenceStore keeps one presence record per known user, last write wins by
// UpdatedAt.
type PresenceStore struct {
	actions *Actions
	clock   Clock

	mu      sync.Mutex
	records map[string]Presence
	notify  notifier
}

// NewPresenceStore creates an empty store. SetLocal submits through actions.
func NewPresenceStore(actions *Actions, clock Clock) *PresenceStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PresenceStore{
		actions: actions,
		clock:   clock,
		records: make(map[string]Presence),
	}
}

// Apply stores p unless a newer record for the same user is already known.
// It reports whether p was stored.
func (s *PresenceStore) Apply(p Presence) bool {
	s.mu.Lock()
	if cur, ok := s.records[p.UserID]; ok && p.UpdatedAt.Before(cur.UpdatedAt) {
		s.mu.Unlock()
		return false
	}
	s.records[p.UserID] = clonePresence(p)
	s.mu.Unlock()
	s.notify.bump()
	return true
}

// ApplyRemote applies a presence:update event, stamping it with the receipt
// time when the server did not.
func (s *PresenceStore) ApplyRemote(p PresenceUpdatePayload) bool {
	updated := s.clock.Now()
	if p.UpdatedAt != nil {
		updated = *p.UpdatedAt
	}
	return s.Apply(Presence{
		UserID:       p.UserID,
		Status:       p.Status,
		CustomStatus: p.CustomStatus,
		UpdatedAt:    updated,
	})
}

// Remove forgets a user.
func (s *PresenceStore) Remove(userID string) {
	s.mu.Lock()
	_, ok := s.records[userID]
	delete(s.records, userID)
	s.mu.Unlock()
	if ok {
		s.notify.bump()
	}
}

// Get returns the record for userID.
func (s *PresenceStore) Get(userID string) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[userID]
	if !ok {
		return Presence{}, false
	}
	return clonePresence(p), true
}

// Snapshot returns a copy of every record keyed by user id.
func (s *PresenceStore) Snapshot() map[string]Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Presence, len(s.records))
	for id, p := range s.records {
		out[id] = clonePresence(p)
	}
	return out
}

// Local returns the local user's status, or "" when unknown.
func (s *PresenceStore) Local() PresenceStatus {
	p, _ := s.Get(s.actions.UserID())
	return p.Status
}

// SetLocal records an explicit status change by the local user and submits
// presence:set.
func (s *PresenceStore) SetLocal(status PresenceStatus, customStatus *string) error {
	userID := s.actions.UserID()
	if userID == "" {
		return ErrNoLocalUser
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown presence status %q", ErrInvalidPayload, status)
	}
	s.Apply(Presence{
		UserID:       userID,
		Status:       status,
		CustomStatus: customStatus,
		UpdatedAt:    s.clock.Now(),
	})
	if _, err := s.actions.SetPresence(status); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// transitionLocal moves the local user from one status to another in a single
// step, keeping the custom status. Nothing is stored or sent unless the local
// status is exactly from.
func (s *PresenceStore) transitionLocal(from, to PresenceStatus) (bool, error) {
	userID := s.actions.UserID()
	if userID == "" {
		return false, nil
	}
	now := s.clock.Now()

	s.mu.Lock()
	cur, ok := s.records[userID]
	if !ok || cur.Status != from {
		s.mu.Unlock()
		return false, nil
	}
	next := clonePresence(cur)
	next.Status = to
	if now.After(next.UpdatedAt) {
		next.UpdatedAt = now
	}
	s.records[userID] = next
	s.mu.Unlock()
	s.notify.bump()

	if _, err := s.actions.SetPresence(to); err != nil {
		return true, fmt.Errorf("set presence: %w", err)
	}
	return true, nil
}

// Watch returns a channel that receives the version after each change, and
// a func that stops the notifications.
func (s *PresenceStore) Watch() (<-chan uint64, func()) {
	return s.notify.watch()
}

// Bind subscribes the store to presence:update on c.
func (s *PresenceStore) Bind(c *RealtimeClient) (unbind func()) {
	sub := c.OnPresenceUpdate(func(p PresenceUpdatePayload) { s.ApplyRemote(p) })
	return sub.Unsubscribe
}

func clonePresence(p Presence) Presence {
	if p.CustomStatus != nil {
		cs := *p.CustomStatus
		p.CustomStatus = &cs
	}
	return p
}
