// Package chatsync is the client-side realtime layer of a chat application.
//
// One RealtimeClient owns the socket to the chat server. Local actions go
// out through Actions and are applied optimistically to the stores; inbound
// events reconcile them.
//
// Example:
//
//	cfg, _ := chatsync.LoadConfig()
//	s := chatsync.NewSession(cfg)
//	defer s.Close()
//
//	if err := s.Start(ctx); err != nil {
//		log.Printf("offline, commands will be queued: %v", err)
//	}
//	s.Timeline.Submit(chatsync.Draft{ChannelID: "general", Content: "hi"})
//	s.Reactions.Toggle("m1", "👍")
//	s.Presence.SetLocal(chatsync.PresenceDND, nil)
package chatsync

import (
	"context"
	"sync"
)

// Session wires a RealtimeClient to the action facade and every store.
type Session struct {
	Conn      *RealtimeClient
	Actions   *Actions
	Timeline  *Timeline
	Presence  *PresenceStore
	Reactions *ReactionStore
	Typing    *TypingStore
	Idle      *IdleDetector

	mu        sync.Mutex
	unbind    []func()
	stopSweep func()
}

// NewSession builds the client and the stores and subscribes the stores to
// inbound events. Nothing touches the network until Start.
func NewSession(cfg *Config, opts ...ClientOption) *Session {
	conn := NewRealtimeClient(cfg, opts...)
	c := conn.config
	actions := NewActions(conn, c, conn.clock)
	presence := NewPresenceStore(actions, conn.clock)

	s := &Session{
		Conn:      conn,
		Actions:   actions,
		Timeline:  NewTimeline(actions, conn.clock, conn.log),
		Presence:  presence,
		Reactions: NewReactionStore(actions),
		Typing:    NewTypingStore(c.UserID, conn.clock),
		Idle:      NewIdleDetector(presence, c.IdleTimeout, conn.clock, conn.log),
	}
	s.unbind = []func(){
		s.Timeline.Bind(conn),
		s.Presence.Bind(conn),
		s.Reactions.Bind(conn),
		s.Typing.Bind(conn),
	}
	return s
}

// Start connects, arms the idle detector and starts evicting stale typing
// entries. A connect error is returned, but the reconnect policy keeps
// running and commands issued meanwhile are queued.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopSweep == nil {
		window := s.Conn.config.TypingWindow
		s.stopSweep = s.Typing.StartSweeper(window/2, window)
	}
	s.mu.Unlock()

	if s.Actions.UserID() != "" {
		s.Idle.Start()
	}
	return s.Conn.Connect(ctx)
}

// Close stops the timers, unsubscribes the stores and disconnects.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.stopSweep != nil {
		s.stopSweep()
		s.stopSweep = nil
	}
	unbind := s.unbind
	s.unbind = nil
	s.mu.Unlock()

	s.Idle.Stop()
	for _, f := range unbind {
		f()
	}
	return s.Conn.Disconnect()
}
