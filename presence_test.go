package chatsync

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestPresenceStore(t *testing.T) {
	t.Run("last write wins", func(t *testing.T) {
		actions, _, clock := newTestActions("me")
		s := NewPresenceStore(actions, clock)
		now := clock.Now()

		if !s.Apply(Presence{UserID: "u1", Status: PresenceOnline, UpdatedAt: now}) {
			t.Fatal("expected first record stored")
		}
		if s.Apply(Presence{UserID: "u1", Status: PresenceOffline, UpdatedAt: now.Add(-time.Second)}) {
			t.Error("stale record must be ignored")
		}
		if !s.Apply(Presence{UserID: "u1", Status: PresenceDND, UpdatedAt: now.Add(time.Second)}) {
			t.Error("newer record must be stored")
		}
		if p, _ := s.Get("u1"); p.Status != PresenceDND {
			t.Errorf("expected dnd, got %s", p.Status)
		}
	})

	t.Run("remote updates stamped on receipt", func(t *testing.T) {
		actions, _, clock := newTestActions("me")
		s := NewPresenceStore(actions, clock)
		s.ApplyRemote(PresenceUpdatePayload{UserID: "u1", Status: PresenceIdle})
		p, ok := s.Get("u1")
		if !ok || !p.UpdatedAt.Equal(clock.Now()) {
			t.Errorf("unexpected record %+v", p)
		}
	})

	t.Run("remove and snapshot", func(t *testing.T) {
		actions, _, clock := newTestActions("me")
		s := NewPresenceStore(actions, clock)
		s.ApplyRemote(PresenceUpdatePayload{UserID: "u1", Status: PresenceOnline})
		s.ApplyRemote(PresenceUpdatePayload{UserID: "u2", Status: PresenceOnline})
		s.Remove("u1")
		snap := s.Snapshot()
		if len(snap) != 1 || snap["u2"].Status != PresenceOnline {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("set local submits", func(t *testing.T) {
		actions, rs, clock := newTestActions("me")
		s := NewPresenceStore(actions, clock)
		busy := "in a meeting"
		if err := s.SetLocal(PresenceDND, &busy); err != nil {
			t.Fatalf("SetLocal: %v", err)
		}
		if s.Local() != PresenceDND {
			t.Errorf("expected local dnd, got %s", s.Local())
		}
		cmds := rs.ofType(CommandPresenceSet)
		if len(cmds) != 1 || cmds[0].Payload != (PresenceSetPayload{UserID: "me", Status: PresenceDND}) {
			t.Errorf("unexpected commands %+v", cmds)
		}
		if err := s.SetLocal("away", nil); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("expected ErrInvalidPayload, got %v", err)
		}
	})
}

func newTestIdle(t *testing.T) (*IdleDetector, *PresenceStore, *recordingSender, *fakeClock) {
	t.Helper()
	actions, rs, clock := newTestActions("me")
	p := NewPresenceStore(actions, clock)
	d := NewIdleDetector(p, 5*time.Minute, clock, discardLogger())
	t.Cleanup(d.Stop)
	return d, p, rs, clock
}

// interleaveClock runs a one-shot hook on the next Now call, which lets a
// test land a user action in the middle of a store update.
type interleaveClock struct {
	*fakeClock
	mu   sync.Mutex
	hook func()
}

func (c *interleaveClock) Now() time.Time {
	c.mu.Lock()
	hook := c.hook
	c.hook = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.fakeClock.Now()
}

func (c *interleaveClock) onNextNow(f func()) {
	c.mu.Lock()
	c.hook = f
	c.mu.Unlock()
}

func presenceSent(rs *recordingSender) []PresenceStatus {
	var out []PresenceStatus
	for _, c := range rs.ofType(CommandPresenceSet) {
		out = append(out, c.Payload.(PresenceSetPayload).Status)
	}
	return out
}

func TestIdleDetector(t *testing.T) {
	t.Run("online goes idle and back", func(t *testing.T) {
		d, p, rs, clock := newTestIdle(t)
		_ = p.SetLocal(PresenceOnline, nil)
		d.Start()

		clock.Advance(4 * time.Minute)
		d.Activity()
		clock.Advance(4 * time.Minute)
		if p.Local() != PresenceOnline {
			t.Fatalf("activity must reset the timer, got %s", p.Local())
		}
		clock.Advance(time.Minute)
		if p.Local() != PresenceIdle {
			t.Fatalf("expected idle, got %s", p.Local())
		}

		d.Activity()
		if p.Local() != PresenceOnline {
			t.Fatalf("expected online after activity, got %s", p.Local())
		}
		var statuses []PresenceStatus
		for _, c := range rs.ofType(CommandPresenceSet) {
			statuses = append(statuses, c.Payload.(PresenceSetPayload).Status)
		}
		want := []PresenceStatus{PresenceOnline, PresenceIdle, PresenceOnline}
		if len(statuses) != len(want) {
			t.Fatalf("expected %v, got %v", want, statuses)
		}
		for i := range want {
			if statuses[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, statuses)
			}
		}
	})

	t.Run("dnd is never overridden", func(t *testing.T) {
		d, p, rs, clock := newTestIdle(t)
		_ = p.SetLocal(PresenceDND, nil)
		before := len(rs.commands())
		d.Start()

		clock.Advance(10 * time.Minute)
		d.Activity()
		if p.Local() != PresenceDND {
			t.Errorf("expected dnd, got %s", p.Local())
		}
		if n := len(rs.commands()) - before; n != 0 {
			t.Errorf("expected no presence update, got %d", n)
		}
	})

	t.Run("dnd set during the idle transition wins", func(t *testing.T) {
		actions, rs, base := newTestActions("me")
		clock := &interleaveClock{fakeClock: base}
		p := NewPresenceStore(actions, clock)
		d := NewIdleDetector(p, 5*time.Minute, clock, discardLogger())
		t.Cleanup(d.Stop)

		_ = p.SetLocal(PresenceOnline, nil)
		d.Start()
		clock.onNextNow(func() { _ = p.SetLocal(PresenceDND, nil) })
		clock.Advance(5 * time.Minute)

		if p.Local() != PresenceDND {
			t.Fatalf("explicit dnd overridden: local=%s", p.Local())
		}
		if got, want := presenceSent(rs), []PresenceStatus{PresenceOnline, PresenceDND}; !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("dnd set during the wake-up transition wins", func(t *testing.T) {
		actions, rs, base := newTestActions("me")
		clock := &interleaveClock{fakeClock: base}
		p := NewPresenceStore(actions, clock)
		d := NewIdleDetector(p, 5*time.Minute, clock, discardLogger())
		t.Cleanup(d.Stop)

		_ = p.SetLocal(PresenceOnline, nil)
		d.Start()
		clock.Advance(5 * time.Minute)
		if p.Local() != PresenceIdle {
			t.Fatalf("expected idle, got %s", p.Local())
		}

		clock.onNextNow(func() { _ = p.SetLocal(PresenceDND, nil) })
		d.Activity()

		if p.Local() != PresenceDND {
			t.Fatalf("explicit dnd overridden: local=%s", p.Local())
		}
		if got, want := presenceSent(rs), []PresenceStatus{PresenceOnline, PresenceIdle, PresenceDND}; !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("idle keeps the custom status", func(t *testing.T) {
		d, p, _, clock := newTestIdle(t)
		custom := "in a meeting"
		_ = p.SetLocal(PresenceOnline, &custom)
		d.Start()
		clock.Advance(5 * time.Minute)

		got, _ := p.Get("me")
		if got.Status != PresenceIdle || got.CustomStatus == nil || *got.CustomStatus != custom {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("offline is never overridden", func(t *testing.T) {
		d, p, _, clock := newTestIdle(t)
		_ = p.SetLocal(PresenceOffline, nil)
		d.Start()
		clock.Advance(10 * time.Minute)
		if p.Local() != PresenceOffline {
			t.Errorf("expected offline, got %s", p.Local())
		}
	})

	t.Run("stop cancels timer", func(t *testing.T) {
		d, p, _, clock := newTestIdle(t)
		_ = p.SetLocal(PresenceOnline, nil)
		d.Start()
		d.Stop()
		clock.Advance(10 * time.Minute)
		if p.Local() != PresenceOnline {
			t.Errorf("stopped detector changed status to %s", p.Local())
		}
		d.Activity()
		if clock.Pending() != 0 {
			t.Error("activity after stop must not arm a timer")
		}
	})

	t.Run("keeps custom status", func(t *testing.T) {
		d, p, _, clock := newTestIdle(t)
		lunch := "lunch"
		_ = p.SetLocal(PresenceOnline, &lunch)
		d.Start()
		clock.Advance(5 * time.Minute)
		got, _ := p.Get("me")
		if got.Status != PresenceIdle || got.CustomStatus == nil || *got.CustomStatus != "lunch" {
			t.Errorf("unexpected record %+v", got)
		}
	})
}
