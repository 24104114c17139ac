package chatsync

import (
	"errors"
	"reflect"
	"testing"
)

func checkReactionInvariants(t *testing.T, s *ReactionStore, messageID, me string) {
	t.Helper()
	for _, r := range s.Get(messageID) {
		if r.Count != len(r.Users) {
			t.Errorf("%s: count %d != %d users", r.Emoji, r.Count, len(r.Users))
		}
		if r.Count == 0 {
			t.Errorf("%s: zero-count entry kept", r.Emoji)
		}
		if r.Me != contains(r.Users, me) {
			t.Errorf("%s: me=%v with users %v", r.Emoji, r.Me, r.Users)
		}
	}
}

func TestReactionStore(t *testing.T) {
	t.Run("toggle adds then removes", func(t *testing.T) {
		actions, rs, _ := newTestActions("me")
		s := NewReactionStore(actions)

		added, err := s.Toggle("m1", "👍")
		if err != nil || !added {
			t.Fatalf("expected add, got %v %v", added, err)
		}
		got := s.Get("m1")
		if len(got) != 1 || got[0].Count != 1 || !got[0].Me {
			t.Fatalf("unexpected reactions %+v", got)
		}
		checkReactionInvariants(t, s, "m1", "me")

		added, err = s.Toggle("m1", "👍")
		if err != nil || added {
			t.Fatalf("expected remove, got %v %v", added, err)
		}
		if len(s.Get("m1")) != 0 {
			t.Errorf("expected entry dropped, got %+v", s.Get("m1"))
		}

		var types []EventType
		for _, c := range rs.commands() {
			types = append(types, c.Type)
		}
		if want := []EventType{CommandReactionAdd, CommandReactionRemove}; !reflect.DeepEqual(types, want) {
			t.Errorf("expected %v, got %v", want, types)
		}
	})

	t.Run("remote events share the merge", func(t *testing.T) {
		actions, _, _ := newTestActions("me")
		s := NewReactionStore(actions)
		s.ApplyRemote(ReactionPayload{MessageID: "m1", Emoji: "🔥", UserID: "u1"}, true)
		s.ApplyRemote(ReactionPayload{MessageID: "m1", Emoji: "🔥", UserID: "u1"}, true)
		_ = s.Add("m1", "🔥")
		s.ApplyRemote(ReactionPayload{MessageID: "m1", Emoji: "🔥", UserID: "me"}, true)
		checkReactionInvariants(t, s, "m1", "me")

		got := s.Get("m1")
		if len(got) != 1 || got[0].Count != 2 || !got[0].Me {
			t.Fatalf("unexpected reactions %+v", got)
		}

		s.ApplyRemote(ReactionPayload{MessageID: "m1", Emoji: "🔥", UserID: "u2"}, false)
		s.ApplyRemote(ReactionPayload{MessageID: "m1", Emoji: "🔥", UserID: "me"}, false)
		got = s.Get("m1")
		if len(got) != 1 || got[0].Count != 1 || got[0].Me {
			t.Fatalf("unexpected reactions after removes %+v", got)
		}
		checkReactionInvariants(t, s, "m1", "me")
	})

	t.Run("invariants over a mixed sequence", func(t *testing.T) {
		actions, _, _ := newTestActions("me")
		s := NewReactionStore(actions)
		ops := []struct {
			user, emoji string
			add         bool
		}{
			{"u1", "a", true}, {"me", "a", true}, {"u2", "b", true}, {"me", "b", true},
			{"u1", "a", false}, {"me", "a", false}, {"u2", "b", false}, {"u3", "c", false},
			{"me", "b", false}, {"u3", "c", true}, {"me", "c", true}, {"me", "c", true},
		}
		for _, op := range ops {
			if op.user == "me" {
				_, _ = s.Toggle("m1", op.emoji)
			} else {
				s.ApplyRemote(ReactionPayload{MessageID: "m1", Emoji: op.emoji, UserID: op.user}, op.add)
			}
			checkReactionInvariants(t, s, "m1", "me")
		}
	})

	t.Run("local failure rolls back", func(t *testing.T) {
		actions, rs, _ := newTestActions("me")
		s := NewReactionStore(actions)
		rs.setErr(ErrQueueFull)
		if err := s.Add("m1", "👍"); !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
		if len(s.Get("m1")) != 0 {
			t.Errorf("expected rollback, got %+v", s.Get("m1"))
		}
	})

	t.Run("set recomputes and clear drops", func(t *testing.T) {
		actions, _, _ := newTestActions("me")
		s := NewReactionStore(actions)
		s.Set("m1", []Reaction{
			{Emoji: "a", Count: 99, Users: []string{"u1", "me", "u1"}},
			{Emoji: "b", Count: 3, Users: nil},
		})
		got := s.Get("m1")
		if len(got) != 1 || got[0].Count != 2 || !got[0].Me {
			t.Fatalf("unexpected reactions %+v", got)
		}
		s.Clear("m1")
		if len(s.Get("m1")) != 0 {
			t.Error("expected cleared")
		}
	})

	t.Run("requires local user", func(t *testing.T) {
		actions, _, _ := newTestActions("")
		s := NewReactionStore(actions)
		if err := s.Add("m1", "a"); !errors.Is(err, ErrNoLocalUser) {
			t.Errorf("expected ErrNoLocalUser, got %v", err)
		}
	})
}
