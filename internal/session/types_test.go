package session

import (
	"fmt"
	"testing"
)

func TestNewCopiesBaseTools(t *testing.T) {
	base := []string{"a", "b"}
	sess := New("s1", base)

	base[0] = "mutated"
	if sess.ActiveTools[0] != "a" {
		t.Errorf("ActiveTools[0] = %q, want %q (base slice must be copied)", sess.ActiveTools[0], "a")
	}
}

func TestToolSet(t *testing.T) {
	sess := New("s1", []string{"a"})

	t.Run("add skips duplicates", func(t *testing.T) {
		sess.AddTools("b", "a", "b")
		want := []string{"a", "b"}
		if len(sess.ActiveTools) != len(want) {
			t.Fatalf("ActiveTools = %v, want %v", sess.ActiveTools, want)
		}
		for i, name := range want {
			if sess.ActiveTools[i] != name {
				t.Errorf("ActiveTools[%d] = %q, want %q", i, sess.ActiveTools[i], name)
			}
		}
	})

	t.Run("has tool", func(t *testing.T) {
		if !sess.HasTool("b") {
			t.Error("HasTool(b) = false, want true")
		}
		if sess.HasTool("missing") {
			t.Error("HasTool(missing) = true, want false")
		}
	})

	t.Run("reset restores base set", func(t *testing.T) {
		sess.ResetTools([]string{"a"})
		if len(sess.ActiveTools) != 1 || sess.ActiveTools[0] != "a" {
			t.Errorf("ActiveTools after reset = %v, want [a]", sess.ActiveTools)
		}
	})
}

func TestTruncateHistory(t *testing.T) {
	t.Run("under the window nothing is dropped", func(t *testing.T) {
		sess := New("s1", nil)
		for i := 0; i < MaxHistoryTurns; i++ {
			sess.AppendText(RoleUser, fmt.Sprintf("msg %d", i))
		}
		if got := len(sess.History); got != MaxHistoryTurns {
			t.Errorf("len(History) = %d, want %d", got, MaxHistoryTurns)
		}
	})

	t.Run("oldest turns are dropped first", func(t *testing.T) {
		sess := New("s1", nil)
		for i := 0; i < MaxHistoryTurns+5; i++ {
			sess.AppendText(RoleUser, fmt.Sprintf("msg %d", i))
		}
		if got := len(sess.History); got != MaxHistoryTurns {
			t.Fatalf("len(History) = %d, want %d", got, MaxHistoryTurns)
		}
		if got := sess.History[0].Parts[0].Text; got != "msg 5" {
			t.Errorf("first retained turn = %q, want %q", got, "msg 5")
		}
	})

	t.Run("window never starts on a function turn", func(t *testing.T) {
		sess := New("s1", nil)
		// The cut after overflow would land exactly on the function turn at
		// index 1; truncation must widen past it.
		sess.AppendText(RoleUser, "first")
		sess.Append(Turn{Role: RoleFunction, Parts: []Part{{
			FunctionResponse: &FunctionResponse{Name: "x"},
		}}})
		for i := 0; i < MaxHistoryTurns-1; i++ {
			sess.AppendText(RoleUser, "filler")
		}

		if got := sess.History[0].Role; got == RoleFunction {
			t.Errorf("History[0].Role = %q, want non-function role", got)
		}
		if got := len(sess.History); got != MaxHistoryTurns-1 {
			t.Errorf("len(History) = %d, want %d (function turn skipped)", got, MaxHistoryTurns-1)
		}
	})
}

func TestMergeContext(t *testing.T) {
	sess := New("s1", nil)
	verified := true
	trips := 12

	sess.MergeContext(
		map[string]any{"language": "hi"},
		&DriverProfile{ID: "d1", Name: "Ramesh", ProfileVerified: &verified, ConfirmedTrips: &trips},
		&Location{Latitude: 28.6, Longitude: 77.2},
	)

	t.Run("zero incoming fields keep existing values", func(t *testing.T) {
		sess.MergeContext(nil, &DriverProfile{City: "Jaipur"}, nil)

		dp := sess.DriverProfile
		if dp.Name != "Ramesh" {
			t.Errorf("Name = %q, want %q", dp.Name, "Ramesh")
		}
		if dp.City != "Jaipur" {
			t.Errorf("City = %q, want %q", dp.City, "Jaipur")
		}
		if dp.ProfileVerified == nil || !*dp.ProfileVerified {
			t.Error("ProfileVerified lost after merge")
		}
		if dp.ConfirmedTrips == nil || *dp.ConfirmedTrips != 12 {
			t.Error("ConfirmedTrips lost after merge")
		}
	})

	t.Run("user data accumulates", func(t *testing.T) {
		sess.MergeContext(map[string]any{"screen": "home"}, nil, nil)
		if sess.UserData["language"] != "hi" || sess.UserData["screen"] != "home" {
			t.Errorf("UserData = %v, want both language and screen", sess.UserData)
		}
	})

	t.Run("location is replaced", func(t *testing.T) {
		sess.MergeContext(nil, nil, &Location{Latitude: 19.0, Longitude: 72.8})
		if sess.CurrentLocation.Latitude != 19.0 {
			t.Errorf("Latitude = %g, want 19.0", sess.CurrentLocation.Latitude)
		}
	})
}
