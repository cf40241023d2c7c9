package memory

import (
	"fmt"
	"testing"
	"time"

	"peeragent/app/pkg/types"
)

func TestHistoryWindow(t *testing.T) {
	s := NewStore(time.Hour, 3)
	for i := 0; i < 5; i++ {
		s.AddMessage("sess", types.ChatMessage{Role: types.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	got := s.History("sess")
	if len(got) != 3 {
		t.Fatalf("expected window of 3, got %d", len(got))
	}
	if got[0].Content != "m2" || got[2].Content != "m4" {
		t.Fatalf("unexpected window contents: %v", got)
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	s := NewStore(time.Hour, 10)
	if got := s.History("nope"); got != nil {
		t.Fatalf("expected nil history, got %v", got)
	}
}

func TestContextRoundTrip(t *testing.T) {
	s := NewStore(time.Hour, 10)
	s.SetContext("sess", "round", 2)

	v, ok := s.Context("sess", "round")
	if !ok || v.(int) != 2 {
		t.Fatalf("unexpected context value: %v %v", v, ok)
	}

	if _, ok := s.Context("sess", "missing"); ok {
		t.Fatal("expected missing key")
	}
}

func TestExpiredSessionReadsEmpty(t *testing.T) {
	s := NewStore(10*time.Millisecond, 10)
	s.AddMessage("sess", types.ChatMessage{Role: types.RoleUser, Content: "hi"})
	s.SetContext("sess", "k", "v")

	time.Sleep(25 * time.Millisecond)

	if got := s.History("sess"); got != nil {
		t.Fatalf("expected empty history after expiry, got %v", got)
	}
	if _, ok := s.Context("sess", "k"); ok {
		t.Fatal("expected expired context read to miss")
	}
}

func TestSweepDropsOnlyExpired(t *testing.T) {
	s := NewStore(30*time.Millisecond, 10)
	s.AddMessage("old", types.ChatMessage{Role: types.RoleUser, Content: "a"})
	time.Sleep(45 * time.Millisecond)
	s.AddMessage("fresh", types.ChatMessage{Role: types.RoleUser, Content: "b"})

	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept, got %d", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", s.Len())
	}
	if got := s.History("fresh"); len(got) != 1 {
		t.Fatalf("fresh session lost: %v", got)
	}
}

func TestTouchResetsTTL(t *testing.T) {
	s := NewStore(40*time.Millisecond, 10)
	s.AddMessage("sess", types.ChatMessage{Role: types.RoleUser, Content: "a"})
	time.Sleep(25 * time.Millisecond)
	s.AddMessage("sess", types.ChatMessage{Role: types.RoleUser, Content: "b"})
	time.Sleep(25 * time.Millisecond)

	if got := s.History("sess"); len(got) != 2 {
		t.Fatalf("touched session should survive, got %v", got)
	}
}

func TestClear(t *testing.T) {
	s := NewStore(time.Hour, 10)
	s.AddMessage("sess", types.ChatMessage{Role: types.RoleUser, Content: "a"})
	s.Clear("sess")
	if got := s.History("sess"); got != nil {
		t.Fatalf("expected cleared session, got %v", got)
	}
}
