package telegram

import (
	"errors"
	"testing"
)

func TestSessionStore_NewChatAwaitsPhoto(t *testing.T) {
	s := NewSessionStore()

	sess := s.Get(7)
	if sess.State != StateAwaitPhoto {
		t.Errorf("State = %q, want %q", sess.State, StateAwaitPhoto)
	}
	if sess.ChatID != 7 {
		t.Errorf("ChatID = %d, want 7", sess.ChatID)
	}
}

func TestSessionStore_ForwardPath(t *testing.T) {
	s := NewSessionStore()
	photo := []byte("portrait")

	if err := s.AcceptPhoto(1, photo, "image/png"); err != nil {
		t.Fatalf("AcceptPhoto() error = %v", err)
	}
	if got := s.Get(1).State; got != StateAwaitText {
		t.Errorf("State = %q, want %q", got, StateAwaitText)
	}

	snap, err := s.BeginGenerating(1)
	if err != nil {
		t.Fatalf("BeginGenerating() error = %v", err)
	}
	if string(snap.Photo) != "portrait" || snap.PhotoMIME != "image/png" {
		t.Errorf("snapshot = %q %q, want portrait image/png", snap.Photo, snap.PhotoMIME)
	}
	if snap.Generation != 1 {
		t.Errorf("Generation = %d, want 1", snap.Generation)
	}

	stored := s.Get(1)
	if stored.State != StateGenerating {
		t.Errorf("State = %q, want %q", stored.State, StateGenerating)
	}
	if stored.Photo != nil {
		t.Error("stored session still holds the photo")
	}

	s.Finish(1, snap.Generation)
	if got := s.Get(1).State; got != StateAwaitPhoto {
		t.Errorf("State after Finish = %q, want %q", got, StateAwaitPhoto)
	}
}

func TestSessionStore_UnexpectedInput(t *testing.T) {
	s := NewSessionStore()

	if _, err := s.BeginGenerating(1); !errors.Is(err, ErrUnexpectedInput) {
		t.Errorf("BeginGenerating() from await_photo error = %v, want ErrUnexpectedInput", err)
	}

	if err := s.AcceptPhoto(1, []byte("a"), "image/jpeg"); err != nil {
		t.Fatalf("AcceptPhoto() error = %v", err)
	}
	if err := s.AcceptPhoto(1, []byte("b"), "image/jpeg"); !errors.Is(err, ErrUnexpectedInput) {
		t.Errorf("second AcceptPhoto() error = %v, want ErrUnexpectedInput", err)
	}
	if got := string(s.Get(1).Photo); got != "a" {
		t.Errorf("Photo = %q, want first photo kept", got)
	}

	if _, err := s.BeginGenerating(1); err != nil {
		t.Fatalf("BeginGenerating() error = %v", err)
	}
	if err := s.AcceptPhoto(1, []byte("c"), "image/jpeg"); !errors.Is(err, ErrUnexpectedInput) {
		t.Errorf("AcceptPhoto() while generating error = %v, want ErrUnexpectedInput", err)
	}
	if _, err := s.BeginGenerating(1); !errors.Is(err, ErrUnexpectedInput) {
		t.Errorf("BeginGenerating() while generating error = %v, want ErrUnexpectedInput", err)
	}
}

func TestSessionStore_Reset(t *testing.T) {
	s := NewSessionStore()
	if err := s.AcceptPhoto(1, []byte("a"), "image/jpeg"); err != nil {
		t.Fatalf("AcceptPhoto() error = %v", err)
	}

	s.Reset(1)

	sess := s.Get(1)
	if sess.State != StateAwaitPhoto {
		t.Errorf("State = %q, want %q", sess.State, StateAwaitPhoto)
	}
	if sess.Photo != nil || sess.PhotoMIME != "" {
		t.Error("Reset kept the photo")
	}
}

func TestSessionStore_StaleFinishIgnored(t *testing.T) {
	s := NewSessionStore()

	if err := s.AcceptPhoto(1, []byte("a"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	first, err := s.BeginGenerating(1)
	if err != nil {
		t.Fatal(err)
	}

	// The user restarts and begins a second job before the first returns.
	s.Reset(1)
	if err := s.AcceptPhoto(1, []byte("b"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	second, err := s.BeginGenerating(1)
	if err != nil {
		t.Fatal(err)
	}
	if second.Generation == first.Generation {
		t.Fatalf("generations should differ, both %d", first.Generation)
	}

	s.Finish(1, first.Generation)
	if got := s.Get(1).State; got != StateGenerating {
		t.Errorf("State after stale Finish = %q, want %q", got, StateGenerating)
	}

	s.Finish(1, second.Generation)
	if got := s.Get(1).State; got != StateAwaitPhoto {
		t.Errorf("State after Finish = %q, want %q", got, StateAwaitPhoto)
	}
}

func TestSessionStore_FinishAfterResetKeepsState(t *testing.T) {
	s := NewSessionStore()
	if err := s.AcceptPhoto(1, []byte("a"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	snap, err := s.BeginGenerating(1)
	if err != nil {
		t.Fatal(err)
	}

	s.Reset(1)
	if err := s.AcceptPhoto(1, []byte("b"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	s.Finish(1, snap.Generation)

	sess := s.Get(1)
	if sess.State != StateAwaitText {
		t.Errorf("State = %q, want %q", sess.State, StateAwaitText)
	}
	if string(sess.Photo) != "b" {
		t.Errorf("Photo = %q, want b", sess.Photo)
	}
}

func TestSessionStore_ChatsAreIndependent(t *testing.T) {
	s := NewSessionStore()
	if err := s.AcceptPhoto(1, []byte("a"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}

	if got := s.Get(2).State; got != StateAwaitPhoto {
		t.Errorf("chat 2 State = %q, want %q", got, StateAwaitPhoto)
	}
	if got := s.Get(1).State; got != StateAwaitText {
		t.Errorf("chat 1 State = %q, want %q", got, StateAwaitText)
	}
}

func TestCanMove(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateAwaitPhoto, StateAwaitText, true},
		{StateAwaitText, StateGenerating, true},
		{StateGenerating, StateAwaitPhoto, true},
		{StateAwaitPhoto, StateGenerating, false},
		{StateAwaitText, StateAwaitPhoto, false},
		{StateGenerating, StateAwaitText, false},
	}
	for _, tt := range tests {
		if got := canMove(tt.from, tt.to); got != tt.want {
			t.Errorf("canMove(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
