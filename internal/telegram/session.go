package telegram

import (
	"errors"
	"sync"
	"time"
)

// State is the conversation stage of one chat.
type State string

const (
	// StateAwaitPhoto waits for a portrait.
	StateAwaitPhoto State = "await_photo"
	// StateAwaitText holds a portrait and waits for the script.
	StateAwaitText State = "await_text"
	// StateGenerating has a job running for the chat.
	StateGenerating State = "generating"
)

// ErrUnexpectedInput is returned when a message does not fit the chat's current state.
var ErrUnexpectedInput = errors.New("telegram: message not expected in current state")

// sessionTransitions lists the moves a chat may make. Reset to
// StateAwaitPhoto is always allowed and is not listed.
var sessionTransitions = map[State][]State{
	StateAwaitPhoto: {StateAwaitText},
	StateAwaitText:  {StateGenerating},
	StateGenerating: {StateAwaitPhoto},
}

func canMove(from, to State) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is the per-chat conversation record.
type Session struct {
	ChatID    int64
	State     State
	Photo     []byte
	PhotoMIME string
	// Generation identifies the running job; it changes on every BeginGenerating.
	Generation uint64
	UpdatedAt  time.Time
}

// SessionStore keeps one Session per chat. Chats start in StateAwaitPhoto.
// It is safe for concurrent use.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*Session)}
}

// Get returns a copy of the chat's session.
func (s *SessionStore) Get(chatID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.session(chatID)
}

// Reset drops any held photo and returns the chat to StateAwaitPhoto.
func (s *SessionStore) Reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(chatID)
	sess.State = StateAwaitPhoto
	sess.Photo = nil
	sess.PhotoMIME = ""
	sess.UpdatedAt = time.Now()
}

// AcceptPhoto stores the portrait and moves to StateAwaitText.
func (s *SessionStore) AcceptPhoto(chatID int64, photo []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(chatID)
	if !canMove(sess.State, StateAwaitText) {
		return ErrUnexpectedInput
	}
	sess.State = StateAwaitText
	sess.Photo = photo
	sess.PhotoMIME = mimeType
	sess.UpdatedAt = time.Now()
	return nil
}

// BeginGenerating moves to StateGenerating and returns a copy of the session
// holding the portrait. The stored session no longer keeps the photo.
func (s *SessionStore) BeginGenerating(chatID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(chatID)
	if !canMove(sess.State, StateGenerating) {
		return Session{}, ErrUnexpectedInput
	}
	sess.State = StateGenerating
	sess.Generation++
	sess.UpdatedAt = time.Now()
	snapshot := *sess
	sess.Photo = nil
	sess.PhotoMIME = ""
	return snapshot, nil
}

// Finish returns the chat to StateAwaitPhoto if generation is still the
// running job. A chat reset or restarted since then is left alone.
func (s *SessionStore) Finish(chatID int64, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(chatID)
	if sess.Generation == generation && canMove(sess.State, StateAwaitPhoto) {
		sess.State = StateAwaitPhoto
		sess.UpdatedAt = time.Now()
	}
}

// session returns the chat's record, creating it. Callers hold s.mu.
func (s *SessionStore) session(chatID int64) *Session {
	sess, ok := s.sessions[chatID]
	if !ok {
		sess = &Session{ChatID: chatID, State: StateAwaitPhoto, UpdatedAt: time.Now()}
		s.sessions[chatID] = sess
	}
	return sess
}
