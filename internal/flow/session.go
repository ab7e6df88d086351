package flow

import "sync"

// State of one user's conversation.
type State int

const (
	// StateIdle means no flow is in progress (the terminal state).
	StateIdle State = iota
	// StateSubmitting waits for the text of an anonymous submission.
	StateSubmitting
	// StateAwaitingConfirm waits for the confirm/discard button press.
	StateAwaitingConfirm
	// StateBroadcasting waits for the admin's broadcast text.
	StateBroadcasting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingConfirm:
		return "awaiting_confirm"
	case StateBroadcasting:
		return "broadcasting"
	default:
		return "unknown"
	}
}

// Session is one user's in-flight conversation context. It is
// deliberately not persisted: a restart mid-conversation drops
// unconfirmed drafts, which is accepted behavior.
type Session struct {
	State State
	Draft string
}

// Sessions maps user ids to conversation contexts. Events for the same
// user never run concurrently, but different users share this map, so
// access is guarded.
type Sessions struct {
	mu sync.Mutex
	m  map[int64]*Session
}

func NewSessions() *Sessions {
	return &Sessions{m: map[int64]*Session{}}
}

// Get returns a copy of the user's session; absent users are idle.
func (s *Sessions) Get(userID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.m[userID]; ok {
		return *sess
	}
	return Session{State: StateIdle}
}

func (s *Sessions) SetState(userID int64, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok {
		sess = &Session{}
		s.m[userID] = sess
	}
	sess.State = state
}

func (s *Sessions) SetDraft(userID int64, draft string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok {
		sess = &Session{}
		s.m[userID] = sess
	}
	sess.Draft = draft
}

// Clear drops the whole context, draft included. Every terminal
// transition goes through here so stale drafts cannot resurface.
func (s *Sessions) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
}
