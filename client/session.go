package client

import (
	"sync"
)

// SessionState is a snapshot of the client's belief about who is logged in.
// UI code reads this and nothing else.
type SessionState struct {
	User            *User
	IsAuthenticated bool
	Loading         bool
	LastError       ErrorKind
}

// Anonymous reports whether the snapshot has no user
func (s SessionState) Anonymous() bool {
	return !s.IsAuthenticated
}

// Session holds the current SessionState and notifies subscribers of every
// transition, in order.
type Session struct {
	mu          sync.Mutex
	state       SessionState
	subscribers map[int]func(SessionState)
	nextID      int
	notifyMu    sync.Mutex
}

// NewSession creates an anonymous session
func NewSession() *Session {
	return &Session{subscribers: make(map[int]func(SessionState))}
}

// State returns a snapshot. The User pointer is a private copy.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// User returns the cached user, or nil when anonymous
func (s *Session) User() *User {
	return s.State().User
}

// IsAuthenticated reports whether a user is logged in
func (s *Session) IsAuthenticated() bool {
	return s.State().IsAuthenticated
}

// Subscribe registers fn for every future transition and returns a function
// that removes it. fn must not call back into Subscribe.
func (s *Session) Subscribe(fn func(SessionState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Session) snapshotLocked() SessionState {
	out := s.state
	if out.User != nil {
		u := *out.User
		out.User = &u
	}
	return out
}

// update applies fn to the state and notifies subscribers. notifyMu keeps the
// delivery order equal to the mutation order.
func (s *Session) update(fn func(*SessionState)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	snapshot := s.snapshotLocked()
	subs := make([]func(SessionState), 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
}

func (s *Session) beginLoading() {
	s.update(func(st *SessionState) {
		st.Loading = true
	})
}

func (s *Session) setUser(u *User) {
	copied := *u
	s.update(func(st *SessionState) {
		st.User = &copied
		st.IsAuthenticated = true
		st.Loading = false
		st.LastError = KindNone
	})
}

// reset drops the user and records why
func (s *Session) reset(kind ErrorKind) {
	s.update(func(st *SessionState) {
		st.User = nil
		st.IsAuthenticated = false
		st.Loading = false
		st.LastError = kind
	})
}
