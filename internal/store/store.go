package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"voicefront/agent/internal/types"
)

var ErrSessionExists = errors.New("session already exists")

const (
	maxEvents = 200
	maxTurns  = 500
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	events   map[string][]types.Event
	turns    map[string][]types.Turn
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		events:   make(map[string][]types.Event),
		turns:    make(map[string][]types.Turn),
	}
}

func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	s.sessions[sess.ID] = sess
	s.events[sess.ID] = []types.Event{}
	return nil
}

// GetSession returns a copy of the session, or nil.
func (s *Store) GetSession(id string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], evt)
	// Cap total events per session to avoid unbounded growth
	if l := len(s.events[sessionID]); l > maxEvents {
		// Keep space for a single truncation warning so the total stays at maxEvents
		keep := maxEvents - 1
		dropped := l - keep
		s.events[sessionID] = append([]types.Event(nil), s.events[sessionID][l-keep:]...)
		warn := types.Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"session_id": sessionID, "dropped": dropped, "kept": keep}}
		s.events[sessionID] = append(s.events[sessionID], warn)
	}
	return evt
}

func (s *Store) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// SaveTurn inserts or replaces a turn by ID, keeping creation order.
func (s *Store) SaveTurn(t types.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.turns[t.SessionID]
	for i := range list {
		if list[i].ID == t.ID {
			list[i] = t
			return
		}
	}
	list = append(list, t)
	if len(list) > maxTurns {
		list = append([]types.Turn(nil), list[len(list)-maxTurns:]...)
	}
	s.turns[t.SessionID] = list
}

func (s *Store) ListTurns(sessionID string) []types.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.turns[sessionID]
	out := make([]types.Turn, len(src))
	copy(out, src)
	return out
}

// PendingTurns counts turns awaiting a reply across all sessions.
func (s *Store) PendingTurns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.turns {
		for _, t := range list {
			if t.Status == types.TurnPending {
				n++
			}
		}
	}
	return n
}

func (s *Store) SetConnected(sessionID string, connected bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	sess.Connected = connected
	if connected {
		sess.LastConnected = &at
		sess.Status = "active"
	} else {
		sess.LastDisconnect = &at
		sess.Status = "idle"
	}
}

func (s *Store) ListSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Recorder scopes the store to one session for a turn controller.
type Recorder struct {
	st        *Store
	sessionID string
}

func (s *Store) Recorder(sessionID string) Recorder {
	return Recorder{st: s, sessionID: sessionID}
}

func (r Recorder) SaveTurn(t types.Turn) {
	if t.SessionID == "" {
		t.SessionID = r.sessionID
	}
	r.st.SaveTurn(t)
}

func (r Recorder) AppendEvent(typ string, payload map[string]any) {
	r.st.AppendEvent(r.sessionID, typ, payload)
}
