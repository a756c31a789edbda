package supervision

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store holds at most one session per scope.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	log      *zap.Logger
}

// NewStore creates an empty Store. A nil logger discards output.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
		log:      log,
	}
}

// GetOrCreate returns the scope's session, creating a fresh one if absent.
func (st *Store) GetOrCreate(scope Scope) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[scope.Key()]; ok {
		return s
	}
	s := newSession(scope, st.now())
	st.sessions[scope.Key()] = s
	return s
}

// Get returns the scope's session if one exists.
func (st *Store) Get(scope Scope) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[scope.Key()]
	return s, ok
}

// Reset releases the replicas of any existing session for the scope and
// replaces it with a fresh one.
func (st *Store) Reset(scope Scope) *Session {
	st.mu.Lock()
	prev := st.sessions[scope.Key()]
	s := newSession(scope, st.now())
	st.sessions[scope.Key()] = s
	st.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		err := prev.releaseReplicas()
		prev.mu.Unlock()
		if err != nil {
			st.log.Warn("release replicas of replaced session", zap.String("scope", scope.Key()), zap.Error(err))
		}
	}
	return s
}

// Discard removes the scope's session without releasing anything.
func (st *Store) Discard(scope Scope) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, scope.Key())
}

// discardSession removes s only if it is still the scope's current session,
// so a finalize that raced a restart cannot drop the newer session.
func (st *Store) discardSession(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[s.Scope.Key()]; ok && cur == s {
		delete(st.sessions, s.Scope.Key())
	}
}

// current reports whether s is still the scope's session.
func (st *Store) current(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[s.Scope.Key()] == s
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *Store) snapshot() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// Owned returns the replica paths held by live sessions.
func (st *Store) Owned() map[string]bool {
	owned := make(map[string]bool)
	for _, s := range st.snapshot() {
		s.mu.Lock()
		for _, h := range s.Replicas() {
			owned[h.Path()] = true
		}
		s.mu.Unlock()
	}
	return owned
}

// SessionInfo is a read-only view of a session for operational listings.
type SessionInfo struct {
	Scope     string    `json:"scope"`
	State     string    `json:"state"`
	OrderCode string    `json:"order_code,omitempty"`
	Media     int       `json:"media"`
	StartedAt time.Time `json:"started_at"`
}

// List returns a view of every active session, oldest first.
func (st *Store) List() []SessionInfo {
	sessions := st.snapshot()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, SessionInfo{
			Scope:     s.Scope.Key(),
			State:     s.State.String(),
			OrderCode: s.OrderCode,
			Media:     s.MediaCount(),
			StartedAt: s.StartedAt,
		})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
