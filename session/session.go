// session/session.go
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/aryansinha9/irl-among-us/network"
)

// Session is one websocket connection. It is bound to a lobby and a player
// after create, join or rejoin.
type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	lobbyID    string
	playerID   string
	lastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

// Bind attaches the session to a player in a lobby.
func (s *Session) Bind(lobbyID, playerID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lobbyID = lobbyID
	s.playerID = playerID
}

// Identity returns the bound lobby and player, empty until Bind.
func (s *Session) Identity() (lobbyID, playerID string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lobbyID, s.playerID
}

func (s *Session) LobbyID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lobbyID
}

// Touch records activity.
func (s *Session) Touch(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = now
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Send(msgID uint16, data []byte) error {
	return s.Conn.Send(msgID, data)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// All returns every session.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

// GetByLobby returns the sessions bound to lobbyID.
func (m *Manager) GetByLobby(lobbyID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.LobbyID() == lobbyID {
			result = append(result, session)
		}
	}
	return result
}

// GetByPlayer returns the sessions of one player, normally at most one.
func (m *Manager) GetByPlayer(lobbyID, playerID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		l, p := session.Identity()
		if l == lobbyID && p == playerID {
			result = append(result, session)
		}
	}
	return result
}

// Lobbies lists the lobbies with at least one bound session, sorted.
func (m *Manager) Lobbies() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	seen := map[string]struct{}{}
	for _, session := range m.sessions {
		if id := session.LobbyID(); id != "" {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Idle returns sessions that have been quiet since before cutoff.
func (m *Manager) Idle(cutoff time.Time) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.LastActive().Before(cutoff) {
			result = append(result, session)
		}
	}
	return result
}
