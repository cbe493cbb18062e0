package telegram

import (
	"sync"

	"github.com/digkill/genstudio/internal/models"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingPrompt
)

const (
	defaultAspectRatio = "1:1"
	defaultResolution  = "1K"
)

type Session struct {
	State          SessionState
	GenerationType models.GenerationType
	Count          int
	AspectRatio    string
	Resolution     string
	ReferenceURLs  []string
}

func newSession() *Session {
	return &Session{
		State:         StateIdle,
		Count:         1,
		AspectRatio:   defaultAspectRatio,
		Resolution:    defaultResolution,
		ReferenceURLs: make([]string, 0),
	}
}

// StateManager keeps one in-memory session per chat. Sessions are lost on restart.
type StateManager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
	}
}

// Get returns a copy of the chat's session, or a fresh idle one.
func (m *StateManager) Get(chatID int64) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[chatID]
	if !ok {
		return newSession()
	}
	cp := *session
	cp.ReferenceURLs = append([]string(nil), session.ReferenceURLs...)
	return &cp
}

func (m *StateManager) Set(chatID int64, session *Session) {
	m.mu.Lock()
	m.sessions[chatID] = session
	m.mu.Unlock()
}

// Reset returns the chat to idle but keeps its references for the next generation.
func (m *StateManager) Reset(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := newSession()
	if session, ok := m.sessions[chatID]; ok {
		next.ReferenceURLs = session.ReferenceURLs
	}
	m.sessions[chatID] = next
}

func (m *StateManager) ClearReferences(chatID int64) {
	m.mu.Lock()
	if session, ok := m.sessions[chatID]; ok {
		session.ReferenceURLs = make([]string, 0)
	}
	m.mu.Unlock()
}
