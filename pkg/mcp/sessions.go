package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/Sriram-PR/members-filter/pkg/page"
	"github.com/Sriram-PR/members-filter/pkg/tab"
)

// SessionStatus represents the current state of a page session
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusClosed   SessionStatus = "closed"
	SessionStatusFailed   SessionStatus = "failed"
)

// Session is one page submitted by a client and kept alive with its own tab,
// so later submissions (appended items, navigation) are filtered the way a live page would be
type Session struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Status       SessionStatus `json:"status"`
	OpenedAt     time.Time     `json:"opened_at"`
	ClosedAt     time.Time     `json:"closed_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`

	// Internal fields
	doc    *page.Document
	tab    *tab.Tab
	cancel context.CancelFunc
	done   chan struct{}
}

// Document returns the session's page
func (s *Session) Document() *page.Document { return s.doc }

// Tab returns the session's tab
func (s *Session) Tab() *tab.Tab { return s.tab }

// SessionManager tracks open page sessions
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	byURL    map[string]string // url -> sessionID for open sessions
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		byURL:    make(map[string]string),
	}
}

// Open registers a session for doc and starts its tab. If a session is already open
// for the same address, that session is returned and doc is discarded.
func (m *SessionManager) Open(parent context.Context, doc *page.Document, t *tab.Tab) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pageURL := doc.CurrentURL()
	if existingID, exists := m.byURL[pageURL]; exists {
		existing := m.sessions[existingID]
		if existing != nil && isOpen(existing.Status) {
			return existing, false
		}
	}

	ctx, cancel := context.WithCancel(parent)
	sess := &Session{
		ID:       t.ID(),
		URL:      pageURL,
		Status:   SessionStatusStarting,
		OpenedAt: time.Now(),
		doc:      doc,
		tab:      t,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.sessions[sess.ID] = sess
	m.byURL[pageURL] = sess.ID

	go func() {
		defer close(sess.done)
		m.setStatus(sess.ID, SessionStatusRunning, "")
		if err := t.Run(ctx); err != nil {
			m.setStatus(sess.ID, SessionStatusFailed, err.Error())
		}
	}()
	return sess, true
}

// Get retrieves a session by ID
func (m *SessionManager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Status returns a session's status
func (m *SessionManager) Status(sessionID string) SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sess, ok := m.sessions[sessionID]; ok {
		return sess.Status
	}
	return ""
}

// Describe returns a session's public fields for tool results
func (m *SessionManager) Describe(sessionID string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	info := map[string]interface{}{
		"session_id": sess.ID,
		"url":        sess.URL,
		"status":     sess.Status,
		"opened_at":  sess.OpenedAt.Format(time.RFC3339),
	}
	if !sess.ClosedAt.IsZero() {
		info["closed_at"] = sess.ClosedAt.Format(time.RFC3339)
		info["duration_seconds"] = sess.ClosedAt.Sub(sess.OpenedAt).Seconds()
	}
	if sess.ErrorMessage != "" {
		info["error_message"] = sess.ErrorMessage
	}
	return info, true
}

// Navigated records that a session moved to a new address
func (m *SessionManager) Navigated(sessionID, pageURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if m.byURL[sess.URL] == sessionID {
		delete(m.byURL, sess.URL)
	}
	sess.URL = pageURL
	if isOpen(sess.Status) {
		m.byURL[pageURL] = sessionID
	}
}

func (m *SessionManager) setStatus(sessionID string, status SessionStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[sessionID]
	if !exists || !isOpen(sess.Status) {
		return
	}
	sess.Status = status
	if !isOpen(status) {
		sess.ClosedAt = time.Now()
		if m.byURL[sess.URL] == sessionID {
			delete(m.byURL, sess.URL)
		}
	}
	if errorMsg != "" {
		sess.ErrorMessage = errorMsg
	}
}

// Close stops a session's tab and waits for it to exit
func (m *SessionManager) Close(sessionID string) bool {
	m.mu.Lock()
	sess, exists := m.sessions[sessionID]
	if !exists || !isOpen(sess.Status) {
		m.mu.Unlock()
		return false
	}
	sess.cancel()
	sess.Status = SessionStatusClosed
	sess.ClosedAt = time.Now()
	if m.byURL[sess.URL] == sessionID {
		delete(m.byURL, sess.URL)
	}
	m.mu.Unlock()

	<-sess.done
	return true
}

// CloseAll stops every open session
func (m *SessionManager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, sess := range m.sessions {
		if isOpen(sess.Status) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// List returns the IDs of all sessions
func (m *SessionManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func isOpen(status SessionStatus) bool {
	return status == SessionStatusStarting || status == SessionStatusRunning
}
