package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID            string     `json:"id"`
	Role          Role       `json:"role"`
	Content       string     `json:"content"`
	HTML          string     `json:"html,omitempty"`
	Images        []ImageRef `json:"images,omitempty"`
	SuggestTicket bool       `json:"suggestTicket,omitempty"`
	CreatedAt     time.Time  `json:"timestamp"`
}

type session struct {
	messages []Message
	lastSeen time.Time
}

// Transcripts keeps chat sessions in memory. Sessions idle for longer than
// the ttl are dropped.
type Transcripts struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
}

func NewTranscripts(ttl time.Duration) *Transcripts {
	return &Transcripts{sessions: make(map[string]*session), ttl: ttl, now: time.Now}
}

// Append adds m to the session, creating the session if needed. ID and
// CreatedAt are filled in when empty.
func (t *Transcripts) Append(sessionID string, m Message) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s, ok := t.sessions[sessionID]
	switch {
	case !ok:
		t.evictLocked(now)
		s = &session{}
		t.sessions[sessionID] = s
	case t.expired(s, now):
		s.messages = nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	s.messages = append(s.messages, m)
	s.lastSeen = now
	return m
}

// Remove deletes one message. It reports whether the message existed.
func (t *Transcripts) Remove(sessionID, messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	for i, m := range s.messages {
		if m.ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a copy of the session's messages, oldest first.
func (t *Transcripts) Messages(sessionID string) ([]Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok || t.expired(s, t.now()) {
		return nil, false
	}
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out, true
}

func (t *Transcripts) Delete(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	return ok
}

func (t *Transcripts) expired(s *session, now time.Time) bool {
	return t.ttl > 0 && now.Sub(s.lastSeen) > t.ttl
}

func (t *Transcripts) evictLocked(now time.Time) {
	for id, s := range t.sessions {
		if t.expired(s, now) {
			delete(t.sessions, id)
		}
	}
}
