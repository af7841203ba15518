// Package session provides conversation state and its persistence.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/agentcore/internal/provider"
	"github.com/google/uuid"
)

// Session is the ordered message history of one conversation. Appended
// messages are never mutated; history shrinks only through Replace
// (context eviction) or Clear.
type Session struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any

	messages []provider.Message
	mu       sync.RWMutex
}

// NewSession creates a new session with the given key.
func NewSession(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
}

// Append adds a message, assigning an id and timestamp when missing, and
// returns the stored copy.
func (s *Session) Append(msg provider.Message) provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.messages = append(s.messages, msg)
	s.UpdatedAt = time.Now()
	return msg
}

// Messages returns a copy of the full history.
func (s *Session) Messages() []provider.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]provider.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Replace swaps the history wholesale. Used by context compaction.
func (s *Session) Replace(msgs []provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]provider.Message, len(msgs))
	copy(s.messages, msgs)
	s.UpdatedAt = time.Now()
}

// Clear removes all messages from the session.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.UpdatedAt = time.Now()
}

// GetMetadata returns a metadata value by key.
func (s *Session) GetMetadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Metadata == nil {
		return nil, false
	}
	val, ok := s.Metadata[key]
	return val, ok
}

// SetMetadata sets a metadata value by key.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata[key] = value
	s.UpdatedAt = time.Now()
}

// ValidatePairing returns the tool call ids of results that do not answer a
// tool call emitted earlier in msgs.
func ValidatePairing(msgs []provider.Message) []string {
	seen := map[string]bool{}
	var orphans []string
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			seen[tc.ID] = true
		}
		for _, tr := range m.ToolResults {
			if !seen[tr.ToolCallID] {
				orphans = append(orphans, tr.ToolCallID)
			}
		}
	}
	return orphans
}

// Manager persists sessions as JSONL files, one metadata line followed by
// one line per message.
type Manager struct {
	sessionsDir string
	cache       map[string]*Session
	mu          sync.RWMutex
}

// NewManager creates a session manager rooted at dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{
		sessionsDir: dir,
		cache:       make(map[string]*Session),
	}, nil
}

// GetOrCreate returns an existing session or creates a new one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s
	}
	s := m.load(key)
	if s == nil {
		s = NewSession(key)
	}
	m.cache[key] = s
	return s
}

type metadataLine struct {
	Type      string         `json:"_type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Save persists a session to disk.
func (m *Manager) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.sessionPath(s.Key)
	tmp := path + ".tmp"

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	if err := enc.Encode(metadataLine{Type: "metadata", CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, Metadata: s.Metadata}); err != nil {
		file.Close()
		return fmt.Errorf("write session metadata: %w", err)
	}
	for _, msg := range s.messages {
		if err := enc.Encode(msg); err != nil {
			file.Close()
			return fmt.Errorf("write session message: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush session file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	m.cache[s.Key] = s
	return nil
}

// Delete removes a session.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, key)
	return os.Remove(m.sessionPath(key)) == nil
}

// SessionInfo contains metadata about a session.
type SessionInfo struct {
	Key       string
	UpdatedAt time.Time
	Path      string
}

// List returns information about all persisted sessions.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []SessionInfo
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return sessions
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(m.sessionsDir, entry.Name())
		info := SessionInfo{
			Key:  strings.ReplaceAll(strings.TrimSuffix(entry.Name(), ".jsonl"), "_", ":"),
			Path: path,
		}
		if fi, err := entry.Info(); err == nil {
			info.UpdatedAt = fi.ModTime()
		}
		sessions = append(sessions, info)
	}
	return sessions
}

func (m *Manager) sessionPath(key string) string {
	safeKey := strings.ReplaceAll(key, ":", "_")
	safeKey = strings.ReplaceAll(safeKey, "/", "_")
	safeKey = strings.ReplaceAll(safeKey, "\\", "_")
	safeKey = strings.ReplaceAll(safeKey, "..", "_")
	return filepath.Join(m.sessionsDir, filepath.Base(safeKey)+".jsonl")
}

func (m *Manager) load(key string) *Session {
	file, err := os.Open(m.sessionPath(key))
	if err != nil {
		return nil
	}
	defer file.Close()

	s := NewSession(key)
	dec := json.NewDecoder(file)
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			break
		}
		var meta metadataLine
		if json.Unmarshal(raw, &meta) == nil && meta.Type == "metadata" {
			s.CreatedAt = meta.CreatedAt
			s.UpdatedAt = meta.UpdatedAt
			if meta.Metadata != nil {
				s.Metadata = meta.Metadata
			}
			continue
		}
		var msg provider.Message
		if json.Unmarshal(raw, &msg) == nil {
			s.messages = append(s.messages, msg)
		}
	}
	return s
}
