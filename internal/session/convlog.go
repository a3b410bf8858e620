package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ConversationLog appends a session's exchanges to a JSONL transcript file.
type ConversationLog struct {
	mu   sync.Mutex
	file *os.File
}

type convEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// OpenConversationLog opens (appending) the transcript for userID under dir.
func OpenConversationLog(dir, userID string) (*ConversationLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(filepath.Join(dir, userID+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &ConversationLog{file: file}, nil
}

// Append writes one transcript entry.
func (l *ConversationLog) Append(role, agentID, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	entry := convEntry{Role: role, Text: text, AgentID: agentID, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = l.file.Write(append(data, '\n'))
	return err
}

// Close closes the transcript file.
func (l *ConversationLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
