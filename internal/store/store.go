// Package store persists interpreter sessions under the cache directory.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wststone/Local-Code-Interpreter/internal/llm/openai"
)

// Store manages session persistence under a base directory.
type Store struct {
	// BaseDir is the root for all persisted data.
	BaseDir string
}

// messageRecordType marks conversation message records in session JSONL.
const messageRecordType = "message"

// MessageRecord wraps one conversation message for session persistence.
type MessageRecord struct {
	// Type tags the record so loaders can filter it.
	Type string `json:"type"`
	// Message is the stored conversation message.
	Message openai.Message `json:"message"`
}

// New constructs a Store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{BaseDir: baseDir}
}

// SessionPath returns the JSONL path for a session.
func (s *Store) SessionPath(sessionID string) string {
	return filepath.Join(s.BaseDir, "sessions", sessionID+".jsonl")
}

// WorkDir returns the kernel working directory for a session, creating it
// if needed.
func (s *Store) WorkDir(sessionID string) (string, error) {
	return s.ensureDir("work_dir_" + sessionID)
}

// OutputsDir returns the display artifact directory for a session,
// creating it if needed.
func (s *Store) OutputsDir(sessionID string) (string, error) {
	return s.ensureDir("outputs_" + sessionID)
}

func (s *Store) ensureDir(name string) (string, error) {
	path := filepath.Join(s.BaseDir, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return path, nil
}

// AppendMessage writes one conversation message to the session log.
func (s *Store) AppendMessage(sessionID string, message openai.Message) error {
	return s.appendRecord(sessionID, MessageRecord{
		Type:    messageRecordType,
		Message: message,
	})
}

// AppendMessages writes a batch of conversation messages in order.
func (s *Store) AppendMessages(sessionID string, messages []openai.Message) error {
	for _, message := range messages {
		if err := s.AppendMessage(sessionID, message); err != nil {
			return err
		}
	}
	return nil
}

// appendRecord writes a JSONL record for the session.
func (s *Store) appendRecord(sessionID string, record any) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	path := s.SessionPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}

	return nil
}

// LoadMessages reads the stored conversation for a session in order.
// Malformed lines are skipped so resume is resilient to partial writes.
func (s *Store) LoadMessages(sessionID string) ([]openai.Message, error) {
	path := s.SessionPath(sessionID)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var messages []openai.Message
	scanner := bufio.NewScanner(file)
	// Large execution outputs can produce long lines.
	const maxRecordSize = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record MessageRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		if record.Type != messageRecordType {
			continue
		}
		messages = append(messages, record.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return messages, nil
}

// ResetSession truncates the session log and clears its working and output
// directories, used when the kernel restarts.
func (s *Store) ResetSession(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	path := s.SessionPath(sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	for _, name := range []string{"work_dir_" + sessionID, "outputs_" + sessionID} {
		if err := os.RemoveAll(filepath.Join(s.BaseDir, name)); err != nil {
			return fmt.Errorf("remove session dir: %w", err)
		}
	}
	return nil
}

// SaveLastSession stores the most recent session id.
func (s *Store) SaveLastSession(sessionID string) error {
	path := filepath.Join(s.BaseDir, "last_session")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create base dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(sessionID), 0o600); err != nil {
		return fmt.Errorf("write last session: %w", err)
	}
	return nil
}

// LoadLastSession returns the most recent session id.
func (s *Store) LoadLastSession() (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.BaseDir, "last_session"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// ListSessions returns recent session ids sorted by modification time desc.
func (s *Store) ListSessions(limit int) ([]string, error) {
	dir := filepath.Join(s.BaseDir, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type entry struct {
		Name string
		Time time.Time
	}

	var list []entry
	for _, item := range entries {
		if item.IsDir() {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(item.Name(), filepath.Ext(item.Name()))
		list = append(list, entry{Name: name, Time: info.ModTime()})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Time.After(list[j].Time)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	result := make([]string, 0, len(list))
	for _, item := range list {
		result = append(result, item.Name)
	}
	return result, nil
}
