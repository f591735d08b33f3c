package skillchain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileSessionStore is a file-based SessionStore that persists each session
// record as a JSON file under a data directory.
type FileSessionStore struct {
	dataDir string
	mutex   sync.Mutex
}

// NewFileSessionStore creates a new file-based session store
func NewFileSessionStore(dataDir string) (*FileSessionStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".skillchain", "sessions")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileSessionStore{dataDir: dataDir}, nil
}

func (s *FileSessionStore) sessionPath(sessionID string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s.json", sessionID))
}

// Save creates or replaces the session record
func (s *FileSessionStore) Save(ctx context.Context, state *SessionState) (*SessionState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := state.Copy()
	stored.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session state: %w", err)
	}
	if err := os.WriteFile(s.sessionPath(state.SessionID), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write session file: %w", err)
	}
	return stored, nil
}

// Load returns the session record, or nil when absent or expired
func (s *FileSessionStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	if state.Expired(time.Now()) {
		return nil, nil
	}
	return &state, nil
}

// Clear removes the session record
func (s *FileSessionStore) Clear(ctx context.Context, sessionID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path := s.sessionPath(sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to remove session file: %w", err)
	}
	return true, nil
}

// CleanupExpired removes expired records
func (s *FileSessionStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dataDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var state SessionState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if state.Expired(now) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
