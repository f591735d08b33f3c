package skillchain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileOutcomeLogger is an implementation of OutcomeLogger that logs to a file.
// A file is created per execution. The file is formatted as newline-delimited JSON.
type FileOutcomeLogger struct {
	directory string
}

func NewFileOutcomeLogger(directory string) *FileOutcomeLogger {
	return &FileOutcomeLogger{directory: directory}
}

func (l *FileOutcomeLogger) executionOutcomeLogPath(executionID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", executionID))
}

func (l *FileOutcomeLogger) GetOutcomeHistory(ctx context.Context, executionID string) ([]*OutcomeLogEntry, error) {
	filePath := l.executionOutcomeLogPath(executionID)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var entries []*OutcomeLogEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry OutcomeLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (l *FileOutcomeLogger) LogOutcome(ctx context.Context, entry *OutcomeLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	filePath := l.executionOutcomeLogPath(entry.ExecutionID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write([]byte(string(data) + "\n")); err != nil {
		return err
	}
	return f.Sync()
}
