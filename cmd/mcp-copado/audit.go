package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// AuditEntry is one tools/call record.
type AuditEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Tool       string                 `json:"tool"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Mode       string                 `json:"mode"`
	User       string                 `json:"user"`
	DurationMs int64                  `json:"duration_ms"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
}

// AuditLogger appends tool calls as JSON lines. A nil *AuditLogger is a
// no-op.
type AuditLogger struct {
	mu      sync.Mutex
	logFile *os.File
	user    string
	logger  *slog.Logger
}

// OpenAuditLogger opens path for appending, creating it if needed.
func OpenAuditLogger(path string, logger *slog.Logger) (*AuditLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}

	return &AuditLogger{logFile: file, user: user, logger: logger}, nil
}

// Record writes entry, stamping the time and user.
func (a *AuditLogger) Record(entry AuditEntry) {
	if a == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.User = a.user

	jsonData, err := json.Marshal(entry)
	if err != nil {
		a.logger.Error("failed to marshal audit log entry", "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.logFile.Write(append(jsonData, '\n')); err != nil {
		a.logger.Error("failed to write audit log entry", "error", err)
	}
}

// Close closes the audit log file.
func (a *AuditLogger) Close() error {
	if a == nil || a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}
