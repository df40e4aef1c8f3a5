package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// LogEvent appends an event to the JSONL log. An empty path is a no-op.
func LogEvent(logPath string, e *Event) error {
	return appendLogEntry(logPath, &types.EventLogEntry{
		Timestamp:    timestampUTC(),
		Event:        e.Name,
		SessionID:    e.SessionID,
		Reconnects:   e.Reconnects,
		Error:        e.Error,
		SoilMoisture: e.SoilMoisture,
		Threshold:    e.Threshold,
		Message:      e.Message,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &types.EventLogEntry{
		Timestamp: timestampUTC(),
		Event:     EventTest,
		Message:   "Test entry from " + AppName,
	})
}

// ReadLog returns the last maxEntries entries of the log, newest first.
// A missing file yields an empty list; malformed lines are skipped.
func ReadLog(logPath string, maxEntries int) ([]types.EventLogEntry, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return []types.EventLogEntry{}, nil
	}
	if err != nil {
		return nil, util.WrapError("read log file", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	start := max(0, len(lines)-maxEntries)
	lines = lines[start:]

	entries := make([]types.EventLogEntry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry types.EventLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	slices.Reverse(entries)
	return entries, nil
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *types.EventLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(append(jsonData, '\n')); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
