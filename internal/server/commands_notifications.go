package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-voiceagent/internal/notify"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
)

// testTimeout bounds a single notification test.
const testTimeout = time.Minute

// runTest dispatches to the appropriate test method on the notifier.
func (h *CommandHandler) runTest(testType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	n := h.agent.Notifier()
	switch testType {
	case "webhook":
		return n.TriggerTestWebhook(ctx)
	case "log":
		return n.TriggerTestLog()
	case "email":
		return n.TriggerTestEmail(ctx)
	case "zabbix":
		return n.TriggerTestZabbix()
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a notification test and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, testType string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
			}
		}()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(testType); err != nil {
			slog.Error("test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "test", testType)
		}

		trySend(send, "test_result", result)
	}()
}

// handleViewLog reads and returns the event log file contents.
func (h *CommandHandler) handleViewLog(send chan<- any) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in event log handler", "panic", r)
			}
		}()

		result := types.WSEventLogResult{
			Type:    "event_log_result",
			Success: true,
		}

		logPath := h.cfg.LogPath()
		if logPath == "" {
			result.Success = false
			result.Error = "Log file path not configured"
		} else {
			entries, err := notify.ReadLog(logPath, MaxLogEntries)
			if err != nil {
				result.Success = false
				result.Error = err.Error()
			} else {
				result.Entries = entries
				result.Path = logPath
			}
		}

		trySend(send, "event_log_result", result)
	}()
}
