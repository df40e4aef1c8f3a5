package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest Voice Agent"

// Event names shared by every notification channel.
const (
	EventSessionLost     = "session_lost"
	EventSessionRestored = "session_restored"
	EventTest            = "test"
)

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
