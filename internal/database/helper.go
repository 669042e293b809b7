package database

import (
	"fmt"
	"time"
)

// generateProviderKey creates a composite key using provider and userID.
func generateProviderKey(provider, userID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", provider, userID))
}

// timeLayout keeps every stored time the same width so SQL orders them
// as text. RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime stores zero times as an empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime also reads values written with RFC3339Nano.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
