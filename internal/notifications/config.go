package notifications

import (
	"fmt"
	"os"
	"strings"

	"github.com/y0ug/detreg/internal/registry"
)

// DefaultEvents are the registry events notified when NOTIFY_EVENTS is unset.
var DefaultEvents = []registry.EventType{
	registry.EventDetectionReported,
	registry.EventDetectionConfirmed,
}

// NotificationConfig holds the notification-related configuration.
type NotificationConfig struct {
	ShoutrrrURLs []string
	Events       []registry.EventType
}

// Enabled reports whether any notification service is configured.
func (c *NotificationConfig) Enabled() bool {
	return len(c.ShoutrrrURLs) > 0
}

// LoadNotificationConfig loads notification configuration from environment variables.
// SHOUTRRR_URLS is optional; without it notifications are disabled.
func LoadNotificationConfig() (*NotificationConfig, error) {
	config := &NotificationConfig{
		ShoutrrrURLs: parseList(os.Getenv("SHOUTRRR_URLS")),
		Events:       DefaultEvents,
	}

	if eventsStr := os.Getenv("NOTIFY_EVENTS"); eventsStr != "" {
		events, err := parseEvents(eventsStr)
		if err != nil {
			return nil, err
		}
		config.Events = events
	}

	return config, nil
}

func parseEvents(s string) ([]registry.EventType, error) {
	var events []registry.EventType
	for _, name := range parseList(s) {
		event := registry.EventType(strings.ToLower(name))
		switch event {
		case registry.EventReporterAdded, registry.EventDetectionReported,
			registry.EventDetectionConfirmed, registry.EventDenied:
			events = append(events, event)
		default:
			return nil, fmt.Errorf("unknown event in NOTIFY_EVENTS: %s", name)
		}
	}
	return events, nil
}

// parseList parses a comma-separated list, dropping blank entries.
func parseList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
