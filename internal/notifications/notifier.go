package notifications

import (
	"context"
	"fmt"

	"github.com/containrrr/shoutrrr/pkg/router"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/internal/registry"
)

type sender interface {
	Send(message string, params *types.Params) []error
}

// Notifier forwards registry events to Shoutrrr services.
type Notifier struct {
	sr     sender
	events map[registry.EventType]bool
	logger *logrus.Logger
}

// NewNotifier initializes a new Notifier with the configured Shoutrrr URLs.
func NewNotifier(config *NotificationConfig, logger *logrus.Logger) (*Notifier, error) {
	sr, err := router.New(nil, config.ShoutrrrURLs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create shoutrrr router: %w", err)
	}
	return newNotifier(sr, config.Events, logger), nil
}

func newNotifier(sr sender, events []registry.EventType, logger *logrus.Logger) *Notifier {
	n := &Notifier{
		sr:     sr,
		events: make(map[registry.EventType]bool, len(events)),
		logger: logger,
	}
	for _, e := range events {
		n.events[e] = true
	}
	return n
}

// Publish implements registry.EventSink. Send failures are logged only.
func (n *Notifier) Publish(ctx context.Context, event registry.Event) {
	if !n.events[event.Type] {
		return
	}
	title, message := formatEvent(event)
	n.Send(title, message)
}

// Send sends a notification message to all configured services.
func (n *Notifier) Send(title, message string) {
	params := types.Params{
		"title": title,
	}
	failed := 0
	for _, err := range n.sr.Send(message, &params) {
		if err != nil {
			failed++
			n.logger.WithError(err).Error("Failed to send notification")
		}
	}
	if failed == 0 {
		n.logger.WithField("title", title).Debug("Notification sent successfully")
	}
}

func formatEvent(e registry.Event) (title, message string) {
	switch e.Type {
	case registry.EventDetectionReported:
		return "Ransomware detection reported",
			fmt.Sprintf("File %s reported by %s at %s", e.Subject, e.Caller, e.Timestamp)
	case registry.EventDetectionConfirmed:
		return "Ransomware detection confirmed",
			fmt.Sprintf("File %s (detected at %s) confirmed by %s", e.Subject, e.Timestamp, e.Caller)
	case registry.EventReporterAdded:
		return "Trusted reporter added",
			fmt.Sprintf("%s added %s as a trusted reporter", e.Caller, e.Subject)
	case registry.EventDenied:
		return "Registry operation denied",
			fmt.Sprintf("%s by %s on %s denied: %s", e.Operation, e.Caller, e.Subject, e.Reason)
	default:
		return string(e.Type), fmt.Sprintf("%s %s %s", e.Operation, e.Caller, e.Subject)
	}
}
