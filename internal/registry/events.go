package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a registry event.
type EventType string

const (
	EventReporterAdded      EventType = "reporter_added"
	EventDetectionReported  EventType = "detection_reported"
	EventDetectionConfirmed EventType = "detection_confirmed"
	EventDenied             EventType = "denied"
)

// Operation names a registry mutation.
type Operation string

const (
	OpAddTrustedReporter Operation = "add_trusted_reporter"
	OpReportDetection    Operation = "report_detection"
	OpConfirmDetection   Operation = "confirm_detection"
)

// Event is published to every EventSink after a mutation is accepted or
// rejected. Subject is the reporter identity or the file hash the operation
// targets; Reason is only set on denied events.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Operation Operation `json:"operation"`
	Caller    string    `json:"caller"`
	Subject   string    `json:"subject"`
	Timestamp string    `json:"timestamp,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

func newEvent(typ EventType, op Operation, caller, subject string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Operation: op,
		Caller:    caller,
		Subject:   subject,
		Time:      time.Now().UTC(),
	}
}

// EventSink consumes registry events. Publish is called outside the
// registry lock and must not call back into the registry synchronously.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

func (f EventSinkFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(ctx, event)
		}
	}
}
