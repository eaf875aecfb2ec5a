package models

import "time"

type EventKind string

const (
	EventOpened            EventKind = "opened"
	EventOpenFailed        EventKind = "open_failed"
	EventSkippedUnreliable EventKind = "skipped_unreliable"
	EventIncomplete        EventKind = "incomplete"
	EventStopLoss          EventKind = "stop_loss"
	EventClosed            EventKind = "closed"
	EventCloseFailed       EventKind = "close_failed"
	EventTickError         EventKind = "tick_error"
)

// Event: запись побочного канала оркестратора, только для аудита.
type Event struct {
	ID      string
	Kind    EventKind
	PairID  string
	Message string
	Data    map[string]any
	At      time.Time
}
