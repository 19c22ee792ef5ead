// Package events carries pipeline notifications over an embedded NATS bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Subjects published by the pipeline
const (
	SubjectSnapshotCaptured  = "ppe.snapshot.captured"
	SubjectViolationDetected = "ppe.violation.detected"
	SubjectCameraStarted     = "ppe.camera.started"
	SubjectCameraStopped     = "ppe.camera.stopped"
	SubjectFilterChanged     = "ppe.filter.changed"

	// SubjectAll matches every subject above
	SubjectAll = "ppe.>"
)

// EventType mirrors the subject without its prefix
type EventType string

const (
	EventSnapshot      EventType = "snapshot"
	EventViolation     EventType = "violation"
	EventCameraStarted EventType = "camera_started"
	EventCameraStopped EventType = "camera_stopped"
	EventFilterChanged EventType = "filter_changed"
)

// Detection is the event form of one detection
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Event is the payload of every subject
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	Source     string      `json:"source,omitempty"`
	Snapshot   string      `json:"snapshot,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
	Violations int         `json:"violations,omitempty"`
	Filter     string      `json:"filter,omitempty"`
}

// New creates an event with a fresh id and the current time
func New(t EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
	}
}

// Subject returns the subject an event type is published on
func Subject(t EventType) string {
	switch t {
	case EventSnapshot:
		return SubjectSnapshotCaptured
	case EventViolation:
		return SubjectViolationDetected
	case EventCameraStarted:
		return SubjectCameraStarted
	case EventCameraStopped:
		return SubjectCameraStopped
	case EventFilterChanged:
		return SubjectFilterChanged
	default:
		return "ppe." + string(t)
	}
}

// Emit publishes ev on its subject. A nil publisher drops the event.
func Emit(p Publisher, ev Event) error {
	if p == nil {
		return nil
	}
	return p.Publish(Subject(ev.Type), ev)
}
