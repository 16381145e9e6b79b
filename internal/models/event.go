package models

import (
	"context"
	"errors"
	"time"
)

// Private metadata keys recognized on calendar events.
const (
	KeyAvailabilityType = "availabilityType"
	KeyTherapySession   = "therapySession"
	KeyReason           = "reason"
	KeyBookingID        = "bookingId"
	KeySessionType      = "sessionType"
	KeyPatientEmail     = "patientEmail"
)

// Values stored under KeyAvailabilityType.
const (
	AvailableSlot = "AVAILABLE_SLOT"
	BlockedSlot   = "BLOCKED_SLOT"
	Vacation      = "VACATION"
	ModifiedDay   = "MODIFIED_DAY"
	ExtraSlot     = "EXTRA_SLOT"
)

// ErrEventNotFound is returned by a Store when the event to delete does not exist.
var ErrEventNotFound = errors.New("event not found")

// Event represents a standard calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID          string            // Unique identifier assigned by the store
	Summary     string            // Display title, never parsed for semantics except as a fallback
	Description string            // Detailed description of the event
	Start       time.Time         // Start of the event
	End         time.Time         // End of the event (exclusive)
	AllDay      bool              // Start/End are whole local days
	Organizer   string            // Organizer's email
	Attendees   []string          // List of attendee emails
	Private     map[string]string // Private metadata; the engine's semantic channel
	Source      string            // The source of the event (e.g., "google")
	UID         string            // The iCalendar UID
}

// Meta returns the private metadata value for key, or "" when absent.
func (e Event) Meta(key string) string {
	if e.Private == nil {
		return ""
	}
	return e.Private[key]
}

// Contains reports whether t lies in [Start, End).
func (e Event) Contains(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.End)
}

// Overlaps reports whether the event intersects [from, to).
func (e Event) Overlaps(from, to time.Time) bool {
	return e.Start.Before(to) && e.End.After(from)
}

// Store is the external calendar the engine reads availability from and writes
// marker events to.
type Store interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]Event, error)
	InsertEvent(ctx context.Context, event Event) (string, error)
	DeleteEvent(ctx context.Context, id string) error
	FindEventsByMetadata(ctx context.Context, key, value string, timeMin, timeMax time.Time) ([]Event, error)
}
