package availability

import (
	"errors"
	"fmt"
	"time"
)

const (
	// SlotLength is the size of one grid cell.
	SlotLength = 30 * time.Minute
	// SlotsPerDay is the number of cells from 00:00 to 23:30.
	SlotsPerDay = 48

	// ConsultationMinutes and TherapyMinutes are the two session lengths offered.
	ConsultationMinutes = 30
	TherapyMinutes      = 50

	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	ErrStore        = errors.New("event store rejected the request")
	ErrInvalidInput = errors.New("invalid input")
	ErrSlotTaken    = errors.New("slot is no longer available")
	ErrSlotLeased   = errors.New("slot is being booked by someone else")
	ErrNotVisible   = errors.New("booking not visible in event store yet")
	ErrWideMarker   = errors.New("cell is covered by a marker wider than the cell")
)

// EventType is the semantic kind of an event after classification.
type EventType string

const (
	TypeAvailable EventType = "available"
	TypeBlocked   EventType = "blocked"
	TypeVacation  EventType = "vacation"
	TypeBooked    EventType = "booked"
	TypeModified  EventType = "modified"
	TypeDefault   EventType = "default"
)

// Status is the state of a single grid cell.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusBlocked     Status = "blocked"
	StatusVacation    Status = "vacation"
	StatusBooked      Status = "booked"
	StatusModified    Status = "modified"
	StatusUnavailable Status = "unavailable"
)

// Classification is what one event says about the time it covers.
type Classification struct {
	Available bool      `json:"available"`
	Reason    string    `json:"reason"`
	Type      EventType `json:"eventType"`
	EventID   string    `json:"eventId,omitempty"`
}

// Status maps the classification onto a slot status.
func (c Classification) Status() Status {
	switch c.Type {
	case TypeAvailable:
		return StatusAvailable
	case TypeBlocked:
		return StatusBlocked
	case TypeVacation:
		return StatusVacation
	case TypeBooked:
		return StatusBooked
	case TypeModified:
		return StatusModified
	default:
		return StatusUnavailable
	}
}

// Slot is one derived half-hour cell. Slots are computed per request and never stored.
type Slot struct {
	Date                       string    `json:"date"`
	Time                       string    `json:"time"`
	Start                      time.Time `json:"start"`
	End                        time.Time `json:"end"`
	Status                     Status    `json:"status"`
	Reason                     string    `json:"reason"`
	SourceEventID              string    `json:"sourceEventId,omitempty"`
	CanAccommodateConsultation bool      `json:"canAccommodateConsultation"`
	CanAccommodateTherapy      bool      `json:"canAccommodateTherapy"`
}

// Bookable reports whether a session may occupy this cell.
func (s Slot) Bookable() bool {
	return s.Status == StatusAvailable || s.Status == StatusModified
}

func (s Slot) key() string {
	return s.Date + " " + s.Time
}

// SessionKind selects the session length of a booking.
type SessionKind string

const (
	Consultation SessionKind = "consultation"
	Therapy      SessionKind = "therapy"
)

// Minutes returns the session length.
func (k SessionKind) Minutes() (int, error) {
	switch k {
	case Consultation:
		return ConsultationMinutes, nil
	case Therapy:
		return TherapyMinutes, nil
	default:
		return 0, fmt.Errorf("%w: unknown session kind %q", ErrInvalidInput, k)
	}
}

// Clock is a wall-clock offset from local midnight, aligned to the grid.
type Clock int

// ParseClock parses "HH:MM" and rejects values off the half-hour grid.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalidInput, s)
	}
	if t.Minute()%30 != 0 {
		return 0, fmt.Errorf("%w: time %q is not on the half-hour grid", ErrInvalidInput, s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// ParseEndClock is like ParseClock but also accepts "24:00" as end of day.
func ParseEndClock(s string) (Clock, error) {
	if s == "24:00" {
		return Clock(24 * 60), nil
	}
	return ParseClock(s)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// ParseDate parses "YYYY-MM-DD" as local midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidInput, s)
	}
	return d, nil
}

// At returns the instant of clock c on the local day containing day.
// The wall clock is used, so DST transition days still get their 48 labels.
func At(day time.Time, c Clock) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
