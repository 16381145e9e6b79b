package availability

import (
	"strings"

	"therapycal/internal/models"
)

const (
	reasonAvailable  = "Available for booking"
	reasonBlocked    = "Blocked"
	reasonVacation   = "Vacation"
	reasonModified   = "Modified working hours"
	reasonExtra      = "Extra time slot"
	reasonSession    = "Patient Session"
	reasonNoSignal   = "Not available"
	blockedSummaryPf = "Blocked:"
)

// Classifier turns calendar events into classifications. Only private metadata
// is authoritative; the summary and attendee checks are opt-in fallbacks for
// sessions booked before the therapySession flag existed.
type Classifier struct {
	// SessionMarkers are case-insensitive substrings of a summary that mark a
	// patient session.
	SessionMarkers []string
	// AttendeeFallback treats any non-organizer attendee with an email address
	// as a patient session. Foreign meetings will be misread as bookings.
	AttendeeFallback bool
}

// Classify reports what ev says about availability. ok is false for foreign
// events that carry no signal.
func (c Classifier) Classify(ev models.Event) (cl Classification, ok bool) {
	cl.EventID = ev.ID

	switch ev.Meta(models.KeyAvailabilityType) {
	case models.AvailableSlot:
		cl.Available = true
		cl.Type = TypeAvailable
		cl.Reason = orDefault(ev.Meta(models.KeyReason), reasonAvailable)
		return cl, true
	case models.BlockedSlot:
		cl.Type = TypeBlocked
		cl.Reason = blockedReason(ev)
		return cl, true
	case models.Vacation:
		cl.Type = TypeVacation
		cl.Reason = reasonVacation
		return cl, true
	case models.ModifiedDay:
		cl.Available = true
		cl.Type = TypeModified
		cl.Reason = reasonModified
		return cl, true
	case models.ExtraSlot:
		cl.Available = true
		cl.Type = TypeAvailable
		cl.Reason = orDefault(ev.Meta(models.KeyReason), reasonExtra)
		return cl, true
	}

	if c.isSession(ev) {
		cl.Type = TypeBooked
		cl.Reason = reasonSession
		return cl, true
	}
	return Classification{}, false
}

func (c Classifier) isSession(ev models.Event) bool {
	if strings.EqualFold(ev.Meta(models.KeyTherapySession), "true") {
		return true
	}
	summary := strings.ToLower(ev.Summary)
	for _, m := range c.SessionMarkers {
		if m != "" && strings.Contains(summary, strings.ToLower(m)) {
			return true
		}
	}
	if c.AttendeeFallback {
		for _, a := range ev.Attendees {
			if strings.Contains(a, "@") && !strings.EqualFold(a, ev.Organizer) {
				return true
			}
		}
	}
	return false
}

// blockedReason prefers the metadata reason and strips a "<summary>:" or
// "Blocked:" prefix that older writers baked into it.
func blockedReason(ev models.Event) string {
	reason := strings.TrimSpace(ev.Meta(models.KeyReason))
	if reason == "" {
		reason = strings.TrimSpace(ev.Summary)
	}
	for _, prefix := range []string{ev.Summary + ":", blockedSummaryPf} {
		if prefix == ":" {
			continue
		}
		if len(reason) >= len(prefix) && strings.EqualFold(reason[:len(prefix)], prefix) {
			reason = strings.TrimSpace(reason[len(prefix):])
		}
	}
	return orDefault(reason, reasonBlocked)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
