package availability

import (
	"time"

	"therapycal/internal/models"
)

var cet = time.FixedZone("CET", 60*60)

// monday is 2026-03-02 00:00 in the practice timezone.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, cet)

func at(hhmm string) time.Time {
	c, err := ParseClock(hhmm)
	if err != nil {
		panic(err)
	}
	return At(monday, c)
}

func typed(id, kind, from, to string) models.Event {
	return models.Event{
		ID:      id,
		Start:   at(from),
		End:     at(to),
		Private: map[string]string{models.KeyAvailabilityType: kind},
	}
}

func session(id, from string, minutes int) models.Event {
	start := at(from)
	return models.Event{
		ID:      id,
		Summary: "Therapy Session",
		Start:   start,
		End:     start.Add(time.Duration(minutes) * time.Minute),
		Private: map[string]string{models.KeyTherapySession: "true"},
	}
}

func times(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Time)
	}
	return out
}
