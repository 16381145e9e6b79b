package availability

import (
	"sort"
	"time"

	"therapycal/internal/models"
)

// GridOptions tunes which cells the builder emits.
type GridOptions struct {
	// IncludeUnavailable also emits blocked and vacation cells, for the admin calendar.
	IncludeUnavailable bool
}

// Builder derives the availability grid from a snapshot of events.
type Builder struct {
	Resolver Resolver
}

// NewBuilder wires a Builder for loc.
func NewBuilder(c Classifier, loc *time.Location) Builder {
	return Builder{Resolver: Resolver{Classifier: c, Location: loc}}
}

// Build walks daysAhead local days starting with the day containing now and
// returns the cells that carry an explicit signal, deduplicated by (date, time)
// and sorted ascending. Cells without a signal are omitted, not emitted as
// unavailable.
func (b Builder) Build(events []models.Event, now time.Time, daysAhead int, opts GridOptions) []Slot {
	loc := b.Resolver.location()
	today := midnight(now.In(loc))

	seen := make(map[string]struct{})
	out := make([]Slot, 0)
	for i := 0; i < daysAhead; i++ {
		day := today.AddDate(0, 0, i)
		dayEvents := eventsOverlapping(events, day, day.AddDate(0, 0, 1))
		if len(dayEvents) == 0 {
			continue
		}
		for c := Clock(0); c < SlotsPerDay*30; c += 30 {
			start := At(day, c)
			// Wall-clock times skipped by a DST jump do not exist.
			if start.Hour()*60+start.Minute() != int(c) {
				continue
			}
			cl := b.Resolver.resolveAt(dayEvents, start)
			if !emit(cl.Type, opts) {
				continue
			}
			s := Slot{
				Date:          day.Format(DateLayout),
				Time:          c.String(),
				Start:         start,
				End:           start.Add(SlotLength),
				Status:        cl.Status(),
				Reason:        cl.Reason,
				SourceEventID: cl.EventID,
			}
			if _, dup := seen[s.key()]; dup {
				continue
			}
			seen[s.key()] = struct{}{}
			out = append(out, s)
		}
	}
	SortSlots(out)
	return out
}

// SortSlots orders slots by (date, time).
func SortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date < slots[j].Date
		}
		return slots[i].Time < slots[j].Time
	})
}

func emit(t EventType, opts GridOptions) bool {
	switch t {
	case TypeAvailable, TypeModified, TypeBooked:
		return true
	case TypeBlocked, TypeVacation:
		return opts.IncludeUnavailable
	default:
		return false
	}
}

func eventsOverlapping(events []models.Event, from, to time.Time) []models.Event {
	var out []models.Event
	for _, ev := range events {
		if ev.Overlaps(from, to) {
			out = append(out, ev)
		}
	}
	return out
}
