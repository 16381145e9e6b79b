package availability

import (
	"time"

	"therapycal/internal/models"
)

// priority ranks overlapping classifications; the highest wins a cell.
var priority = map[EventType]int{
	TypeBooked:    5,
	TypeVacation:  4,
	TypeBlocked:   3,
	TypeAvailable: 2,
	TypeModified:  1,
}

// Resolver computes the status of a single cell.
type Resolver struct {
	Classifier Classifier
	Location   *time.Location
}

// NotAvailable is the result for a cell no event speaks about.
var NotAvailable = Classification{Available: false, Reason: reasonNoSignal, Type: TypeDefault}

// Resolve returns the classification for the cell starting at date+clock.
// Among overlapping classified events the priority table decides; equal
// priorities keep the first event in list order.
func (r Resolver) Resolve(events []models.Event, date time.Time, c Clock) Classification {
	return r.resolveAt(events, At(date.In(r.location()), c))
}

func (r Resolver) resolveAt(events []models.Event, t time.Time) Classification {
	best := NotAvailable
	bestRank := 0
	for _, ev := range events {
		if !ev.Contains(t) {
			continue
		}
		cl, ok := r.Classifier.Classify(ev)
		if !ok {
			continue
		}
		if rank := priority[cl.Type]; rank > bestRank {
			best, bestRank = cl, rank
		}
	}
	return best
}

func (r Resolver) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}
