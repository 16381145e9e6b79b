package availability

import (
	"context"
	"fmt"
	"time"

	"therapycal/internal/models"
)

// Backoff bounds a polling loop.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
}

// DefaultBackoff covers the few seconds the calendar API usually needs before
// a fresh insert shows up in filtered queries.
var DefaultBackoff = Backoff{Attempts: 5, Initial: 500 * time.Millisecond, Max: 4 * time.Second, Factor: 2}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if b.Max > 0 && d > b.Max {
			return b.Max
		}
	}
	return d
}

// WaitForBooking polls the store until the event carrying bookingID is
// visible around at, or returns ErrNotVisible after the last attempt.
func WaitForBooking(ctx context.Context, store models.Store, bookingID string, at time.Time, b Backoff) (models.Event, error) {
	if b.Attempts <= 0 {
		b = DefaultBackoff
	}
	from, to := at.Add(-24*time.Hour), at.Add(24*time.Hour)
	var lastErr error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		found, err := store.FindEventsByMetadata(ctx, models.KeyBookingID, bookingID, from, to)
		if err == nil && len(found) > 0 {
			return found[0], nil
		}
		lastErr = err
		if attempt == b.Attempts-1 {
			break
		}
		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.Event{}, ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr != nil {
		return models.Event{}, fmt.Errorf("%w: %w", ErrNotVisible, lastErr)
	}
	return models.Event{}, ErrNotVisible
}
