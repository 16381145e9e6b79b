package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"therapycal/internal/lease"
	"therapycal/internal/models"
)

// Leaser grants short exclusive holds on slot keys.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// BookingRequest asks for a session starting at Date/Time.
type BookingRequest struct {
	Date         string      `json:"date"`
	Time         string      `json:"time"`
	Kind         SessionKind `json:"kind"`
	PatientEmail string      `json:"patientEmail"`
	PatientName  string      `json:"patientName"`
}

// Booking is a session written to the event store.
type Booking struct {
	ID      string      `json:"id"`
	EventID string      `json:"eventId"`
	Kind    SessionKind `json:"kind"`
	Start   time.Time   `json:"start"`
	End     time.Time   `json:"end"`
}

type heldLease struct {
	key, token string
}

// BookSession writes a patient session after leasing every covered cell and
// re-checking the live calendar, so two writers cannot both win the same slot.
func (m *Manager) BookSession(ctx context.Context, req BookingRequest) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "availability.book_session")
	defer span.End()

	minutes, err := req.Kind.Minutes()
	if err != nil {
		return nil, err
	}
	if !strings.Contains(req.PatientEmail, "@") {
		return nil, fmt.Errorf("%w: patient email required", ErrInvalidInput)
	}
	start, err := m.cell(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	if start.Before(m.now()) {
		return nil, fmt.Errorf("%w: %s %s has already started", ErrInvalidInput, req.Date, req.Time)
	}
	span.SetAttributes(
		attribute.String("therapycal.start", start.Format(time.RFC3339)),
		attribute.String("therapycal.session_kind", string(req.Kind)),
	)

	held, err := m.leaseCells(ctx, start, SlotsNeeded(minutes))
	if err != nil {
		m.observe("book_session", "leased")
		return nil, err
	}
	defer m.releaseCells(held)

	from := midnight(start)
	events, err := m.store.ListEvents(ctx, from, from.AddDate(0, 0, 2))
	if err != nil {
		return nil, m.fail(span, "book_session", err)
	}
	grid := m.builder.Build(events, from, 2, GridOptions{})
	if !CanAccommodate(grid, Slot{Start: start}, minutes) {
		m.observe("book_session", "conflict")
		return nil, ErrSlotTaken
	}

	b := &Booking{
		ID:    uuid.NewString(),
		Kind:  req.Kind,
		Start: start,
		End:   start.Add(time.Duration(minutes) * time.Minute),
	}
	ev := models.Event{
		Summary:   sessionSummary(req),
		Start:     b.Start,
		End:       b.End,
		Attendees: []string{req.PatientEmail},
		Private: map[string]string{
			models.KeyTherapySession: "true",
			models.KeyBookingID:      b.ID,
			models.KeySessionType:    string(req.Kind),
			models.KeyPatientEmail:   req.PatientEmail,
		},
	}
	id, err := m.store.InsertEvent(ctx, ev)
	if err != nil {
		return nil, m.fail(span, "book_session", err)
	}
	b.EventID = id
	m.logger.Info("Session booked.", "booking_id", b.ID, "event_id", id, "start", b.Start, "kind", req.Kind)
	m.written(ctx, "book_session")
	return b, nil
}

func (m *Manager) leaseCells(ctx context.Context, start time.Time, n int) ([]heldLease, error) {
	held := make([]heldLease, 0, n)
	for k := 0; k < n; k++ {
		key := start.Add(SlotLength * time.Duration(k)).UTC().Format(time.RFC3339)
		token, err := m.leaser.Acquire(ctx, key, m.leaseTTL)
		if err != nil {
			m.releaseCells(held)
			if errors.Is(err, lease.ErrHeld) {
				return nil, ErrSlotLeased
			}
			return nil, fmt.Errorf("failed to lease slot %s: %w", key, err)
		}
		held = append(held, heldLease{key: key, token: token})
	}
	return held, nil
}

func (m *Manager) releaseCells(held []heldLease) {
	// Release even when the request context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range held {
		if err := m.leaser.Release(ctx, h.key, h.token); err != nil {
			m.logger.Warn("Failed to release slot lease", "key", h.key, "error", err)
		}
	}
}

func sessionSummary(req BookingRequest) string {
	title := "Therapy Session"
	if req.Kind == Consultation {
		title = "Consultation"
	}
	if req.PatientName != "" {
		title += " - " + req.PatientName
	}
	return title
}
