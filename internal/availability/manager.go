package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"therapycal/internal/lease"
	"therapycal/internal/models"
)

var tracer = otel.Tracer("therapycal.internal.availability")

// MsgAlreadyGone is reported when a delete finds nothing to remove.
const MsgAlreadyGone = "already not available"

// Invalidator drops cached projections after a successful write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Recorder receives mutation outcomes for metrics.
type Recorder interface {
	ObserveMutation(op, status string)
}

// Result is the outcome of a successful mutation.
type Result struct {
	EventID string `json:"eventId,omitempty"`
	Message string `json:"message"`
}

// Manager writes marker events to the store and books sessions.
type Manager struct {
	store       models.Store
	builder     Builder
	loc         *time.Location
	logger      *slog.Logger
	leaser      Leaser
	leaseTTL    time.Duration
	invalidator Invalidator
	recorder    Recorder
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLeaser sets the leaser used by BookSession.
func WithLeaser(l Leaser, ttl time.Duration) Option {
	return func(m *Manager) {
		m.leaser = l
		if ttl > 0 {
			m.leaseTTL = ttl
		}
	}
}

// WithInvalidator sets the cache invalidated after writes.
func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) { m.invalidator = inv }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithClock sets the time source BookSession compares start times against.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new Manager.
func NewManager(logger *slog.Logger, store models.Store, builder Builder, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    store,
		builder:  builder,
		loc:      builder.Resolver.location(),
		logger:   logger,
		leaseTTL: 2 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.leaser == nil {
		m.leaser = lease.NewMemory()
	}
	return m
}

// Location returns the practice timezone.
func (m *Manager) Location() *time.Location { return m.loc }

// AddAvailabilitySlot opens one cell for booking.
func (m *Manager) AddAvailabilitySlot(ctx context.Context, date, clock string) (Result, error) {
	start, err := m.cell(date, clock)
	if err != nil {
		return Result{}, err
	}
	ev := marker(models.AvailableSlot, "Available", "", start, start.Add(SlotLength))
	return m.insert(ctx, "add_availability", ev, "Slot is now available")
}

// RemoveAvailabilitySlot deletes the availability and extra-time markers of
// one cell. A marker reaching past the cell is left alone and reported with
// ErrWideMarker.
func (m *Manager) RemoveAvailabilitySlot(ctx context.Context, date, clock string) (Result, error) {
	start, err := m.cell(date, clock)
	if err != nil {
		return Result{}, err
	}
	return m.deleteMarkers(ctx, "remove_availability", start, start.Add(SlotLength), "Slot removed", models.AvailableSlot, models.ExtraSlot)
}

// BlockTimeSlot blocks one cell.
func (m *Manager) BlockTimeSlot(ctx context.Context, date, clock, reason string) (Result, error) {
	start, err := m.cell(date, clock)
	if err != nil {
		return Result{}, err
	}
	ev := marker(models.BlockedSlot, blockedSummary(reason), reason, start, start.Add(SlotLength))
	return m.insert(ctx, "block_slot", ev, "Slot blocked")
}

// UnblockTimeSlot deletes the block markers of one cell. A cell that is not
// blocked is reported as success. Day blocks are removed with RemoveMarker.
func (m *Manager) UnblockTimeSlot(ctx context.Context, date, clock string) (Result, error) {
	start, err := m.cell(date, clock)
	if err != nil {
		return Result{}, err
	}
	return m.deleteMarkers(ctx, "unblock_slot", start, start.Add(SlotLength), "Slot unblocked", models.BlockedSlot)
}

// BlockEntireDay blocks a whole local day.
func (m *Manager) BlockEntireDay(ctx context.Context, date, reason string) (Result, error) {
	day, err := ParseDate(date, m.loc)
	if err != nil {
		return Result{}, err
	}
	ev := marker(models.BlockedSlot, blockedSummary(reason), reason, day, day.AddDate(0, 0, 1))
	ev.AllDay = true
	return m.insert(ctx, "block_day", ev, "Day blocked")
}

// BlockVacation marks the local days from..to inclusive as vacation.
func (m *Manager) BlockVacation(ctx context.Context, from, to, reason string) (Result, error) {
	first, err := ParseDate(from, m.loc)
	if err != nil {
		return Result{}, err
	}
	last, err := ParseDate(to, m.loc)
	if err != nil {
		return Result{}, err
	}
	if last.Before(first) {
		return Result{}, fmt.Errorf("%w: vacation ends before it starts", ErrInvalidInput)
	}
	summary := "Vacation"
	if reason != "" {
		summary += ": " + reason
	}
	ev := marker(models.Vacation, summary, reason, first, last.AddDate(0, 0, 1))
	ev.AllDay = true
	return m.insert(ctx, "block_vacation", ev, "Vacation saved")
}

// AddExtraTimeSlot opens [from, to) on date outside the usual hours.
func (m *Manager) AddExtraTimeSlot(ctx context.Context, date, from, to string) (Result, error) {
	start, end, err := m.span(date, from, to)
	if err != nil {
		return Result{}, err
	}
	ev := marker(models.ExtraSlot, "Extra slot", "", start, end)
	return m.insert(ctx, "add_extra", ev, "Extra time added")
}

// ModifyWorkingDay sets replacement working hours [from, to) for date.
func (m *Manager) ModifyWorkingDay(ctx context.Context, date, from, to, reason string) (Result, error) {
	start, end, err := m.span(date, from, to)
	if err != nil {
		return Result{}, err
	}
	ev := marker(models.ModifiedDay, "Modified working hours", reason, start, end)
	return m.insert(ctx, "modify_day", ev, "Working hours changed")
}

// RemoveMarker deletes a marker event by id, such as a day block or vacation.
func (m *Manager) RemoveMarker(ctx context.Context, eventID string) (Result, error) {
	ctx, span := tracer.Start(ctx, "availability.remove_marker")
	defer span.End()
	span.SetAttributes(attribute.String("therapycal.event_id", eventID))

	if eventID == "" {
		return Result{}, fmt.Errorf("%w: event id required", ErrInvalidInput)
	}
	err := m.store.DeleteEvent(ctx, eventID)
	switch {
	case errors.Is(err, models.ErrEventNotFound):
		m.observe("remove_marker", "noop")
		return Result{EventID: eventID, Message: MsgAlreadyGone}, nil
	case err != nil:
		return Result{}, m.fail(span, "remove_marker", err)
	}
	m.written(ctx, "remove_marker")
	return Result{EventID: eventID, Message: "Marker removed"}, nil
}

func (m *Manager) insert(ctx context.Context, op string, ev models.Event, msg string) (Result, error) {
	ctx, span := tracer.Start(ctx, "availability."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("therapycal.availability_type", ev.Meta(models.KeyAvailabilityType)),
		attribute.String("therapycal.start", ev.Start.Format(time.RFC3339)),
	)

	id, err := m.store.InsertEvent(ctx, ev)
	if err != nil {
		return Result{}, m.fail(span, op, err)
	}
	m.logger.Info("Marker event created.", "op", op, "id", id, "start", ev.Start, "end", ev.End)
	m.written(ctx, op)
	return Result{EventID: id, Message: msg}, nil
}

// deleteMarkers removes markers of the given kinds that lie inside [from, to).
// If a marker of those kinds reaches past the range nothing is deleted, since
// the cell would keep its state anyway.
func (m *Manager) deleteMarkers(ctx context.Context, op string, from, to time.Time, msg string, kinds ...string) (Result, error) {
	ctx, span := tracer.Start(ctx, "availability."+op)
	defer span.End()
	span.SetAttributes(attribute.String("therapycal.start", from.Format(time.RFC3339)))

	var inside, wide []models.Event
	for _, kind := range kinds {
		found, err := m.store.FindEventsByMetadata(ctx, models.KeyAvailabilityType, kind, from, to)
		if err != nil {
			return Result{}, m.fail(span, op, err)
		}
		for _, ev := range found {
			switch {
			case !ev.Overlaps(from, to):
			case ev.AllDay || ev.Start.Before(from) || ev.End.After(to):
				wide = append(wide, ev)
			default:
				inside = append(inside, ev)
			}
		}
	}
	if len(wide) > 0 {
		ids := make([]string, 0, len(wide))
		for _, ev := range wide {
			ids = append(ids, ev.ID)
		}
		m.logger.Info("Cell is covered by a wider marker.", "op", op, "start", from, "markers", ids)
		m.observe(op, "refused")
		return Result{}, fmt.Errorf("%w: remove marker %s instead", ErrWideMarker, strings.Join(ids, ", "))
	}

	deleted := 0
	for _, ev := range inside {
		err := m.store.DeleteEvent(ctx, ev.ID)
		if errors.Is(err, models.ErrEventNotFound) {
			continue
		}
		if err != nil {
			return Result{}, m.fail(span, op, err)
		}
		deleted++
	}
	if deleted == 0 {
		m.logger.Debug("Nothing to delete.", "op", op, "start", from)
		m.observe(op, "noop")
		return Result{Message: MsgAlreadyGone}, nil
	}
	m.logger.Info("Marker events deleted.", "op", op, "count", deleted, "start", from)
	m.written(ctx, op)
	return Result{Message: msg}, nil
}

func (m *Manager) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.logger.Error("Event store write failed", "op", op, "error", err)
	m.observe(op, "error")
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func (m *Manager) written(ctx context.Context, op string) {
	m.observe(op, "ok")
	if m.invalidator == nil {
		return
	}
	if err := m.invalidator.Invalidate(ctx); err != nil {
		m.logger.Warn("Failed to invalidate availability cache", "op", op, "error", err)
	}
}

func (m *Manager) observe(op, status string) {
	if m.recorder != nil {
		m.recorder.ObserveMutation(op, status)
	}
}

func (m *Manager) cell(date, clock string) (time.Time, error) {
	day, err := ParseDate(date, m.loc)
	if err != nil {
		return time.Time{}, err
	}
	c, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return At(day, c), nil
}

func (m *Manager) span(date, from, to string) (time.Time, time.Time, error) {
	day, err := ParseDate(date, m.loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	cf, err := ParseClock(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	ct, err := ParseEndClock(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if ct <= cf {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s-%s is empty", ErrInvalidInput, from, to)
	}
	end := At(day.AddDate(0, 0, 1), 0)
	if ct < 24*60 {
		end = At(day, ct)
	}
	return At(day, cf), end, nil
}

func marker(kind, summary, reason string, start, end time.Time) models.Event {
	private := map[string]string{models.KeyAvailabilityType: kind}
	if reason != "" {
		private[models.KeyReason] = reason
	}
	return models.Event{
		Summary: summary,
		Start:   start,
		End:     end,
		Private: private,
	}
}

func blockedSummary(reason string) string {
	if reason == "" {
		return "Blocked"
	}
	return "Blocked: " + reason
}
