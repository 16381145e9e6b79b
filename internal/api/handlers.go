package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"therapycal/internal/availability"
	"therapycal/internal/models"
)

// GridSource serves derived availability grids.
type GridSource interface {
	Grid(ctx context.Context, days int, admin bool) []availability.Slot
	DaysAhead() int
}

// Handler serves the availability API.
type Handler struct {
	logger  *slog.Logger
	grids   GridSource
	manager *availability.Manager
	store   models.Store
	backoff availability.Backoff
}

// NewHandler creates a Handler. store is only read, to confirm bookings.
func NewHandler(logger *slog.Logger, grids GridSource, manager *availability.Manager, store models.Store, backoff availability.Backoff) *Handler {
	return &Handler{logger: logger, grids: grids, manager: manager, store: store, backoff: backoff}
}

type slotsResponse struct {
	Slots []availability.Slot `json:"slots"`
	Total int                 `json:"total"`
}

type slotRequest struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Reason string `json:"reason,omitempty"`
}

type rangeRequest struct {
	Date   string `json:"date"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// PatientAvailability returns the cells that can start a consultation or a therapy session.
func (h *Handler) PatientAvailability(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r)
	if !ok {
		return
	}
	writeSlots(w, availability.PatientView(h.grids.Grid(r.Context(), days, false)))
}

// AvailabilityForDuration returns the cells that can start a block of {duration} minutes.
func (h *Handler) AvailabilityForDuration(w http.ResponseWriter, r *http.Request) {
	minutes, err := strconv.Atoi(chi.URLParam(r, "duration"))
	if err != nil || minutes <= 0 || minutes > 24*60 {
		writeError(w, http.StatusBadRequest, "duration must be a positive number of minutes")
		return
	}
	days, ok := h.days(w, r)
	if !ok {
		return
	}
	writeSlots(w, availability.FilterForDuration(h.grids.Grid(r.Context(), days, false), minutes))
}

// AdminAvailability returns the raw grid including blocked and vacation cells.
func (h *Handler) AdminAvailability(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r)
	if !ok {
		return
	}
	writeSlots(w, availability.Annotate(h.grids.Grid(r.Context(), days, true)))
}

func (h *Handler) AddSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.AddAvailabilitySlot(r.Context(), req.Date, req.Time)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) RemoveSlot(w http.ResponseWriter, r *http.Request) {
	req := slotFromQuery(r)
	res, err := h.manager.RemoveAvailabilitySlot(r.Context(), req.Date, req.Time)
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) BlockSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.BlockTimeSlot(r.Context(), req.Date, req.Time, req.Reason)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) UnblockSlot(w http.ResponseWriter, r *http.Request) {
	req := slotFromQuery(r)
	res, err := h.manager.UnblockTimeSlot(r.Context(), req.Date, req.Time)
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) BlockDay(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.BlockEntireDay(r.Context(), req.Date, req.Reason)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) BlockVacation(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.BlockVacation(r.Context(), req.From, req.To, req.Reason)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) AddExtra(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.AddExtraTimeSlot(r.Context(), req.Date, req.From, req.To)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) ModifyDay(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.manager.ModifyWorkingDay(r.Context(), req.Date, req.From, req.To, req.Reason)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) RemoveMarker(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.RemoveMarker(r.Context(), chi.URLParam(r, "eventID"))
	h.respond(w, http.StatusOK, res, err)
}

// BookSession books a consultation or therapy session.
func (h *Handler) BookSession(w http.ResponseWriter, r *http.Request) {
	var req availability.BookingRequest
	if !decode(w, r, &req) {
		return
	}
	booking, err := h.manager.BookSession(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// WaitForBooking blocks until a booking is readable from the store.
func (h *Handler) WaitForBooking(w http.ResponseWriter, r *http.Request) {
	at, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC3339 timestamp")
		return
	}
	ev, err := availability.WaitForBooking(r.Context(), h.store, chi.URLParam(r, "bookingID"), at, h.backoff)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"eventId": ev.ID,
		"start":   ev.Start,
		"end":     ev.End,
		"summary": ev.Summary,
	})
}

func (h *Handler) days(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return h.grids.DaysAhead(), true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return 0, false
	}
	return days, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, res availability.Result, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, status, res)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, availability.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, availability.ErrSlotTaken), errors.Is(err, availability.ErrSlotLeased),
		errors.Is(err, availability.ErrWideMarker):
		return http.StatusConflict
	case errors.Is(err, availability.ErrNotVisible):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func slotFromQuery(r *http.Request) slotRequest {
	q := r.URL.Query()
	return slotRequest{Date: q.Get("date"), Time: q.Get("time")}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeSlots(w http.ResponseWriter, slots []availability.Slot) {
	writeJSON(w, http.StatusOK, slotsResponse{Slots: slots, Total: len(slots)})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
