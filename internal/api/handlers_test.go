package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapycal/internal/availability"
	"therapycal/internal/memstore"
	"therapycal/internal/models"
	"therapycal/internal/projection"
)

var cet = time.FixedZone("CET", 60*60)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, cet)

type testServer struct {
	store  *memstore.Store
	router http.Handler
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New(0)
	builder := availability.NewBuilder(availability.Classifier{}, cet)
	now := func() time.Time { return monday.Add(7 * time.Hour) }
	grids := projection.New(logger, store, builder, nil, projection.Options{
		DaysAhead: 14,
		Location:  cet,
		Now:       now,
	})
	manager := availability.NewManager(logger, store, builder, availability.WithClock(now))
	backoff := availability.Backoff{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
	h := NewHandler(logger, grids, manager, store, backoff)
	return &testServer{store: store, router: NewRouter(h, opts)}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeSlots(t *testing.T, rec *httptest.ResponseRecorder) slotsResponse {
	t.Helper()
	var resp slotsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func slotTimes(slots []availability.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Time)
	}
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminWorkflowAndPatientViews(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	for _, clock := range []string{"09:00", "09:30", "10:00", "10:30"} {
		rec := s.do(t, http.MethodPost, "/api/v1/admin/slots", `{"date":"2026-03-02","time":"`+clock+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := s.do(t, http.MethodPost, "/api/v1/admin/blocks", `{"date":"2026-03-02","time":"10:30","reason":"Supervision"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/availability?days=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	patient := decodeSlots(t, rec)
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, slotTimes(patient.Slots))
	assert.True(t, patient.Slots[0].CanAccommodateTherapy)
	assert.False(t, patient.Slots[2].CanAccommodateTherapy)

	rec = s.do(t, http.MethodGet, "/api/v1/availability/50?days=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"09:00", "09:30"}, slotTimes(decodeSlots(t, rec).Slots))

	rec = s.do(t, http.MethodGet, "/api/v1/admin/availability?days=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	admin := decodeSlots(t, rec)
	require.Len(t, admin.Slots, 4)
	assert.Equal(t, availability.StatusBlocked, admin.Slots[3].Status)
	assert.Equal(t, "Supervision", admin.Slots[3].Reason)

	rec = s.do(t, http.MethodDelete, "/api/v1/admin/blocks?date=2026-03-02&time=10:30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/admin/blocks?date=2026-03-02&time=10:30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res availability.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, availability.MsgAlreadyGone, res.Message)
}

func TestDayMarkersRoundTrip(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, http.MethodPost, "/api/v1/admin/vacations", `{"from":"2026-03-03","to":"2026-03-04","reason":"Spring break"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var res availability.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.NotEmpty(t, res.EventID)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/availability?days=3", "")
	admin := decodeSlots(t, rec)
	assert.Len(t, admin.Slots, 2*availability.SlotsPerDay)

	rec = s.do(t, http.MethodDelete, "/api/v1/admin/markers/"+res.EventID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.store.Len())

	for _, body := range []struct{ path, json string }{
		{"/api/v1/admin/days/block", `{"date":"2026-03-05","reason":"Conference"}`},
		{"/api/v1/admin/extra", `{"date":"2026-03-07","from":"10:00","to":"12:00"}`},
		{"/api/v1/admin/days/modify", `{"date":"2026-03-06","from":"08:00","to":"12:00","reason":"Short day"}`},
	} {
		rec = s.do(t, http.MethodPost, body.path, body.json)
		assert.Equal(t, http.StatusCreated, rec.Code, body.path)
	}
	assert.Equal(t, 3, s.store.Len())
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	for _, clock := range []string{"09:00", "09:30"} {
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/admin/slots", `{"date":"2026-03-02","time":"`+clock+`"}`).Code)
	}

	body := `{"date":"2026-03-02","time":"09:00","kind":"therapy","patientEmail":"p@example.com","patientName":"Ana"}`
	rec := s.do(t, http.MethodPost, "/api/v1/bookings", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking availability.Booking
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&booking))

	rec = s.do(t, http.MethodPost, "/api/v1/bookings", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/bookings/"+booking.ID+"/wait?start="+url.QueryEscape(booking.Start.Format(time.RFC3339)), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), booking.EventID)

	rec = s.do(t, http.MethodGet, "/api/v1/bookings/unknown/wait?start="+url.QueryEscape(booking.Start.Format(time.RFC3339)), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/availability?days=1", "")
	assert.Empty(t, decodeSlots(t, rec).Slots)
}

func TestCellDeleteUnderDayBlockConflicts(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, http.MethodPost, "/api/v1/admin/days/block", `{"date":"2026-03-02","reason":"Conference"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/admin/blocks?date=2026-03-02&time=12:00", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, s.store.Len())
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	cases := []struct {
		method, target, body string
	}{
		{http.MethodPost, "/api/v1/admin/slots", `{"date":"2026-03-02","time":"09:15"}`},
		{http.MethodPost, "/api/v1/admin/slots", `{"date":"tomorrow","time":"09:00"}`},
		{http.MethodPost, "/api/v1/admin/slots", `not json`},
		{http.MethodPost, "/api/v1/admin/vacations", `{"from":"2026-03-05","to":"2026-03-01"}`},
		{http.MethodPost, "/api/v1/bookings", `{"date":"2026-03-02","time":"09:00","kind":"massage","patientEmail":"p@example.com"}`},
		{http.MethodGet, "/api/v1/availability?days=-1", ""},
		{http.MethodGet, "/api/v1/availability/abc", ""},
		{http.MethodGet, "/api/v1/bookings/x/wait?start=yesterday", ""},
		{http.MethodPost, "/api/v1/bookings", `{"date":"2026-03-01","time":"09:00","kind":"therapy","patientEmail":"p@example.com"}`},
	}
	for _, tc := range cases {
		rec := s.do(t, tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s %s %s", tc.method, tc.target, tc.body)
	}
}

func TestAdminRoutesRequireBasicAuth(t *testing.T) {
	s := newTestServer(t, RouterOptions{AdminUser: "therapist", AdminPassword: "secret"})

	rec := s.do(t, http.MethodGet, "/api/v1/admin/availability", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/availability", nil)
	req.SetBasicAuth("therapist", "secret")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/availability", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(availability.ErrStore))
	assert.Equal(t, http.StatusConflict, statusFor(availability.ErrSlotLeased))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("%w: remove marker x instead", availability.ErrWideMarker)))
	assert.Equal(t, http.StatusBadGateway, statusFor(models.ErrEventNotFound))
}
