package caldav

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapycal/internal/models"
)

var cet = time.FixedZone("CET", 60*60)

func testClient() *CalDAVClient {
	return newClient(discard(), nil, Options{Location: cet})
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wrap(comps ...*ical.Component) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Children = append(cal.Children, comps...)
	return cal
}

func TestTimedEventKeepsMetadataAndAttendees(t *testing.T) {
	c := testClient()
	in := models.Event{
		UID:       "u-1",
		Summary:   "Therapy Session - Ana",
		Start:     time.Date(2026, 3, 2, 9, 0, 0, 0, cet),
		End:       time.Date(2026, 3, 2, 9, 50, 0, 0, cet),
		Organizer: "me@practice.de",
		Attendees: []string{"p@example.com"},
		Private: map[string]string{
			models.KeyTherapySession: "true",
			models.KeyBookingID:      "b-1",
		},
	}

	out := c.fromICal("/cal/u-1.ics", wrap(c.toICal(in)))
	require.Len(t, out, 1)
	ev := out[0]
	assert.Equal(t, "/cal/u-1.ics", ev.ID)
	assert.Equal(t, "u-1", ev.UID)
	assert.Equal(t, in.Summary, ev.Summary)
	assert.True(t, ev.Start.Equal(in.Start))
	assert.True(t, ev.End.Equal(in.End))
	assert.False(t, ev.AllDay)
	assert.Equal(t, "me@practice.de", ev.Organizer)
	assert.Equal(t, []string{"p@example.com"}, ev.Attendees)
	assert.Equal(t, "b-1", ev.Meta(models.KeyBookingID))
	assert.Equal(t, "true", ev.Meta(models.KeyTherapySession))
}

func TestAllDayEventUsesPracticeMidnight(t *testing.T) {
	c := testClient()
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, cet)
	in := models.Event{
		UID:     "vac",
		Summary: "Vacation",
		Start:   day,
		End:     day.AddDate(0, 0, 2),
		AllDay:  true,
		Private: map[string]string{models.KeyAvailabilityType: models.Vacation},
	}

	out := c.fromICal("/cal/vac.ics", wrap(c.toICal(in)))
	require.Len(t, out, 1)
	assert.True(t, out[0].AllDay)
	assert.True(t, out[0].Start.Equal(day))
	assert.True(t, out[0].End.Equal(day.AddDate(0, 0, 2)))
	assert.Equal(t, models.Vacation, out[0].Meta(models.KeyAvailabilityType))
}

func TestMalformedMetadataIsIgnored(t *testing.T) {
	c := testClient()
	ve := c.toICal(models.Event{
		UID:   "x",
		Start: time.Date(2026, 3, 2, 9, 0, 0, 0, cet),
		End:   time.Date(2026, 3, 2, 9, 30, 0, 0, cet),
	})
	bad := ical.NewProp(propMeta)
	bad.SetText("no-separator")
	ve.Props.Add(bad)

	out := c.fromICal("/cal/x.ics", wrap(ve))
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Private)
}

func TestTransportSetsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "therapist", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "therapycal/1.0", r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	hc := &http.Client{Transport: &customTransport{Username: "therapist", Password: "secret", Transport: http.DefaultTransport}}
	resp, err := hc.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
}
