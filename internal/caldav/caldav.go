package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"therapycal/internal/models"
)

const (
	// ICloudEndpoint is used when no endpoint is configured.
	ICloudEndpoint = "https://caldav.icloud.com/"

	// propMeta carries one "key=value" pair of private metadata. iCalendar
	// property names are case-insensitive, so keys live in the value.
	propMeta = "X-THERAPYCAL-META"
	prodID   = "-//therapycal//EN"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "therapycal/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient is an event store backed by one CalDAV calendar collection.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
	loc          *time.Location
	limit        int
}

// Options configures a CalDAVClient.
type Options struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
	Location     *time.Location
	ListLimit    int
}

// NewClient creates and initializes a new CalDAVClient.
func NewClient(ctx context.Context, logger *slog.Logger, opts Options) (*CalDAVClient, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = ICloudEndpoint
	}
	transport := &customTransport{
		Username:  opts.Username,
		Password:  opts.Password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	caldavClient, err := caldav.NewClient(httpClient, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	c := newClient(logger, caldavClient, opts)

	logger.Info("Finding CalDAV calendar", "calendarName", opts.CalendarName)
	calendarPath, err := c.findCalendar(ctx, opts.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", opts.CalendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

func newClient(logger *slog.Logger, cc *caldav.Client, opts Options) *CalDAVClient {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = 1000
	}
	return &CalDAVClient{
		caldavClient: cc,
		logger:       logger,
		loc:          opts.Location,
		limit:        opts.ListLimit,
	}
}

// ListEvents runs a calendar-query for VEVENTs overlapping [timeMin, timeMax).
func (c *CalDAVClient) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: timeMin.UTC(),
				End:   timeMax.UTC(),
			}},
		},
	}
	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range c.fromICal(obj.Path, obj.Data) {
			if ev.Overlaps(timeMin, timeMax) {
				events = append(events, ev)
			}
		}
	}
	sortByStart(events)
	if len(events) > c.limit {
		events = events[:c.limit]
	}
	c.logger.Debug("Fetched CalDAV events", "count", len(events), "calendar", c.calendarPath)
	return events, nil
}

// FindEventsByMetadata filters ListEvents client-side; servers disagree on
// text-match support for X- properties.
func (c *CalDAVClient) FindEventsByMetadata(ctx context.Context, key, value string, timeMin, timeMax time.Time) ([]models.Event, error) {
	all, err := c.ListEvents(ctx, timeMin, timeMax)
	if err != nil {
		return nil, err
	}
	var out []models.Event
	for _, ev := range all {
		if ev.Meta(key) == value {
			out = append(out, ev)
		}
	}
	return out, nil
}

// InsertEvent stores ev as a new calendar object and returns its path as the id.
func (c *CalDAVClient) InsertEvent(ctx context.Context, ev models.Event) (string, error) {
	if ev.UID == "" {
		ev.UID = GenerateUID()
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, c.toICal(ev))

	objectPath := path.Join(c.calendarPath, ev.UID+".ics")
	obj, err := c.caldavClient.PutCalendarObject(ctx, objectPath, cal)
	if err != nil {
		return "", fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	c.logger.Debug("Created CalDAV event", "summary", ev.Summary, "path", obj.Path)
	if obj.Path != "" {
		return obj.Path, nil
	}
	return objectPath, nil
}

// DeleteEvent removes the calendar object at id, the server path returned by
// InsertEvent and ListEvents.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, id string) error {
	if err := c.caldavClient.RemoveAll(ctx, id); err != nil {
		if isGone(err) {
			return models.ErrEventNotFound
		}
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	c.logger.Debug("Deleted CalDAV event", "path", id)
	return nil
}

// isGone reports a 404 or 410 response. go-webdav keeps its HTTPError type
// internal, but its message always starts with the status code.
func isGone(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "404 ") || strings.HasPrefix(msg, "410 ")
}

// toICal converts an internal Event model to an ical.Component (VEvent).
func (c *CalDAVClient) toICal(event models.Event) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, event.UID)
	ve.Props.SetText(ical.PropSummary, event.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	if event.AllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, event.Start.In(c.loc))
		ve.Props.SetDate(ical.PropDateTimeEnd, event.End.In(c.loc))
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	}

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Organizer != "" {
		p := ical.NewProp(ical.PropOrganizer)
		p.SetText(fmt.Sprintf("mailto:%s", event.Organizer))
		ve.Props.Add(p)
	}
	for _, attendee := range event.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(fmt.Sprintf("mailto:%s", attendee))
		ve.Props.Add(p)
	}
	for _, key := range sortedKeys(event.Private) {
		p := ical.NewProp(propMeta)
		p.SetText(key + "=" + event.Private[key])
		ve.Props.Add(p)
	}
	return ve
}

// fromICal converts every VEVENT of a calendar object into internal events.
func (c *CalDAVClient) fromICal(objectPath string, cal *ical.Calendar) []models.Event {
	var out []models.Event
	for _, ve := range cal.Events() {
		start, err := ve.DateTimeStart(c.loc)
		if err != nil {
			c.logger.Warn("Skipping CalDAV event without start", "path", objectPath, "error", err)
			continue
		}
		end, err := ve.DateTimeEnd(c.loc)
		if err != nil || end.IsZero() {
			end = start
		}

		ev := models.Event{
			ID:     objectPath,
			Start:  start,
			End:    end,
			Source: "caldav",
		}
		if p := ve.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
			ev.AllDay = true
			if !end.After(start) {
				ev.End = start.AddDate(0, 0, 1)
			}
		}
		if p := ve.Props.Get(ical.PropUID); p != nil {
			ev.UID = p.Value
		}
		if p := ve.Props.Get(ical.PropSummary); p != nil {
			ev.Summary, _ = p.Text()
		}
		if p := ve.Props.Get(ical.PropDescription); p != nil {
			ev.Description, _ = p.Text()
		}
		if p := ve.Props.Get(ical.PropOrganizer); p != nil {
			ev.Organizer = stripMailto(p.Value)
		}
		for _, p := range ve.Props.Values(ical.PropAttendee) {
			ev.Attendees = append(ev.Attendees, stripMailto(p.Value))
		}
		for _, p := range ve.Props.Values(propMeta) {
			text, _ := p.Text()
			key, value, ok := strings.Cut(text, "=")
			if !ok || key == "" {
				continue
			}
			if ev.Private == nil {
				ev.Private = make(map[string]string)
			}
			ev.Private[key] = value
		}
		out = append(out, ev)
	}
	return out
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}

func sortByStart(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stripMailto(v string) string {
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}
