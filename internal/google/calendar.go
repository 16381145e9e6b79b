package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"therapycal/internal/models"
)

const (
	credentialsFile = "credentials.json"
	dateLayout      = "2006-01-02"
)

// CalendarClient is an event store backed by one Google Calendar.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
	loc        *time.Location
	limit      int64
}

// Options selects the calendar and how it is read.
type Options struct {
	CalendarID string
	Location   *time.Location
	// ListLimit caps one list call; no further pages are fetched.
	ListLimit int64
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// The accountName is used to find the token file written by the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName string, opts Options) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenFile(accountName))
	if err != nil {
		return nil, missingTokenError(accountName, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return NewWithService(logger, service, opts), nil
}

// NewWithService wraps an already configured calendar service.
func NewWithService(logger *slog.Logger, service *calendar.Service, opts Options) *CalendarClient {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = 1000
	}
	return &CalendarClient{
		service:    service,
		logger:     logger,
		calendarID: opts.CalendarID,
		loc:        opts.Location,
		limit:      opts.ListLimit,
	}
}

// ListEvents fetches one page of single (expanded) events overlapping [timeMin, timeMax).
func (c *CalendarClient) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]models.Event, error) {
	return c.list(ctx, timeMin, timeMax, "")
}

// FindEventsByMetadata lists events whose private extended property key equals value.
func (c *CalendarClient) FindEventsByMetadata(ctx context.Context, key, value string, timeMin, timeMax time.Time) ([]models.Event, error) {
	return c.list(ctx, timeMin, timeMax, key+"="+value)
}

func (c *CalendarClient) list(ctx context.Context, timeMin, timeMax time.Time, privateFilter string) ([]models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", c.calendarID, "timeMin", timeMin, "timeMax", timeMax, "filter", privateFilter)

	call := c.service.Events.List(c.calendarID).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		MaxResults(c.limit).
		OrderBy("startTime")
	if privateFilter != "" {
		call = call.PrivateExtendedProperty(privateFilter)
	}
	events, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Debug("Successfully fetched events from Google Calendar", "count", len(events.Items), "calendarID", c.calendarID)
	return c.toInternalEvents(events.Items), nil
}

// InsertEvent creates ev and returns the id Google assigned.
func (c *CalendarClient) InsertEvent(ctx context.Context, ev models.Event) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, c.toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	c.logger.Debug("Inserted event into Google Calendar", "id", created.Id, "summary", ev.Summary)
	return created.Id, nil
}

// DeleteEvent removes the event; already deleted events yield models.ErrEventNotFound.
func (c *CalendarClient) DeleteEvent(ctx context.Context, id string) error {
	err := c.service.Events.Delete(c.calendarID, id).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return models.ErrEventNotFound
		}
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// toInternalEvents converts Google Calendar events to the internal Event model.
func (c *CalendarClient) toInternalEvents(googleEvents []*calendar.Event) []models.Event {
	internalEvents := make([]models.Event, 0, len(googleEvents))
	for _, item := range googleEvents {
		if item.Start == nil || item.End == nil {
			continue
		}
		start, allDay, err := c.parseEventTime(item.Start)
		if err != nil {
			c.logger.Warn("Skipping event with unreadable start", "id", item.Id, "error", err)
			continue
		}
		end, _, err := c.parseEventTime(item.End)
		if err != nil {
			c.logger.Warn("Skipping event with unreadable end", "id", item.Id, "error", err)
			continue
		}

		var attendees []string
		for _, a := range item.Attendees {
			attendees = append(attendees, a.Email)
		}
		var organizer string
		if item.Organizer != nil {
			organizer = item.Organizer.Email
		}
		var private map[string]string
		if item.ExtendedProperties != nil {
			private = item.ExtendedProperties.Private
		}

		internalEvents = append(internalEvents, models.Event{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Start:       start,
			End:         end,
			AllDay:      allDay,
			Organizer:   organizer,
			Attendees:   attendees,
			Private:     private,
			UID:         item.ICalUID,
			Source:      fmt.Sprintf("google-%s", c.calendarID),
		})
	}
	return internalEvents
}

// parseEventTime reads either a dateTime or an all-day date, the latter as
// local midnight in the practice timezone.
func (c *CalendarClient) parseEventTime(t *calendar.EventDateTime) (time.Time, bool, error) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		return v, false, err
	}
	if t.Date != "" {
		v, err := time.ParseInLocation(dateLayout, t.Date, c.loc)
		return v, true, err
	}
	return time.Time{}, false, errors.New("event time has neither date nor dateTime")
}

// toGoogleEvent converts an internal Event into a Google Calendar event.
func (c *CalendarClient) toGoogleEvent(ev models.Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       c.eventTime(ev.Start, ev.AllDay),
		End:         c.eventTime(ev.End, ev.AllDay),
	}
	if len(ev.Private) > 0 {
		out.ExtendedProperties = &calendar.EventExtendedProperties{Private: ev.Private}
	}
	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{Email: a})
	}
	return out
}

func (c *CalendarClient) eventTime(t time.Time, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.In(c.loc).Format(dateLayout)}
	}
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: c.loc.String()}
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// TokenFile is where the token for accountName is kept.
func TokenFile(accountName string) string {
	return "token-" + accountName + ".json"
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// missingTokenError names the accounts that do have a token, if any, so a
// mistyped GOOGLE_ACCOUNT is easy to spot.
func missingTokenError(accountName string, err error) error {
	accounts, listErr := GetTokenAccounts(".")
	if listErr != nil || len(accounts) == 0 {
		return fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}
	return fmt.Errorf("could not load token for account %s: %w. Accounts with a token: %s", accountName, err, strings.Join(accounts, ", "))
}

// GetTokenAccounts lists the account names that have a token file in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
