package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	StoreGoogle = "google"
	StoreCalDAV = "caldav"
	StoreMemory = "memory"
)

type App struct {
	// Event store
	Store      string `envconfig:"STORE" default:"google"`
	ListLimit  int    `envconfig:"LIST_LIMIT" default:"1000"`
	Timezone   string `envconfig:"TIMEZONE" default:"Europe/Berlin"`
	DaysAhead  int    `envconfig:"DAYS_AHEAD" default:"90"`
	CalendarID string `envconfig:"GOOGLE_CALENDAR_ID" default:"primary"`

	// Google
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleAccount      string `envconfig:"GOOGLE_ACCOUNT" default:"practice"`

	// CalDAV
	CalDAVEndpoint string `envconfig:"CALDAV_ENDPOINT" default:"https://caldav.icloud.com/"`
	CalDAVUsername string `envconfig:"CALDAV_USERNAME"`
	CalDAVPassword string `envconfig:"CALDAV_PASSWORD"`
	CalDAVCalendar string `envconfig:"CALDAV_CALENDAR_NAME"`

	// Classification
	AttendeeFallback bool     `envconfig:"ATTENDEE_FALLBACK" default:"false"`
	SessionMarkers   []string `envconfig:"SESSION_MARKERS" default:"Session,Therapy,Consultation"`

	// Cache and leases
	RedisAddr   string        `envconfig:"REDIS_ADDR"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	LeaseTTL    time.Duration `envconfig:"LEASE_TTL" default:"2m"`
	RefreshCron string        `envconfig:"REFRESH_CRON" default:"*/10 * * * *"`

	// Network
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	AdminUser     string `envconfig:"ADMIN_USER"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the environment.
func Load() (App, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	var c App
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Validate checks combinations envconfig cannot express.
func (c App) Validate() error {
	switch c.Store {
	case StoreGoogle, StoreMemory:
	case StoreCalDAV:
		if c.CalDAVUsername == "" || c.CalDAVCalendar == "" {
			return errors.New("CALDAV_USERNAME and CALDAV_CALENDAR_NAME are required for the caldav store")
		}
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	if c.DaysAhead <= 0 {
		return fmt.Errorf("DAYS_AHEAD must be positive, got %d", c.DaysAhead)
	}
	if (c.AdminUser == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_USER and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// ValidateServe checks settings only the HTTP server needs. Admin routes
// write to the calendar, so they need credentials unless the store is the
// throwaway in-memory one.
func (c App) ValidateServe() error {
	if c.AdminUser == "" && c.Store != StoreMemory {
		return fmt.Errorf("ADMIN_USER and ADMIN_PASSWORD are required to serve the %s store", c.Store)
	}
	return nil
}

// Location resolves Timezone.
func (c App) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}
