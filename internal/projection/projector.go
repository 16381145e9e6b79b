// Package projection caches derived availability grids in Redis and keeps
// them fresh on a cron schedule.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"therapycal/internal/availability"
	"therapycal/internal/models"
)

const defaultPrefix = "therapycal:grid:"

// View names one cached rendition of the grid.
type View string

const (
	ViewPatient View = "patient"
	ViewAdmin   View = "admin"
)

// Observer receives cache and build measurements. A nil Observer is ignored.
type Observer interface {
	ObserveGridBuild(view string, seconds float64, cells int)
	ObserveCache(view, result string)
}

// Options configures a Projector.
type Options struct {
	Prefix    string
	TTL       time.Duration
	DaysAhead int
	Location  *time.Location
	Now       func() time.Time
	Observer  Observer
}

// Projector serves availability grids, reading through a Redis cache when
// one is configured.
type Projector struct {
	logger    *slog.Logger
	store     models.Store
	builder   availability.Builder
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	daysAhead int
	loc       *time.Location
	now       func() time.Time
	observer  Observer
}

// New creates a Projector. rdb may be nil, in which case every call rebuilds.
func New(logger *slog.Logger, store models.Store, builder availability.Builder, rdb *redis.Client, opts Options) *Projector {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.DaysAhead <= 0 {
		opts.DaysAhead = 90
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Projector{
		logger:    logger,
		store:     store,
		builder:   builder,
		rdb:       rdb,
		prefix:    opts.Prefix,
		ttl:       opts.TTL,
		daysAhead: opts.DaysAhead,
		loc:       opts.Location,
		now:       opts.Now,
		observer:  opts.Observer,
	}
}

// DaysAhead is the default and maximum horizon.
func (p *Projector) DaysAhead() int { return p.daysAhead }

// Grid returns the grid for the next days local days. The admin view also
// carries blocked and vacation cells. Store failures are logged and yield an
// empty grid.
func (p *Projector) Grid(ctx context.Context, days int, admin bool) []availability.Slot {
	if days <= 0 || days > p.daysAhead {
		days = p.daysAhead
	}
	view := viewOf(admin)

	key, cacheable := p.key(ctx, view, days)
	if cacheable {
		if slots, ok := p.load(ctx, key); ok {
			p.observeCache(view, "hit")
			return slots
		}
		p.observeCache(view, "miss")
	}

	slots, err := p.build(ctx, days, admin)
	if err != nil {
		p.logger.Error("Failed to build availability grid", "view", view, "days", days, "error", err)
		return []availability.Slot{}
	}
	if cacheable {
		p.save(ctx, key, slots)
	}
	return slots
}

// Invalidate drops every cached grid by bumping the cache version.
func (p *Projector) Invalidate(ctx context.Context) error {
	if p.rdb == nil {
		return nil
	}
	if err := p.rdb.Incr(ctx, p.versionKey()).Err(); err != nil {
		return fmt.Errorf("failed to bump grid cache version: %w", err)
	}
	p.logger.Debug("Availability cache invalidated.")
	return nil
}

// Refresh rebuilds both views over the full horizon and stores them.
func (p *Projector) Refresh(ctx context.Context) error {
	p.logger.Info("Starting availability refresh.")
	for _, admin := range []bool{false, true} {
		view := viewOf(admin)
		slots, err := p.build(ctx, p.daysAhead, admin)
		if err != nil {
			return fmt.Errorf("failed to refresh %s grid: %w", view, err)
		}
		if key, ok := p.key(ctx, view, p.daysAhead); ok {
			p.save(ctx, key, slots)
		}
	}
	p.logger.Info("Availability refresh finished.")
	return nil
}

// Schedule registers Refresh on the cron expression and returns the scheduler, not yet started.
func (p *Projector) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(p.loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Refresh(ctx); err != nil {
			p.logger.Error("Scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return c, nil
}

func (p *Projector) build(ctx context.Context, days int, admin bool) ([]availability.Slot, error) {
	started := time.Now()
	now := p.now().In(p.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)

	events, err := p.store.ListEvents(ctx, from, from.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	slots := p.builder.Build(events, now, days, availability.GridOptions{IncludeUnavailable: admin})
	if p.observer != nil {
		p.observer.ObserveGridBuild(string(viewOf(admin)), time.Since(started).Seconds(), len(slots))
	}
	return slots, nil
}

// key is versioned and dated so a new day or a mutation never serves a stale grid.
func (p *Projector) key(ctx context.Context, view View, days int) (string, bool) {
	if p.rdb == nil {
		return "", false
	}
	version, err := p.rdb.Get(ctx, p.versionKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		p.logger.Warn("Grid cache unavailable", "error", err)
		return "", false
	}
	today := p.now().In(p.loc).Format(availability.DateLayout)
	return p.prefix + strconv.FormatInt(version, 10) + ":" + string(view) + ":" + strconv.Itoa(days) + ":" + today, true
}

func (p *Projector) load(ctx context.Context, key string) ([]availability.Slot, bool) {
	raw, err := p.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("Failed to read cached grid", "key", key, "error", err)
		}
		return nil, false
	}
	var slots []availability.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		p.logger.Warn("Discarding unreadable cached grid", "key", key, "error", err)
		return nil, false
	}
	return slots, true
}

func (p *Projector) save(ctx context.Context, key string, slots []availability.Slot) {
	raw, err := json.Marshal(slots)
	if err != nil {
		p.logger.Warn("Failed to encode grid for cache", "error", err)
		return
	}
	if err := p.rdb.Set(ctx, key, raw, p.ttl).Err(); err != nil {
		p.logger.Warn("Failed to cache grid", "key", key, "error", err)
	}
}

func (p *Projector) versionKey() string {
	return p.prefix + "version"
}

func (p *Projector) observeCache(view View, result string) {
	if p.observer != nil {
		p.observer.ObserveCache(string(view), result)
	}
}

func viewOf(admin bool) View {
	if admin {
		return ViewAdmin
	}
	return ViewPatient
}
