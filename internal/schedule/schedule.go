// Package schedule reads a weekly working-hours template and expands it into
// concrete availability windows.
package schedule

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"

	"therapycal/internal/availability"
)

// Rule is one recurring block of working hours.
type Rule struct {
	Name  string `yaml:"name"`
	RRule string `yaml:"rrule"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
}

// Schedule is the on-disk template.
type Schedule struct {
	Rules []Rule `yaml:"rules"`
	// Skip lists dates (YYYY-MM-DD) that get no working hours.
	Skip []string `yaml:"skip"`
}

// Window is a working-hours block on one local day.
type Window struct {
	Date string
	From availability.Clock
	To   availability.Clock
	Rule string
}

// Cells returns the start clock of every grid cell inside the window.
func (w Window) Cells() []availability.Clock {
	var out []availability.Clock
	for c := w.From; c < w.To; c += availability.Clock(availability.SlotLength / time.Minute) {
		out = append(out, c)
	}
	return out
}

// Load reads a schedule file.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a schedule document.
func Parse(data []byte) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}
	if len(s.Rules) == 0 {
		return nil, fmt.Errorf("%w: schedule has no rules", availability.ErrInvalidInput)
	}
	for i, r := range s.Rules {
		if _, err := rrule.StrToRRule(r.RRule); err != nil {
			return nil, fmt.Errorf("%w: rule %d (%s): %v", availability.ErrInvalidInput, i, r.Name, err)
		}
		from, err := availability.ParseClock(r.From)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		to, err := availability.ParseEndClock(r.To)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		if to <= from {
			return nil, fmt.Errorf("%w: rule %d (%s) ends before it starts", availability.ErrInvalidInput, i, r.Name)
		}
	}
	return &s, nil
}

// Expand returns the windows of every rule for the local days in [from, to),
// ordered by date and then start clock.
func (s *Schedule) Expand(from, to time.Time, loc *time.Location) ([]Window, error) {
	first := localMidnight(from, loc)
	last := localMidnight(to, loc)

	var skip []time.Time
	for _, d := range s.Skip {
		day, err := availability.ParseDate(d, loc)
		if err != nil {
			return nil, err
		}
		skip = append(skip, day)
	}

	var out []Window
	for _, r := range s.Rules {
		rule, err := rrule.StrToRRule(r.RRule)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", availability.ErrInvalidInput, err)
		}
		rule.DTStart(first)

		var set rrule.Set
		set.RRule(rule)
		for _, day := range skip {
			set.ExDate(day)
		}

		fromClock, _ := availability.ParseClock(r.From)
		toClock, _ := availability.ParseEndClock(r.To)
		for _, occ := range set.Between(first, last, true) {
			if !occ.Before(last) {
				continue
			}
			out = append(out, Window{
				Date: occ.In(loc).Format(availability.DateLayout),
				From: fromClock,
				To:   toClock,
				Rule: r.Name,
			})
		}
	}

	sortWindows(out)
	return out, nil
}

func localMidnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func sortWindows(ws []Window) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Date != ws[j].Date {
			return ws[i].Date < ws[j].Date
		}
		return ws[i].From < ws[j].From
	})
}
