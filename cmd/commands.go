package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"therapycal/internal/availability"
	"therapycal/internal/schedule"
)

func gridCommand() *cli.Command {
	return &cli.Command{
		Name:  "grid",
		Usage: "Print the availability grid.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Usage: "Number of days to show. Defaults to DAYS_AHEAD."},
			&cli.BoolFlag{Name: "admin", Usage: "Include blocked and vacation cells."},
			&cli.IntFlag{Name: "duration", Usage: "Only show cells that can start a block of this many minutes."},
		},
		Action: func(c *cli.Context) error {
			deps, err := cliEnv(c)
			if err != nil {
				return err
			}
			defer deps.close()

			grid := deps.projector(nil).Grid(c.Context, c.Int("days"), c.Bool("admin"))
			switch {
			case c.Int("duration") > 0:
				grid = availability.FilterForDuration(grid, c.Int("duration"))
			case c.Bool("admin"):
				grid = availability.Annotate(grid)
			default:
				grid = availability.PatientView(grid)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tTIME\tSTATUS\tCONSULTATION\tTHERAPY\tREASON")
			for _, s := range grid {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%s\n", s.Date, s.Time, s.Status, s.CanAccommodateConsultation, s.CanAccommodateTherapy, s.Reason)
			}
			return tw.Flush()
		},
	}
}

func slotCommand() *cli.Command {
	dateFlag := &cli.StringFlag{Name: "date", Usage: "Local date, YYYY-MM-DD.", Required: true}
	timeFlag := &cli.StringFlag{Name: "time", Usage: "Cell start, HH:MM on the half hour.", Required: true}
	reasonFlag := &cli.StringFlag{Name: "reason", Usage: "Reason shown in the admin calendar."}
	fromFlag := &cli.StringFlag{Name: "from", Usage: "Start, HH:MM (YYYY-MM-DD for vacation).", Required: true}
	toFlag := &cli.StringFlag{Name: "to", Usage: "End, HH:MM or 24:00 (YYYY-MM-DD for vacation).", Required: true}

	return &cli.Command{
		Name:  "slot",
		Usage: "Change availability markers in the calendar.",
		Subcommands: []*cli.Command{
			mutation("add", "Open one cell for booking.", []cli.Flag{dateFlag, timeFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.AddAvailabilitySlot(ctx, c.String("date"), c.String("time"))
				}),
			mutation("remove", "Remove the availability marker of one cell.", []cli.Flag{dateFlag, timeFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.RemoveAvailabilitySlot(ctx, c.String("date"), c.String("time"))
				}),
			mutation("block", "Block one cell.", []cli.Flag{dateFlag, timeFlag, reasonFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.BlockTimeSlot(ctx, c.String("date"), c.String("time"), c.String("reason"))
				}),
			mutation("unblock", "Remove the block of one cell.", []cli.Flag{dateFlag, timeFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.UnblockTimeSlot(ctx, c.String("date"), c.String("time"))
				}),
			mutation("block-day", "Block a whole day.", []cli.Flag{dateFlag, reasonFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.BlockEntireDay(ctx, c.String("date"), c.String("reason"))
				}),
			mutation("vacation", "Mark days from..to inclusive as vacation.", []cli.Flag{fromFlag, toFlag, reasonFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.BlockVacation(ctx, c.String("from"), c.String("to"), c.String("reason"))
				}),
			mutation("extra", "Open extra time outside the usual hours.", []cli.Flag{dateFlag, fromFlag, toFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.AddExtraTimeSlot(ctx, c.String("date"), c.String("from"), c.String("to"))
				}),
			mutation("modify", "Replace the working hours of one day.", []cli.Flag{dateFlag, fromFlag, toFlag, reasonFlag},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.ModifyWorkingDay(ctx, c.String("date"), c.String("from"), c.String("to"), c.String("reason"))
				}),
			mutation("remove-marker", "Delete a marker event by id.", []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error) {
					return m.RemoveMarker(ctx, c.String("id"))
				}),
		},
	}
}

type mutationFunc func(ctx context.Context, m *availability.Manager, c *cli.Context) (availability.Result, error)

func mutation(name, usage string, flags []cli.Flag, run mutationFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Action: func(c *cli.Context) error {
			deps, err := cliEnv(c)
			if err != nil {
				return err
			}
			defer deps.close()

			manager := deps.manager(availability.WithInvalidator(deps.projector(nil)))
			res, err := run(c.Context, manager, c)
			if err != nil {
				return err
			}
			deps.logger.Info(res.Message, "event_id", res.EventID)
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create availability markers from a weekly working-hours file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "Path to the working-hours YAML file.", Required: true},
			&cli.IntFlag{Name: "days", Value: 28, Usage: "Number of days to seed, starting today."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be created without making changes."},
		},
		Action: func(c *cli.Context) error {
			sched, err := schedule.Load(c.String("schedule"))
			if err != nil {
				return err
			}
			deps, err := cliEnv(c)
			if err != nil {
				return err
			}
			defer deps.close()
			logger := deps.logger

			now := time.Now().In(deps.loc)
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, deps.loc)
			end := today.AddDate(0, 0, c.Int("days"))

			windows, err := sched.Expand(today, end, deps.loc)
			if err != nil {
				return err
			}

			events, err := deps.store.ListEvents(c.Context, today, end)
			if err != nil {
				return fmt.Errorf("failed to read existing events: %w", err)
			}
			existing := make(map[string]bool)
			for _, s := range deps.builder.Build(events, now, c.Int("days"), availability.GridOptions{IncludeUnavailable: true}) {
				existing[s.Date+" "+s.Time] = true
			}

			manager := deps.manager(availability.WithInvalidator(deps.projector(nil)))
			created, skipped := 0, 0
			for _, w := range windows {
				for _, cell := range w.Cells() {
					if existing[w.Date+" "+cell.String()] {
						skipped++
						continue
					}
					if c.Bool("dry-run") {
						logger.Info("[DRY RUN] Would open slot", "date", w.Date, "time", cell.String(), "rule", w.Rule)
						created++
						continue
					}
					if _, err := manager.AddAvailabilitySlot(c.Context, w.Date, cell.String()); err != nil {
						return fmt.Errorf("failed to open %s %s: %w", w.Date, cell, err)
					}
					created++
				}
			}
			logger.Info("Seeding finished.", "created", created, "skipped", skipped, "dry_run", c.Bool("dry-run"))
			return nil
		},
	}
}
