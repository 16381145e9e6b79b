package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"therapycal/internal/api"
	"therapycal/internal/availability"
	"therapycal/internal/caldav"
	"therapycal/internal/config"
	"therapycal/internal/google"
	"therapycal/internal/lease"
	"therapycal/internal/memstore"
	"therapycal/internal/metrics"
	"therapycal/internal/models"
	"therapycal/internal/projection"
)

func main() {
	app := &cli.App{
		Name:  "therapycal",
		Usage: "Manage and publish therapy practice availability from a calendar.",
		Commands: []*cli.Command{
			authCommand(),
			serveCommand(),
			gridCommand(),
			slotCommand(),
			seedCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.GoogleClientID, cfg.GoogleClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			tokenFile := google.TokenFile(cfg.GoogleAccount)
			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the availability API and refresh the grid cache on a schedule.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address. Overrides HTTP_ADDR."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.IsSet("addr") {
				cfg.HTTPAddr = c.String("addr")
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			logger := setupJSONLogger(cfg.LogLevel)
			if cfg.AdminUser == "" {
				logger.Warn("Admin routes are served without authentication.")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := newEnv(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.NewAvailabilityMetrics(reg)

			projector := deps.projector(m)
			manager := deps.manager(availability.WithInvalidator(projector), availability.WithRecorder(m))

			scheduler, err := projector.Schedule(cfg.RefreshCron, time.Minute)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()
			if err := projector.Refresh(ctx); err != nil {
				logger.Warn("Initial availability refresh failed", "error", err)
			}

			handler := api.NewHandler(logger, projector, manager, deps.store, availability.DefaultBackoff)
			router := api.NewRouter(handler, api.RouterOptions{
				AdminUser:     cfg.AdminUser,
				AdminPassword: cfg.AdminPassword,
				Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			})
			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting HTTP server.", "addr", cfg.HTTPAddr, "store", cfg.Store)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
			case <-ctx.Done():
				logger.Info("Shutting down.")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}
			}
			return nil
		},
	}
}

// env holds the components shared by every command that talks to the store.
type env struct {
	cfg     config.App
	logger  *slog.Logger
	loc     *time.Location
	store   models.Store
	builder availability.Builder
	rdb     *redis.Client
}

func newEnv(ctx context.Context, cfg config.App, logger *slog.Logger) (*env, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := newStore(ctx, cfg, logger, loc)
	if err != nil {
		return nil, err
	}
	classifier := availability.Classifier{
		SessionMarkers:   cfg.SessionMarkers,
		AttendeeFallback: cfg.AttendeeFallback,
	}
	e := &env{
		cfg:     cfg,
		logger:  logger,
		loc:     loc,
		store:   store,
		builder: availability.NewBuilder(classifier, loc),
	}
	if cfg.RedisAddr != "" {
		e.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := e.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("Connected to Redis.", "addr", cfg.RedisAddr)
	}
	return e, nil
}

func newStore(ctx context.Context, cfg config.App, logger *slog.Logger, loc *time.Location) (models.Store, error) {
	switch cfg.Store {
	case config.StoreCalDAV:
		client, err := caldav.NewClient(ctx, logger, caldav.Options{
			Endpoint:     cfg.CalDAVEndpoint,
			Username:     cfg.CalDAVUsername,
			Password:     cfg.CalDAVPassword,
			CalendarName: cfg.CalDAVCalendar,
			Location:     loc,
			ListLimit:    cfg.ListLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil
	case config.StoreMemory:
		logger.Warn("Using the in-memory event store; nothing is persisted.")
		return memstore.New(cfg.ListLimit), nil
	default:
		client, err := google.NewClient(ctx, logger, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleAccount, google.Options{
			CalendarID: cfg.CalendarID,
			Location:   loc,
			ListLimit:  int64(cfg.ListLimit),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", cfg.GoogleAccount, err)
		}
		return client, nil
	}
}

func (e *env) projector(obs projection.Observer) *projection.Projector {
	return projection.New(e.logger, e.store, e.builder, e.rdb, projection.Options{
		TTL:       e.cfg.CacheTTL,
		DaysAhead: e.cfg.DaysAhead,
		Location:  e.loc,
		Observer:  obs,
	})
}

func (e *env) manager(opts ...availability.Option) *availability.Manager {
	if e.rdb != nil {
		opts = append(opts, availability.WithLeaser(lease.NewRedis(e.rdb, ""), e.cfg.LeaseTTL))
	}
	return availability.NewManager(e.logger, e.store, e.builder, opts...)
}

func (e *env) close() {
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
}

// cliEnv loads config and builds the shared components for one-shot commands.
func cliEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newEnv(c.Context, cfg, setupLogger(cfg.LogLevel))
}

func setupLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func setupJSONLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
