package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/avstrong/hostel/internal/allocation"
	"github.com/avstrong/hostel/internal/availability"
	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/catalog"
	"github.com/avstrong/hostel/internal/clock"
	"github.com/avstrong/hostel/internal/config"
	"github.com/avstrong/hostel/internal/events"
	"github.com/avstrong/hostel/internal/hold"
	"github.com/avstrong/hostel/internal/idgen/simple"
	"github.com/avstrong/hostel/internal/idgen/uuidgen"
	"github.com/avstrong/hostel/internal/logger"
	"github.com/avstrong/hostel/internal/migration"
	"github.com/avstrong/hostel/internal/pricing"
	"github.com/avstrong/hostel/internal/storage/memory"
	"github.com/avstrong/hostel/internal/storage/postgres"
	"github.com/avstrong/hostel/internal/storage/redis"
	"github.com/avstrong/hostel/internal/transport/web"
)

const (
	shutdownTimeout = 4 * time.Second
	lockTTL         = 10 * time.Second
	recordRetention = 24 * time.Hour
	tracerName      = "github.com/avstrong/hostel"
)

type kv interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)
	KeysMatching(ctx context.Context, prefix string) ([]string, error)
}

type reservationStore interface {
	FetchConfirmedReservations(
		ctx context.Context,
		dr booking.DateRange,
		excludeID string,
	) ([]booking.ConfirmedReservation, error)
	RecordReservation(ctx context.Context, in *booking.NewReservation) (string, error)
	UpdateStatus(ctx context.Context, id string, status booking.ReservationStatus) error
}

type publisher interface {
	Publish(ctx context.Context, e events.HoldEvent) error
}

// closers collects shutdown hooks of the backends opened during startup.
type closers []func() error

func (c closers) closeAll(l *logger.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			l.LogErrorf("Failed to close backend: %v", err.Error())
		}
	}
}

func Run(l *logger.Logger, cfg config.App) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
	)
	defer cancel()

	var shutdown closers
	defer func() { shutdown.closeAll(l) }()

	c := clock.Real{}

	store, err := openKV(ctx, l, cfg, c, &shutdown)
	if err != nil {
		return err
	}

	reservations, err := openReservations(ctx, l, cfg, c, &shutdown)
	if err != nil {
		return err
	}

	pub, err := openPublisher(l, cfg, &shutdown)
	if err != nil {
		return err
	}

	tracer := otel.Tracer(tracerName)
	rooms := catalog.Default()
	cache := availability.NewCache(store, cfg.AvailabilityCacheTTL)
	prices := pricing.New(pricing.NewCarnivalCalendar(cfg.CarnivalDates))
	allocator := allocation.New(allocation.Config{L: l})

	holds := hold.New(hold.Config{
		L:            l,
		Catalog:      rooms,
		KV:           store,
		Reservations: reservations,
		Cache:        cache,
		IDGenerator:  uuidgen.New(),
		Clock:        c,
		Publisher:    pub,
		Tracer:       tracer,
		Timeout:      cfg.BackendTimeout,
		LockTTL:      max(lockTTL, 2*cfg.BackendTimeout), //nolint:gomnd
		Retention:    recordRetention,
	})

	calculator := availability.New(availability.Config{
		L:            l,
		Catalog:      rooms,
		Reservations: reservations,
		Holds:        holds,
		Cache:        cache,
		Clock:        c,
		Timeout:      cfg.BackendTimeout,
	})

	bookings := booking.New(booking.Config{
		L:               l,
		Availability:    calculator,
		Allocator:       allocator,
		Pricing:         prices,
		Holds:           holds,
		Reservations:    reservations,
		KV:              store,
		Clock:           c,
		HoldTTL:         cfg.HoldTTL,
		BasePricePerBed: cfg.BasePricePerBed,
		MaxAttempts:     booking.DefaultMaxAttempts,
		Retention:       recordRetention,
	})

	holds.StartSweeper(ctx, cfg.SweepInterval)

	webConf := web.Conf{
		L:                 l,
		ServerLogger:      log.Default(),
		Tracer:            tracer,
		Host:              cfg.HTTPHost,
		Port:              cfg.HTTPPort,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		LivenessEndpoint:  cfg.LivenessEndpoint,
		BasePricePerBed:   cfg.BasePricePerBed,
	}

	srv, err := web.New(ctx, webConf, web.Deps{
		Bookings:     bookings,
		Availability: calculator,
		Pricing:      prices,
		Holds:        holds,
	})
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	//nolint:contextcheck
	go func() {
		<-ctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Srv().Shutdown(ctx); err != nil {
			l.LogErrorf("Failed to stop http server: %v", err.Error())
		}
	}()

	l.LogInfo("Application is running on %v:%v...", webConf.Host, webConf.Port)

	if err := srv.Srv().ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		l.LogErrorf("Failed to run http server: %v", err.Error())

		cancel()
	}

	l.LogInfo("Application stopped gracefully")

	return nil
}

func openKV(ctx context.Context, l *logger.Logger, cfg config.App, c clock.Clock, shutdown *closers) (kv, error) {
	if cfg.StoreBackend != config.BackendRedis {
		l.LogInfo("Using in-memory key-value store")

		return memory.NewKV(c), nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.BackendTimeout)
	defer cancel()

	client, err := redis.Dial(dialCtx, redis.Config{Addr: cfg.RedisURL, Password: "", DB: 0})
	if err != nil {
		return nil, fmt.Errorf("open key-value store: %w", err)
	}

	*shutdown = append(*shutdown, client.Close)

	l.LogInfo("Using redis key-value store at %v", cfg.RedisURL)

	return redis.New(client), nil
}

func openReservations(
	ctx context.Context,
	l *logger.Logger,
	cfg config.App,
	c clock.Clock,
	shutdown *closers,
) (reservationStore, error) {
	if cfg.ReservationsBackend != config.BackendPostgres {
		db := memory.New(memory.Config{L: l, IDGenerator: simple.New("res")})

		if cfg.SeedDemoData {
			if err := migration.Up(ctx, l, db, c.Now()); err != nil {
				return nil, fmt.Errorf("seed demo reservations: %w", err)
			}
		}

		return db, nil
	}

	gdb, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open reservations store: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("open reservations store: %w", err)
	}

	*shutdown = append(*shutdown, sqlDB.Close)

	store := postgres.New(gdb, uuidgen.New())
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate reservations store: %w", err)
	}

	l.LogInfo("Reservations schema is up to date")

	return store, nil
}

func openPublisher(l *logger.Logger, cfg config.App, shutdown *closers) (publisher, error) {
	if cfg.AMQPURL == "" {
		return events.NewLogPublisher(l), nil
	}

	pub, err := events.DialAMQP(cfg.AMQPURL, cfg.HoldEventsQueue)
	if err != nil {
		return nil, fmt.Errorf("open hold events queue: %w", err)
	}

	*shutdown = append(*shutdown, pub.Close)

	l.LogInfo("Publishing hold events to queue %v", cfg.HoldEventsQueue)

	return pub, nil
}
