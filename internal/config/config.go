package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/avstrong/hostel/internal/booking"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid config")

type App struct {
	HTTPHost              string
	HTTPPort              string
	HTTPReadHeaderTimeout time.Duration
	LivenessEndpoint      string

	StoreBackend        string
	RedisURL            string
	ReservationsBackend string
	DatabaseURL         string

	AMQPURL         string
	HoldEventsQueue string

	HoldTTL              time.Duration
	SweepInterval        time.Duration
	AvailabilityCacheTTL time.Duration
	BackendTimeout       time.Duration

	BasePricePerBed int64
	CarnivalDates   []booking.DateRange

	LogLevel     string
	SeedDemoData bool
}

// Load reads .env when present, then the environment. Every invalid value is reported at once.
func Load() (App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return App{}, fmt.Errorf("load .env: %w", err) //nolint:exhaustruct
	}

	p := parser{errs: nil}

	cfg := App{
		HTTPHost:              getenv("HTTP_HOST", "localhost"),
		HTTPPort:              getenv("HTTP_PORT", "8092"),
		HTTPReadHeaderTimeout: p.duration("HTTP_READ_HEADER_TIMEOUT", 20*time.Second), //nolint:gomnd
		LivenessEndpoint:      getenv("LIVENESS_ENDPOINT", "/liveness"),

		StoreBackend:        p.oneOf("STORE_BACKEND", BackendMemory, BackendMemory, BackendRedis),
		RedisURL:            getenv("REDIS_URL", "localhost:6379"),
		ReservationsBackend: p.oneOf("RESERVATIONS_BACKEND", BackendMemory, BackendMemory, BackendPostgres),
		DatabaseURL:         os.Getenv("DATABASE_URL"),

		AMQPURL:         os.Getenv("AMQP_URL"),
		HoldEventsQueue: getenv("HOLD_EVENTS_QUEUE", "hostel.holds"),

		HoldTTL:              p.duration("HOLD_TTL", 15*time.Minute),               //nolint:gomnd
		SweepInterval:        p.duration("SWEEP_INTERVAL", 30*time.Second),         //nolint:gomnd
		AvailabilityCacheTTL: p.duration("AVAILABILITY_CACHE_TTL", 30*time.Second), //nolint:gomnd
		BackendTimeout:       p.duration("BACKEND_TIMEOUT", 2*time.Second),         //nolint:gomnd

		BasePricePerBed: p.int64("BASE_PRICE_PER_BED", 6000), //nolint:gomnd
		CarnivalDates:   p.dateRanges("CARNIVAL_DATES"),

		LogLevel:     getenv("LOG_LEVEL", "info"),
		SeedDemoData: p.bool("SEED_DEMO_DATA", false),
	}

	if cfg.ReservationsBackend == BackendPostgres && cfg.DatabaseURL == "" {
		p.fail("DATABASE_URL", "required when RESERVATIONS_BACKEND=postgres")
	}

	if err := errors.Join(p.errs...); err != nil {
		return App{}, err //nolint:exhaustruct
	}

	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}

	return def
}

type parser struct {
	errs []error
}

func (p *parser) fail(key, reason string) {
	p.errs = append(p.errs, fmt.Errorf("%s: %s: %w", key, reason, ErrInvalidConfig))
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(key, fmt.Sprintf("want a positive duration, got %q", v))

		return def
	}

	return d
}

func (p *parser) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		p.fail(key, fmt.Sprintf("want a non-negative integer, got %q", v))

		return def
	}

	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("want a boolean, got %q", v))

		return def
	}

	return b
}

func (p *parser) oneOf(key, def string, allowed ...string) string {
	v := getenv(key, def)

	for _, a := range allowed {
		if v == a {
			return v
		}
	}

	p.fail(key, fmt.Sprintf("want one of %s, got %q", strings.Join(allowed, "|"), v))

	return def
}

// dateRanges parses "2027-02-05/2027-02-10,2028-02-25/2028-03-01".
func (p *parser) dateRanges(key string) []booking.DateRange {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	var out []booking.DateRange

	for _, item := range strings.Split(v, ",") {
		in, outDate, ok := strings.Cut(strings.TrimSpace(item), "/")
		if !ok {
			p.fail(key, fmt.Sprintf("want check_in/check_out, got %q", item))

			continue
		}

		dr, err := booking.ParseDateRange(in, outDate)
		if err != nil || !dr.CheckIn.Before(dr.CheckOut) {
			p.fail(key, fmt.Sprintf("invalid range %q", item))

			continue
		}

		out = append(out, dr)
	}

	return out
}
