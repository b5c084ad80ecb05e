package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/logger"
)

type bookingService interface {
	Quote(ctx context.Context, in booking.QuoteInput) (*booking.Quote, error)
	Reserve(ctx context.Context, in booking.QuoteInput) (*booking.Booking, error)
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	Confirm(ctx context.Context, bookingID string, in booking.ConfirmInput) (*booking.Confirmation, error)
	Cancel(ctx context.Context, bookingID string) (bool, error)
}

type availabilityChecker interface {
	CheckAvailability(ctx context.Context, q booking.AvailabilityQuery) (*booking.AvailabilityResult, error)
}

type pricer interface {
	Price(dr booking.DateRange, beds int, basePricePerBed int64) (*booking.PricingResult, error)
	CheckMinimumStay(dr booking.DateRange) error
}

type holdService interface {
	GetHold(ctx context.Context, holdID string) (*booking.Hold, error)
	ConfirmHold(ctx context.Context, holdID, outcome string) (bool, error)
	ReleaseHold(ctx context.Context, holdID string) (bool, error)
	SweepExpired(ctx context.Context) (int, error)
}

type Server struct {
	srv          *http.Server
	router       *http.ServeMux
	l            *logger.Logger
	conf         Conf
	validate     *validator.Validate
	bookings     bookingService
	availability availabilityChecker
	pricing      pricer
	holds        holdService
}

type Conf struct {
	L                 *logger.Logger
	ServerLogger      *log.Logger
	Tracer            trace.Tracer
	Host              string
	Port              string
	ReadHeaderTimeout time.Duration
	LivenessEndpoint  string
	BasePricePerBed   int64
}

type Deps struct {
	Bookings     bookingService
	Availability availabilityChecker
	Pricing      pricer
	Holds        holdService
}

func New(ctx context.Context, conf Conf, deps Deps) (*Server, error) {
	if conf.Tracer == nil {
		conf.Tracer = noop.NewTracerProvider().Tracer("web")
	}

	mux := http.NewServeMux()

	//nolint:exhaustruct
	srv := &http.Server{
		Addr:              net.JoinHostPort(conf.Host, conf.Port),
		ReadHeaderTimeout: conf.ReadHeaderTimeout,
		ErrorLog:          conf.ServerLogger,
		Handler:           mux,
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}

	server := &Server{
		srv:          srv,
		router:       mux,
		l:            conf.L,
		conf:         conf,
		validate:     validator.New(),
		bookings:     deps.Bookings,
		availability: deps.Availability,
		pricing:      deps.Pricing,
		holds:        deps.Holds,
	}

	server.addRoutes(mux)

	return server, nil
}

func (s *Server) Srv() *http.Server {
	return s.srv
}

// Handler exposes the routed mux, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
