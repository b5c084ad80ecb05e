package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggerMiddleware() func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()

			var requestID string

			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				requestID = sc.TraceID().String()
			} else {
				requestID = uuid.NewString()
			}

			w.Header().Set("X-Request-ID", requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			s.l.LogInfo(
				"type: access, method: %s, url: %s, status: %d, proto: %s, userAgent: %s, requestID: %s, latency: %s",
				r.Method,
				r.URL.Path,
				rec.status,
				r.Proto,
				r.Header.Get("User-Agent"),
				requestID,
				time.Since(start),
			)
		})
	}
}

func (s *Server) traceMiddleware() func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := s.conf.Tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			))
			defer span.End()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) recoverMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if re := recover(); re != nil {
					err, ok := re.(error)
					if !ok {
						err = fmt.Errorf("%v: %w", re, ErrPanic)
					}
					s.l.LogErrorf("type: panic, error: %v\n", err)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, middleware := range middlewares {
		h = middleware(h)
	}

	return h
}
