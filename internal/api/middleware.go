package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxRequestBodySize caps request bodies. No endpoint reads one today.
const maxRequestBodySize = 64 << 10

const requestIDHeader = "X-Request-ID"

// useMiddleware installs the stack every diagnostics route runs behind.
// Order matters: the request id must exist before anything logs.
func (s *Server) useMiddleware(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanic)
	r.Use(middleware.RequestSize(maxRequestBodySize))
}

// echoRequestID returns the id chi assigned (or accepted from the
// client) so field engineers can match a response to the agent's log.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(requestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog records each request. Health polls are frequent, so normal
// traffic logs at debug and only server errors are raised to warn.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("api request failed", args...)
			return
		}
		s.logger.Debug("api request", args...)
	})
}

// recoverPanic turns a handler panic into a JSON 500 so one bad request
// cannot take the agent down with it.
func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("api handler panicked",
				"panic", rec,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
