package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"example.com/dirserve/internal/logger"
)

// RequestIDHeader carries the per-request identifier on requests and responses.
const RequestIDHeader = "X-Request-Id"

type contextKey int

const requestIDKey contextKey = iota

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws to h so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NewMux routes GET and HEAD requests for any path to files. Other methods
// get a 405 error page.
func NewMux(files http.Handler, lg *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /{path...}", files)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "", lg)
	})
	return mux
}

// RequestIDFromContext returns the identifier assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestID assigns every request an identifier. A well-formed UUID supplied
// by the client is kept; anything else is replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// Timeout bounds each request's context by d. Zero disables it.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DurationObserver receives the status and wall time of each request.
type DurationObserver interface {
	ObserveDuration(status int, d time.Duration)
}

// AccessLog writes one access log entry per request and reports its
// duration to obs, which may be nil.
func AccessLog(lg *logger.Logger, obs DurationObserver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			elapsed := time.Since(start)
			if lg != nil {
				lg.Access(r, RequestIDFromContext(r.Context()), status, rec.bytes, elapsed)
			}
			if obs != nil {
				obs.ObserveDuration(status, elapsed)
			}
		})
	}
}

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
