package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/mastery-engine/pkg/logger"
)

// RequestLogger attaches a request-scoped logger (with the chi request id)
// to the context and logs one line per completed request: Error for 5xx,
// Warn for 4xx, Info otherwise.
func RequestLogger(base *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			reqLog := base.WithRequestID(middleware.GetReqID(r.Context()))
			ctx := logger.WithContext(r.Context(), reqLog)

			defer func() {
				fields := []logger.Field{
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.Int("status", ww.Status()),
					logger.Int("bytes_out", ww.BytesWritten()),
					logger.Latency(time.Since(start)),
				}
				switch {
				case ww.Status() >= 500:
					reqLog.Error("request completed", fields...)
				case ww.Status() >= 400:
					reqLog.Warn("request completed", fields...)
				default:
					reqLog.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}
