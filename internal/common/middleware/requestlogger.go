package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
	"github.com/pulp/pulp-ansible-sub001/internal/common/logtrace"
	"github.com/rs/zerolog/log"
)

const RequestIdHeader = "X-Pulp-Request-ID"

// RequestLogger attaches a request id and a request scoped logger to the
// context, and logs the request on entry and completion.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := r.Header.Get(RequestIdHeader)
		if requestID == "" {
			requestID = newRequestId()
		}
		ctx = logtrace.WithRequestId(ctx, requestID)
		ctx = log.With().Str("request_id", requestID).Logger().WithContext(ctx)
		w.Header().Set(RequestIdHeader, requestID)

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		requestFields := map[string]interface{}{
			"requestURL":    fmt.Sprintf("%s://%s%s", scheme, r.Host, r.RequestURI),
			"requestMethod": r.Method,
			"requestPath":   r.URL.Path,
			"remoteIP":      r.RemoteAddr,
			"proto":         r.Proto,
		}
		log.Ctx(ctx).Info().Fields(requestFields).Msg("")

		start := time.Now()
		rw := httpx.NewResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(ctx))
		log.Ctx(ctx).Info().
			Int("status", rw.Status()).
			Int64("bytes", rw.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request complete")
	})
}

func newRequestId() string {
	u, err := uuid.NewRandom()
	if err != nil {
		return ""
	}
	return u.String()
}
