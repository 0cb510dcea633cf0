package gateway

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/auth"
)

// requireBearer wraps next, rejecting requests whose bearer token doesn't
// match authr. A disabled authenticator (Enabled() false, i.e. no token
// configured) lets every request through — an open-by-default posture
// when no token is set.
func requireBearer(authr *auth.BearerAuthenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authr == nil || !authr.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := auth.ExtractBearer(r)
		if err := authr.Authenticate(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging logs each request's method, path, status, and latency,
// mirroring a standard access-log middleware shape.
func withLogging(log *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if log != nil {
			log.Infow("http request",
				"method", r.Method, "path", r.URL.Path, "status", rec.status,
				"duration_ms", time.Since(start).Milliseconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
