package api

import (
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snapgate/snapgate/pkg/presign"
	"github.com/snapgate/snapgate/pkg/ratelimit"
)

// RequestID tags every response with an X-Request-ID header so problem
// responses and logs can be correlated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// IPRateLimit enforces the global quota per client IP.
func IPRateLimit(store ratelimit.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter, err := store.Allow(r.Context(), clientIP(r))
		if err != nil {
			// Admission control must not take the service down with it.
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			WriteTooManyRequests(w, retrySeconds(retryAfter))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr, tolerating bare hosts and
// bracketed IPv6 literals.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// AccessControl gates the static artifact route behind presigned
// query parameters. The signature must verify for the exact request
// path and the embedded credential must be a configured bucket token.
func AccessControl(tokens func(credential string) bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, err := presign.Verify(r.URL.Path, r.URL.Query())
		if err != nil {
			WriteUnauthorized(w, err.Error())
			return
		}
		if !tokens(credential) {
			WriteUnauthorized(w, "unknown credential")
			return
		}
		next.ServeHTTP(w, r)
	})
}
