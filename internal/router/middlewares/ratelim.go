package middlewares

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"
)

// RateLimiterConfig specifies the maximum requests per interval, and interval
// length, applied per client.
type RateLimiterConfig struct {
	MaxRPI   uint64
	Interval time.Duration
}

// RateLimitController creates a new middleware to rate limit requests.
// The rate limiting key is resolved by priority:
// 1. An existing X-Forwarded-For IP included by a load-balancer in the infrastructure.
// 2. If 1. isn't present, the connection remote address.
func RateLimitController(cfg RateLimiterConfig) (mux.MiddlewareFunc, error) {
	keyFunc := func(r *http.Request) (string, error) {
		ip, err := extractClientIP(r)
		if err != nil {
			return "", fmt.Errorf("extract client ip: %s", err)
		}
		return ip, nil
	}

	store, err := memorystore.New(&memorystore.Config{
		Tokens:   cfg.MaxRPI,
		Interval: cfg.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating limiter memory store: %s", err)
	}
	m, err := httplimit.NewMiddleware(store, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("creating httplimiter: %s", err)
	}

	return func(next http.Handler) http.Handler {
		return m.Handle(next)
	}, nil
}

func extractClientIP(r *http.Request) (string, error) {
	// Use X-Forwarded-For IP if present.
	// i.g: https://cloud.google.com/load-balancing/docs/https#x-forwarded-for_header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.Split(xff, ",")[0]
		return ip, nil
	}

	// Use the request remote address.
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("getting ip from remote addr: %s", err)
	}
	return ip, nil
}
