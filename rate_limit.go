package main

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// clientRateLimiter keeps one token bucket per client address. The address
// is the connection's remote host unless trustForwardedFor is set, which is
// only safe behind a proxy that overwrites X-Forwarded-For.
type clientRateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
	rate              rate.Limit
	burst             int
	trustForwardedFor bool
	log               *logrus.Logger
}

func newClientRateLimiter(rps float64, burst int, trustForwardedFor bool, logger *logrus.Logger) *clientRateLimiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &clientRateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		rate:              rate.Limit(rps),
		burst:             burst,
		trustForwardedFor: trustForwardedFor,
		log:               logger,
	}
}

func (rl *clientRateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *clientRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r, rl.trustForwardedFor)
		if !rl.limiter(key).Allow() {
			rl.log.WithFields(logrus.Fields{
				"client": key,
				"path":   r.URL.Path,
			}).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "RATE_LIMITED"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup drops buckets that have refilled completely. A full bucket is
// indistinguishable from a new one, so throttled clients keep their state.
func (rl *clientRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, l := range rl.limiters {
		if l.Tokens() >= float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *clientRateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

func clientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
