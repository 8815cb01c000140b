package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rateLimiter allows at most limit events per key within a sliding window.
type rateLimiter struct {
	clients   map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
	window    time.Duration
	limit     int
	mu        sync.Mutex
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
		now:     time.Now,
		window:  window,
		limit:   limit,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	// Drop keys with nothing inside the window, at most once per window.
	if now.Sub(rl.lastSweep) >= rl.window {
		for k, stamps := range rl.clients {
			if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	// Clean old entries
	var recent []time.Time
	for _, ts := range rl.clients[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= rl.limit {
		rl.clients[key] = recent
		return false
	}

	rl.clients[key] = append(recent, now)
	return true
}

// clientIP returns the caller's address. Behind Cloud Run the front end
// appends the connecting address to X-Forwarded-For, so only the right-most
// entry is trusted; anything to its left is client supplied.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
