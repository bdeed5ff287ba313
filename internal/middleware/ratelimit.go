package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	// DefaultRequestsPerSecond is used when NewRateLimiter is given a
	// non-positive rate.
	DefaultRequestsPerSecond = 20

	// DefaultMaxTrackedClients bounds the number of clients tracked at once.
	DefaultMaxTrackedClients = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out a token bucket per client address. Each bucket
// refills at the configured rate and bursts up to twice that rate.
type RateLimiter struct {
	mu                sync.Mutex
	entries           map[string]*clientEntry
	perSecond         float64
	burst             int
	maxTrackedClients int
	onReject          func()
	cancel            context.CancelFunc
}

// RateLimiterOption customises a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRejectHook registers fn to run every time a request is rejected.
func WithRejectHook(fn func()) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.onReject = fn
	}
}

// NewRateLimiter creates a per-client limiter allowing perSecond requests per
// second. Pass 0 to use DefaultRequestsPerSecond. The cleanup goroutine stops
// when ctx is cancelled or Stop is called.
func NewRateLimiter(ctx context.Context, perSecond float64, opts ...RateLimiterOption) *RateLimiter {
	if perSecond <= 0 {
		perSecond = DefaultRequestsPerSecond
	}
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		entries:           make(map[string]*clientEntry),
		perSecond:         perSecond,
		burst:             burst,
		maxTrackedClients: DefaultMaxTrackedClients,
		cancel:            cancel,
	}
	for _, opt := range opts {
		opt(rl)
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow consumes a token for client and reports whether the request may
// proceed.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	e := rl.getOrCreateEntryLocked(client, time.Now())
	allowed := e.limiter.Allow()
	rl.mu.Unlock()

	if !allowed && rl.onReject != nil {
		rl.onReject()
	}
	return allowed
}

func (rl *RateLimiter) getOrCreateEntryLocked(client string, now time.Time) *clientEntry {
	e, ok := rl.entries[client]
	if !ok {
		if len(rl.entries) >= rl.maxTrackedClients {
			rl.evictOldestLocked()
		}
		e = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst),
		}
		rl.entries[client] = e
	}
	e.lastSeen = now
	return e
}

// Stop cancels the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.removeStale()
		}
	}
}

func (rl *RateLimiter) removeStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for client, e := range rl.entries {
		if now.Sub(e.lastSeen) > staleThreshold {
			delete(rl.entries, client)
		}
	}
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldest string
	var oldestTime time.Time
	first := true
	for client, e := range rl.entries {
		if first || e.lastSeen.Before(oldestTime) {
			oldest = client
			oldestTime = e.lastSeen
			first = false
		}
	}
	if oldest != "" {
		delete(rl.entries, oldest)
	}
}

// HTTPRateLimit rejects requests over the client's budget with 429.
func HTTPRateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(ExtractIP(r.RemoteAddr)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UnaryRateLimitInterceptor rejects calls over the peer's budget with
// ResourceExhausted. Calls without peer information share one bucket.
func UnaryRateLimitInterceptor(rl *RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		client := "unknown"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			client = ExtractIP(p.Addr.String())
		}
		if !rl.Allow(client) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// ExtractIP extracts the IP address from a RemoteAddr string, stripping the port.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
