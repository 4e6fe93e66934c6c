package rpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/fairvm/go-fairvm/src/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RateLimiter implements a token bucket rate limiter per peer. Peers that
// send too many invalid requests are banned for a while.
type RateLimiter struct {
	mu      sync.RWMutex
	config  config.RateLimitConfig
	buckets map[string]*tokenBucket
	now     func() time.Time
}

type tokenBucket struct {
	tokens       float64
	maxTokens    float64
	refillRate   float64 // tokens per second
	lastRefill   time.Time
	invalidCount int
	bannedUntil  time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// bucket returns the peer's bucket, creating a full one. Callers hold mu.
func (r *RateLimiter) bucket(peerID string) *tokenBucket {
	b, ok := r.buckets[peerID]
	if !ok {
		b = &tokenBucket{
			tokens:     float64(r.config.BurstSize),
			maxTokens:  float64(r.config.BurstSize),
			refillRate: float64(r.config.RequestsPerSecond),
			lastRefill: r.now(),
		}
		r.buckets[peerID] = b
	}
	return b
}

// Allow checks if a request from the given peer is allowed
func (r *RateLimiter) Allow(peerID string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucket(peerID)
	now := r.now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RecordInvalid counts an invalid request and bans the peer once it reaches
// MaxInvalidRequests. It returns the new count.
func (r *RateLimiter) RecordInvalid(peerID string) int {
	if !r.config.Enabled {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucket(peerID)
	b.invalidCount++
	if r.config.MaxInvalidRequests > 0 && b.invalidCount >= r.config.MaxInvalidRequests {
		b.bannedUntil = r.now().Add(r.config.BanDuration.Std())
		b.invalidCount = 0
	}
	return b.invalidCount
}

// IsBanned reports whether the peer is currently banned
func (r *RateLimiter) IsBanned(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.buckets[peerID]; ok {
		return r.now().Before(b.bannedUntil)
	}
	return false
}

// RemovePeer removes a peer from the rate limiter
func (r *RateLimiter) RemovePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, peerID)
}

// Cleanup removes buckets of peers idle for longer than maxAge that are
// not serving a ban
func (r *RateLimiter) Cleanup(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-maxAge)
	for id, b := range r.buckets {
		if b.lastRefill.Before(cutoff) && !now.Before(b.bannedUntil) {
			delete(r.buckets, id)
		}
	}
}

// UnaryInterceptor rejects requests from banned or throttled peers and
// counts InvalidArgument responses against the caller
func (r *RateLimiter) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id := peerID(ctx)
		if r.IsBanned(id) {
			limitedCounter.Inc(1)
			return nil, status.Error(codes.PermissionDenied, ErrPeerBanned.Error())
		}
		if !r.Allow(id) {
			limitedCounter.Inc(1)
			return nil, status.Error(codes.ResourceExhausted, ErrRateLimitExceeded.Error())
		}

		resp, err := handler(ctx, req)
		if status.Code(err) == codes.InvalidArgument {
			r.RecordInvalid(id)
		}
		return resp, err
	}
}

// peerID keys a caller by host so reconnecting from a new port shares
// the bucket
func peerID(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
