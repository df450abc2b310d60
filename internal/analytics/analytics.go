// Package analytics tracks payment and request volume for the operator
// surface. In-process atomics are the source of truth for the current
// process; the durable cache tier carries day-scoped counters that survive
// restarts and aggregate across instances.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"qguard/internal/cache"
	"qguard/internal/platform/metrics"
)

const paymentRecordTTL = 30 * 24 * time.Hour

// Stats is the operator-facing snapshot served on /stats and pushed over the
// dashboard feed.
type Stats struct {
	TotalPayments     uint64  `json:"total_payments"`
	RevenueTodayUSD   float64 `json:"revenue_today_usd"`
	RequestsToday     uint64  `json:"requests_today"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// paymentRecord is the durable per-payment entry, kept for 30 days.
type paymentRecord struct {
	AmountUSD float64   `json:"amount_usd"`
	Endpoint  string    `json:"endpoint"`
	Payer     string    `json:"payer"`
	Timestamp time.Time `json:"timestamp"`
}

// Service accumulates gateway traffic counters. All methods are safe for
// concurrent use. Durable-tier failures never propagate: a degraded cache
// costs cross-restart persistence, not availability.
type Service struct {
	cache *cache.Tiered
	log   *slog.Logger
	met   *metrics.Metrics
	start time.Time
	now   func() time.Time

	payments     atomic.Uint64
	requests     atomic.Uint64
	responseNs   atomic.Int64
	cacheHits    atomic.Uint64
	cacheLookups atomic.Uint64

	// Day-scoped fallback counters, reset on UTC day rollover. The durable
	// tier remains authoritative when it is reachable.
	mu              sync.Mutex
	day             string
	dayRevenueCents int64
	dayRequests     uint64
}

func New(c *cache.Tiered, log *slog.Logger, met *metrics.Metrics) *Service {
	return &Service{cache: c, log: log, met: met, start: time.Now(), now: time.Now}
}

// RecordPayment counts a settled payment and persists a 30-day record of it.
func (s *Service) RecordPayment(ctx context.Context, amountCents int64, endpoint, payer string) {
	n := s.payments.Add(1)
	s.met.PaymentsRecorded.Inc()

	date := dateKey(s.now())
	s.mu.Lock()
	s.rollDayLocked(date)
	s.dayRevenueCents += amountCents
	s.mu.Unlock()

	s.increment(ctx, "analytics:payments:"+date, 1)
	s.increment(ctx, "analytics:revenue_cents:"+date, amountCents)
	s.increment(ctx, fmt.Sprintf("analytics:endpoint:%s:%s", endpoint, date), 1)

	rec := paymentRecord{
		AmountUSD: float64(amountCents) / 100,
		Endpoint:  endpoint,
		Payer:     payer,
		Timestamp: s.now().UTC(),
	}
	key := fmt.Sprintf("payment:%s:%d", date, n)
	if err := s.cache.SetJSON(ctx, key, rec, paymentRecordTTL); err != nil {
		s.log.Warn("payment record not persisted", "key", key, "error", err)
	}

	s.log.Info("payment recorded",
		"amount_usd", rec.AmountUSD,
		"endpoint", endpoint,
		"payer", payer,
	)
}

// RecordRequest counts one served API request and its latency. cacheHit
// reports whether the response payload came from the tiered cache.
func (s *Service) RecordRequest(ctx context.Context, elapsed time.Duration, cacheHit bool) {
	s.requests.Add(1)
	s.responseNs.Add(elapsed.Nanoseconds())
	s.cacheLookups.Add(1)
	if cacheHit {
		s.cacheHits.Add(1)
	}

	date := dateKey(s.now())
	s.mu.Lock()
	s.rollDayLocked(date)
	s.dayRequests++
	s.mu.Unlock()

	s.increment(ctx, "analytics:requests:"+date, 1)
}

// Stats reads today's counters. The durable tier is preferred for the
// cross-instance, day-scoped counts; when it is unavailable the day-rolled
// in-process counters stand in.
func (s *Service) Stats(ctx context.Context) Stats {
	date := dateKey(s.now())

	s.mu.Lock()
	s.rollDayLocked(date)
	requestsToday := s.dayRequests
	revenueCentsToday := s.dayRevenueCents
	s.mu.Unlock()

	if n, err := s.cache.Increment(ctx, "analytics:requests:"+date, 0); err == nil {
		requestsToday = uint64(n)
	}
	if n, err := s.cache.Increment(ctx, "analytics:revenue_cents:"+date, 0); err == nil {
		revenueCentsToday = n
	}

	st := Stats{
		TotalPayments:   s.payments.Load(),
		RevenueTodayUSD: float64(revenueCentsToday) / 100,
		RequestsToday:   requestsToday,
	}
	if lookups := s.cacheLookups.Load(); lookups > 0 {
		st.CacheHitRate = float64(s.cacheHits.Load()) / float64(lookups)
	}
	if reqs := s.requests.Load(); reqs > 0 {
		st.AvgResponseTimeMs = float64(s.responseNs.Load()) / float64(reqs) / float64(time.Millisecond)
	}
	return st
}

// Uptime reports how long this process has been serving.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.start)
}

// rollDayLocked clears the day-scoped counters when the UTC date changes.
// Callers hold s.mu.
func (s *Service) rollDayLocked(date string) {
	if s.day == date {
		return
	}
	s.day = date
	s.dayRevenueCents = 0
	s.dayRequests = 0
}

func (s *Service) increment(ctx context.Context, key string, delta int64) {
	if _, err := s.cache.Increment(ctx, key, delta); err != nil {
		s.log.Warn("durable counter not updated", "key", key, "error", err)
	}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
