// Package ratelimit enforces per-broker fixed-window request limits backed
// by atomic counters in the shared store.
package ratelimit

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/logging"
	"github.com/daon-network/broker-gateway/internal/models"
	"github.com/daon-network/broker-gateway/internal/security"
)

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed         bool
	RemainingHourly int64
	RemainingDaily  int64
	ResetHourly     int64
	ResetDaily      int64
}

// Limiter counts requests into hour- and day-aligned buckets. Counters are
// incremented and read back in a single store round trip, so the limiter is
// correct across concurrent stateless replicas.
type Limiter struct {
	db      *sql.DB
	monitor *security.Monitor
	logger  *zap.Logger
	now     func() time.Time
}

// NewLimiter creates a rate limiter.
func NewLimiter(d *sql.DB, monitor *security.Monitor, logger *zap.Logger) *Limiter {
	return &Limiter{
		db:      d,
		monitor: monitor,
		logger:  logger.With(logging.Component("ratelimit")),
		now:     time.Now,
	}
}

// CheckAndIncrement counts the request and evaluates the broker's hourly and
// daily limits. The request that crosses a threshold is itself counted and
// then rejected, never the other way around.
func (l *Limiter) CheckAndIncrement(broker *models.Broker, endpoint string) (*Result, error) {
	now := l.now().UTC()
	hourStart := now.Truncate(time.Hour).Unix()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Unix()

	hourCount, err := db.IncrementBucket(l.db, broker.ID, hourStart, models.BucketHour)
	if err != nil {
		return nil, fmt.Errorf("increment hourly bucket: %w", err)
	}
	dayCount, err := db.IncrementBucket(l.db, broker.ID, dayStart, models.BucketDay)
	if err != nil {
		return nil, fmt.Errorf("increment daily bucket: %w", err)
	}

	result := &Result{
		Allowed:         hourCount <= broker.RateLimitHourly && dayCount <= broker.RateLimitDaily,
		RemainingHourly: remaining(broker.RateLimitHourly, hourCount),
		RemainingDaily:  remaining(broker.RateLimitDaily, dayCount),
		ResetHourly:     hourStart + int64(time.Hour/time.Second),
		ResetDaily:      dayStart + int64(24*time.Hour/time.Second),
	}

	if !result.Allowed {
		severity := models.SeverityMedium
		if float64(hourCount) > 1.5*float64(broker.RateLimitHourly) {
			severity = models.SeverityHigh
		}
		autoAction := models.AutoActionRateLimit
		if float64(hourCount) > 2*float64(broker.RateLimitHourly) {
			autoAction = models.AutoActionTempSuspend
		}
		l.monitor.LogEvent(&models.SecurityEvent{
			BrokerID:  broker.ID,
			EventType: security.EventRateLimitExceeded,
			Severity:  severity,
			Description: fmt.Sprintf("rate limit exceeded: %d/%d hourly, %d/%d daily",
				hourCount, broker.RateLimitHourly, dayCount, broker.RateLimitDaily),
			Endpoint:   endpoint,
			AutoAction: autoAction,
		})
	}

	return result, nil
}

func remaining(limit, count int64) int64 {
	if count >= limit {
		return 0
	}
	return limit - count
}
