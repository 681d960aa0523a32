package webhook

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/logging"
)

const (
	defaultSweepInterval = time.Minute
	sweepBatchSize       = 100
)

// RetryEngine periodically sweeps deliveries whose retry time has passed and
// re-dispatches them. The single-flight guard prevents overlapping sweeps
// within one process; it does not coordinate across replicas, which would
// need a distributed claim on the delivery rows.
type RetryEngine struct {
	db         *sql.DB
	dispatcher *Dispatcher
	logger     *zap.Logger
	interval   time.Duration
	sweeping   atomic.Bool
	now        func() time.Time
}

// NewRetryEngine creates a retry engine sweeping at the given interval.
func NewRetryEngine(d *sql.DB, dispatcher *Dispatcher, logger *zap.Logger, interval time.Duration) *RetryEngine {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &RetryEngine{
		db:         d,
		dispatcher: dispatcher,
		logger:     logger.With(logging.Component("retry")),
		interval:   interval,
		now:        time.Now,
	}
}

// Run sweeps until the context is cancelled.
func (e *RetryEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("retry sweep started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("retry sweep stopped")
			return
		case <-ticker.C:
			n, err := e.ProcessRetries()
			if err != nil {
				e.logger.Error("retry sweep failed", zap.Error(err))
			} else if n > 0 {
				e.logger.Info("retry sweep dispatched deliveries", zap.Int("count", n))
			}
		}
	}
}

// ProcessRetries selects due deliveries with enabled parent registrations and
// re-dispatches them on their existing rows. Returns the number dispatched.
func (e *RetryEngine) ProcessRetries() (int, error) {
	if !e.sweeping.CompareAndSwap(false, true) {
		e.logger.Debug("sweep already in progress, skipping")
		return 0, nil
	}
	defer e.sweeping.Store(false)

	due, err := db.ListDueRetries(e.db, e.now().Unix(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, delivery := range due {
		wh, err := db.GetWebhook(e.db, delivery.WebhookID)
		if err != nil {
			e.logger.Error("failed to load webhook for retry",
				logging.DeliveryID(delivery.ID),
				zap.Error(err))
			continue
		}
		if wh == nil || !wh.Enabled {
			continue
		}
		if !e.dispatcher.tryEnqueue(*wh, delivery) {
			// Full queue: the row stays due and the next sweep picks it up.
			e.logger.Warn("dispatch queue full during sweep",
				logging.DeliveryID(delivery.ID))
			break
		}
		dispatched++
	}
	return dispatched, nil
}
