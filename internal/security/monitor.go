// Package security records abuse and anomaly events and applies the
// gateway's single automatic enforcement action.
package security

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/logging"
	"github.com/daon-network/broker-gateway/internal/models"
)

// Event types recorded by the gateway.
const (
	EventInvalidCredential  = "invalid_credential"
	EventExpiredKey         = "expired_key"
	EventRateLimitExceeded  = "rate_limit_exceeded"
	EventSignatureInvalid   = "signature_invalid"
	EventSignatureMisconfig = "signature_misconfigured"
)

// Monitor persists security events. A persistence failure is logged and
// absorbed; a broken audit trail must not break the request path.
type Monitor struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMonitor creates a Monitor writing through the given database handle.
func NewMonitor(d *sql.DB, logger *zap.Logger) *Monitor {
	return &Monitor{
		db:     d,
		logger: logger.With(logging.Component("security")),
	}
}

// LogEvent records a security event. Manual review is required for high and
// critical severities. When the event carries the temp_suspend action, the
// broker is suspended idempotently: an already-suspended broker keeps its
// original suspension timestamp and reason.
func (m *Monitor) LogEvent(ev *models.SecurityEvent) {
	if ev.AutoAction == "" {
		ev.AutoAction = models.AutoActionNone
	}
	ev.ManualReviewRequired = ev.Severity == models.SeverityHigh || ev.Severity == models.SeverityCritical

	if _, err := db.InsertSecurityEvent(m.db, ev); err != nil {
		m.logger.Error("failed to persist security event",
			logging.BrokerID(ev.BrokerID),
			logging.EventType(ev.EventType),
			logging.Severity(ev.Severity),
			zap.Error(err))
		return
	}

	m.logger.Warn("security event",
		logging.BrokerID(ev.BrokerID),
		logging.EventType(ev.EventType),
		logging.Severity(ev.Severity),
		logging.AutoAction(ev.AutoAction))

	if ev.AutoAction == models.AutoActionTempSuspend {
		suspended, err := db.SuspendBroker(m.db, ev.BrokerID, ev.Description)
		if err != nil {
			m.logger.Error("failed to suspend broker",
				logging.BrokerID(ev.BrokerID),
				zap.Error(err))
			return
		}
		if suspended {
			m.logger.Warn("broker suspended automatically",
				logging.BrokerID(ev.BrokerID),
				logging.EventType(ev.EventType))
		}
	}
}
