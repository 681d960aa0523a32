package auth

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/logging"
	"github.com/daon-network/broker-gateway/internal/models"
	"github.com/daon-network/broker-gateway/internal/security"
)

// Gate authenticates broker credentials against stored state, enforcing the
// broker lifecycle. Authentication failure is a nil result, never an error;
// errors are reserved for storage faults.
type Gate struct {
	db      *sql.DB
	monitor *security.Monitor
	logger  *zap.Logger
	touches sync.WaitGroup
}

// NewGate creates an authentication gate.
func NewGate(d *sql.DB, monitor *security.Monitor, logger *zap.Logger) *Gate {
	return &Gate{
		db:      d,
		monitor: monitor,
		logger:  logger.With(logging.Component("authgate")),
	}
}

// Authenticate resolves a raw credential to its broker and API key. A nil
// broker means the credential was rejected. An unknown prefix is not logged:
// it is indistinguishable from guessing and recording it would create a
// logging side channel.
func (g *Gate) Authenticate(rawCredential, remoteIP string) (*models.Broker, *models.APIKey, error) {
	prefix, secret, err := ParseCredential(rawCredential)
	if err != nil {
		return nil, nil, nil
	}

	key, err := db.GetLiveKeyByPrefix(g.db, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup key by prefix: %w", err)
	}
	if key == nil {
		return nil, nil, nil
	}

	if !VerifySecret(secret, key.KeyHash) {
		g.monitor.LogEvent(&models.SecurityEvent{
			BrokerID:    key.BrokerID,
			EventType:   security.EventInvalidCredential,
			Severity:    models.SeverityMedium,
			Description: "credential secret did not match stored hash",
			RemoteIP:    remoteIP,
		})
		return nil, nil, nil
	}

	if key.ExpiresAt != nil && *key.ExpiresAt <= time.Now().Unix() {
		g.monitor.LogEvent(&models.SecurityEvent{
			BrokerID:    key.BrokerID,
			EventType:   security.EventExpiredKey,
			Severity:    models.SeverityLow,
			Description: "authentication attempted with expired key",
			RemoteIP:    remoteIP,
		})
		return nil, nil, nil
	}

	broker, err := db.GetBroker(g.db, key.BrokerID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup broker: %w", err)
	}
	if broker == nil {
		return nil, nil, nil
	}

	// Disabled, suspended, and revoked are expected lifecycle states, not
	// anomalies; they reject without logging a security event.
	if !broker.Enabled || broker.Status != models.StatusActive ||
		broker.SuspendedAt != nil || broker.RevokedAt != nil {
		return nil, nil, nil
	}

	g.touches.Add(1)
	go func() {
		defer g.touches.Done()
		if err := db.TouchAPIKey(g.db, key.ID); err != nil {
			g.logger.Warn("failed to record key usage",
				logging.KeyPrefix(key.KeyPrefix),
				zap.Error(err))
		}
	}()

	return broker, key, nil
}

// Wait blocks until in-flight usage updates have been written. Called during
// shutdown before the database closes.
func (g *Gate) Wait() {
	g.touches.Wait()
}
