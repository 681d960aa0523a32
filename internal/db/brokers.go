package db

import (
	"database/sql"
	"time"

	"github.com/daon-network/broker-gateway/internal/models"
)

// CreateBroker inserts a new broker record and returns its ID.
func CreateBroker(d *sql.DB, b *models.Broker) (int64, error) {
	result, err := d.Exec(
		`INSERT INTO brokers (domain, display_name, tier, status, enabled,
			rate_limit_hourly, rate_limit_daily, require_signature, public_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Domain, b.DisplayName, b.Tier, b.Status, b.Enabled,
		b.RateLimitHourly, b.RateLimitDaily, b.RequireSignature, b.PublicKey, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const brokerColumns = `id, domain, display_name, tier, status, enabled,
	rate_limit_hourly, rate_limit_daily, require_signature, public_key,
	suspend_reason, suspended_at, revoked_at, created_at`

func scanBroker(row *sql.Row) (*models.Broker, error) {
	var b models.Broker
	err := row.Scan(&b.ID, &b.Domain, &b.DisplayName, &b.Tier, &b.Status, &b.Enabled,
		&b.RateLimitHourly, &b.RateLimitDaily, &b.RequireSignature, &b.PublicKey,
		&b.SuspendReason, &b.SuspendedAt, &b.RevokedAt, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBroker retrieves a broker by ID.
func GetBroker(d *sql.DB, id int64) (*models.Broker, error) {
	return scanBroker(d.QueryRow("SELECT "+brokerColumns+" FROM brokers WHERE id = ?", id))
}

// GetBrokerByDomain retrieves a broker by its registered domain.
func GetBrokerByDomain(d *sql.DB, domain string) (*models.Broker, error) {
	return scanBroker(d.QueryRow("SELECT "+brokerColumns+" FROM brokers WHERE domain = ?", domain))
}

// ListBrokers returns all brokers ordered by creation time.
func ListBrokers(d *sql.DB) ([]models.Broker, error) {
	rows, err := d.Query("SELECT " + brokerColumns + " FROM brokers ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brokers []models.Broker
	for rows.Next() {
		var b models.Broker
		if err := rows.Scan(&b.ID, &b.Domain, &b.DisplayName, &b.Tier, &b.Status, &b.Enabled,
			&b.RateLimitHourly, &b.RateLimitDaily, &b.RequireSignature, &b.PublicKey,
			&b.SuspendReason, &b.SuspendedAt, &b.RevokedAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		brokers = append(brokers, b)
	}
	return brokers, rows.Err()
}

// SuspendBroker sets the broker's suspended timestamp and reason if it is not
// already suspended. Returns true if this call performed the suspension.
func SuspendBroker(d *sql.DB, id int64, reason string) (bool, error) {
	result, err := d.Exec(
		`UPDATE brokers SET suspended_at = ?, suspend_reason = ?, status = ?
		 WHERE id = ? AND suspended_at IS NULL AND revoked_at IS NULL`,
		time.Now().Unix(), reason, models.StatusSuspended, id,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ReinstateBroker clears a suspension and restores active status.
func ReinstateBroker(d *sql.DB, id int64) error {
	_, err := d.Exec(
		`UPDATE brokers SET suspended_at = NULL, suspend_reason = NULL, status = ?
		 WHERE id = ? AND revoked_at IS NULL`,
		models.StatusActive, id,
	)
	return err
}

// RevokeBroker marks a broker revoked. Revocation is terminal.
func RevokeBroker(d *sql.DB, id int64) error {
	_, err := d.Exec(
		"UPDATE brokers SET revoked_at = ?, status = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().Unix(), models.StatusRevoked, id,
	)
	return err
}

// ActivateBroker moves a pending broker to active certification status.
func ActivateBroker(d *sql.DB, id int64) error {
	_, err := d.Exec(
		"UPDATE brokers SET status = ? WHERE id = ? AND status = ?",
		models.StatusActive, id, models.StatusPending,
	)
	return err
}
