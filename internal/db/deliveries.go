package db

import (
	"database/sql"
	"time"

	"github.com/daon-network/broker-gateway/internal/models"
)

// CreateDelivery inserts a new delivery row in pending status.
func CreateDelivery(d *sql.DB, del *models.WebhookDelivery) error {
	_, err := d.Exec(
		`INSERT INTO webhook_deliveries (id, webhook_id, broker_id, event_type, payload, status, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		del.ID, del.WebhookID, del.BrokerID, del.EventType, del.Payload, models.DeliveryPending, time.Now().Unix(),
	)
	return err
}

const deliveryColumns = `id, webhook_id, broker_id, event_type, payload, status,
	http_status, error_message, response_body, response_headers,
	retry_count, next_retry_at, duration_ms, sent_at, completed_at`

func scanDelivery(scan func(dest ...any) error) (*models.WebhookDelivery, error) {
	var del models.WebhookDelivery
	err := scan(&del.ID, &del.WebhookID, &del.BrokerID, &del.EventType, &del.Payload, &del.Status,
		&del.HTTPStatus, &del.ErrorMessage, &del.ResponseBody, &del.ResponseHeaders,
		&del.RetryCount, &del.NextRetryAt, &del.DurationMS, &del.SentAt, &del.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &del, nil
}

// GetDelivery retrieves a delivery row by ID.
func GetDelivery(d *sql.DB, id string) (*models.WebhookDelivery, error) {
	row := d.QueryRow("SELECT "+deliveryColumns+" FROM webhook_deliveries WHERE id = ?", id)
	del, err := scanDelivery(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return del, err
}

// MarkDeliverySuccess moves a delivery to its success terminal state. The
// status guard makes terminal states unrevisitable.
func MarkDeliverySuccess(d *sql.DB, id string, httpStatus int, body string, headers string, durationMS int64) error {
	_, err := d.Exec(
		`UPDATE webhook_deliveries SET status = ?, http_status = ?, response_body = ?,
			response_headers = ?, duration_ms = ?, error_message = NULL,
			next_retry_at = NULL, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		models.DeliverySuccess, httpStatus, body, headers, durationMS, time.Now().Unix(),
		id, models.DeliveryPending, models.DeliveryRetrying,
	)
	return err
}

// MarkDeliveryRetrying schedules the next attempt for a failed delivery,
// incrementing the retry counter on the same row.
func MarkDeliveryRetrying(d *sql.DB, id string, httpStatus int, errMsg string, nextRetryAt int64) error {
	var status any
	if httpStatus > 0 {
		status = httpStatus
	}
	_, err := d.Exec(
		`UPDATE webhook_deliveries SET status = ?, http_status = ?, error_message = ?,
			retry_count = retry_count + 1, next_retry_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		models.DeliveryRetrying, status, errMsg, nextRetryAt,
		id, models.DeliveryPending, models.DeliveryRetrying,
	)
	return err
}

// MarkDeliveryFailed moves a delivery to its failed terminal state after
// retries are exhausted.
func MarkDeliveryFailed(d *sql.DB, id string, httpStatus int, errMsg string) error {
	var status any
	if httpStatus > 0 {
		status = httpStatus
	}
	_, err := d.Exec(
		`UPDATE webhook_deliveries SET status = ?, http_status = ?, error_message = ?,
			next_retry_at = NULL, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		models.DeliveryFailed, status, errMsg, time.Now().Unix(),
		id, models.DeliveryPending, models.DeliveryRetrying,
	)
	return err
}

// ListDueRetries returns up to limit deliveries that are waiting on a retry
// whose time has come, restricted to enabled parent registrations.
func ListDueRetries(d *sql.DB, now int64, limit int) ([]models.WebhookDelivery, error) {
	rows, err := d.Query(
		`SELECT d.id, d.webhook_id, d.broker_id, d.event_type, d.payload, d.status,
			d.http_status, d.error_message, d.response_body, d.response_headers,
			d.retry_count, d.next_retry_at, d.duration_ms, d.sent_at, d.completed_at
		 FROM webhook_deliveries d
		 JOIN webhooks w ON w.id = d.webhook_id
		 WHERE d.status = ? AND d.next_retry_at <= ? AND w.enabled = 1
		 ORDER BY d.next_retry_at LIMIT ?`,
		models.DeliveryRetrying, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.WebhookDelivery
	for rows.Next() {
		del, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *del)
	}
	return deliveries, rows.Err()
}

// ListDeliveriesByWebhook returns the most recent deliveries for a registration.
func ListDeliveriesByWebhook(d *sql.DB, webhookID int64, limit int) ([]models.WebhookDelivery, error) {
	rows, err := d.Query(
		"SELECT "+deliveryColumns+" FROM webhook_deliveries WHERE webhook_id = ? ORDER BY sent_at DESC, id LIMIT ?",
		webhookID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.WebhookDelivery
	for rows.Next() {
		del, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *del)
	}
	return deliveries, rows.Err()
}
