package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daon-network/broker-gateway/internal/models"
)

// UpsertWebhook inserts a webhook registration, or, when the broker has
// already registered the same URL, rotates the secret and replaces events and
// retry limits in place. Returns the registration ID.
func UpsertWebhook(d *sql.DB, wh *models.Webhook) (int64, error) {
	eventsJSON, err := json.Marshal(wh.Events)
	if err != nil {
		return 0, fmt.Errorf("marshal events: %w", err)
	}
	headers := wh.CustomHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return 0, fmt.Errorf("marshal custom headers: %w", err)
	}

	var id int64
	err = d.QueryRow(
		`INSERT INTO webhooks (broker_id, url, secret, events, enabled,
			max_retries, retry_delay_seconds, custom_headers, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(broker_id, url) DO UPDATE SET
			secret = excluded.secret,
			events = excluded.events,
			enabled = excluded.enabled,
			max_retries = excluded.max_retries,
			retry_delay_seconds = excluded.retry_delay_seconds,
			custom_headers = excluded.custom_headers
		 RETURNING id`,
		wh.BrokerID, wh.URL, wh.Secret, string(eventsJSON), wh.Enabled,
		wh.MaxRetries, wh.RetryDelaySeconds, string(headersJSON), time.Now().Unix(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const webhookColumns = `id, broker_id, url, secret, events, enabled,
	max_retries, retry_delay_seconds, custom_headers, last_triggered_at, created_at`

func scanWebhook(scan func(dest ...any) error) (*models.Webhook, error) {
	var wh models.Webhook
	var eventsJSON, headersJSON string
	err := scan(&wh.ID, &wh.BrokerID, &wh.URL, &wh.Secret, &eventsJSON, &wh.Enabled,
		&wh.MaxRetries, &wh.RetryDelaySeconds, &headersJSON, &wh.LastTriggeredAt, &wh.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &wh.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	if err := json.Unmarshal([]byte(headersJSON), &wh.CustomHeaders); err != nil {
		return nil, fmt.Errorf("unmarshal custom headers: %w", err)
	}
	return &wh, nil
}

// GetWebhook retrieves a webhook registration by ID.
func GetWebhook(d *sql.DB, id int64) (*models.Webhook, error) {
	row := d.QueryRow("SELECT "+webhookColumns+" FROM webhooks WHERE id = ?", id)
	wh, err := scanWebhook(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wh, err
}

// ListWebhooksByBroker returns all of a broker's registrations.
func ListWebhooksByBroker(d *sql.DB, brokerID int64) ([]models.Webhook, error) {
	rows, err := d.Query("SELECT "+webhookColumns+" FROM webhooks WHERE broker_id = ? ORDER BY created_at", brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, *wh)
	}
	return webhooks, rows.Err()
}

// ListEnabledWebhooksForEvent returns the broker's enabled registrations whose
// subscribed events contain eventType.
func ListEnabledWebhooksForEvent(d *sql.DB, brokerID int64, eventType string) ([]models.Webhook, error) {
	all, err := ListWebhooksByBroker(d, brokerID)
	if err != nil {
		return nil, err
	}
	var matched []models.Webhook
	for _, wh := range all {
		if !wh.Enabled {
			continue
		}
		for _, ev := range wh.Events {
			if ev == eventType {
				matched = append(matched, wh)
				break
			}
		}
	}
	return matched, nil
}

// DeleteWebhook removes a registration and, via cascade, its deliveries.
func DeleteWebhook(d *sql.DB, id int64, brokerID int64) (bool, error) {
	result, err := d.Exec("DELETE FROM webhooks WHERE id = ? AND broker_id = ?", id, brokerID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// TouchWebhook records the last successful trigger time.
func TouchWebhook(d *sql.DB, id int64) error {
	_, err := d.Exec("UPDATE webhooks SET last_triggered_at = ? WHERE id = ?", time.Now().Unix(), id)
	return err
}
