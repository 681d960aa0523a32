package db

import (
	"database/sql"
	"time"

	"github.com/daon-network/broker-gateway/internal/models"
)

// InsertSecurityEvent appends a security event and returns its ID. Events are
// immutable once written.
func InsertSecurityEvent(d *sql.DB, ev *models.SecurityEvent) (int64, error) {
	occurredAt := ev.OccurredAt
	if occurredAt == 0 {
		occurredAt = time.Now().Unix()
	}
	result, err := d.Exec(
		`INSERT INTO security_events (broker_id, event_type, severity, description,
			remote_ip, endpoint, request_snapshot, auto_action, manual_review_required, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.BrokerID, ev.EventType, ev.Severity, ev.Description,
		ev.RemoteIP, ev.Endpoint, ev.RequestSnapshot, ev.AutoAction, ev.ManualReviewRequired, occurredAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListSecurityEvents returns the most recent events for a broker.
func ListSecurityEvents(d *sql.DB, brokerID int64, limit int) ([]models.SecurityEvent, error) {
	rows, err := d.Query(
		`SELECT id, broker_id, event_type, severity, description, remote_ip,
			endpoint, request_snapshot, auto_action, manual_review_required, occurred_at
		 FROM security_events WHERE broker_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		brokerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.SecurityEvent
	for rows.Next() {
		var ev models.SecurityEvent
		if err := rows.Scan(&ev.ID, &ev.BrokerID, &ev.EventType, &ev.Severity, &ev.Description,
			&ev.RemoteIP, &ev.Endpoint, &ev.RequestSnapshot, &ev.AutoAction,
			&ev.ManualReviewRequired, &ev.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
