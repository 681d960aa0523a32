package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daon-network/broker-gateway/internal/models"
)

// CreateAPIKey inserts a new API key for a broker and returns its ID.
func CreateAPIKey(d *sql.DB, brokerID int64, prefix string, hash []byte, scopes []string, expiresAt *int64) (int64, error) {
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return 0, fmt.Errorf("marshal scopes: %w", err)
	}
	result, err := d.Exec(
		`INSERT INTO api_keys (broker_id, key_prefix, key_hash, scopes, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		brokerID, prefix, hash, string(scopesJSON), expiresAt, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLiveKeyByPrefix retrieves the single non-revoked API key matching a prefix.
func GetLiveKeyByPrefix(d *sql.DB, prefix string) (*models.APIKey, error) {
	row := d.QueryRow(
		`SELECT id, broker_id, key_prefix, key_hash, scopes, expires_at,
			revoked_at, last_used_at, request_count, created_at
		 FROM api_keys WHERE key_prefix = ? AND revoked_at IS NULL`,
		prefix,
	)
	var key models.APIKey
	var scopesJSON string
	err := row.Scan(&key.ID, &key.BrokerID, &key.KeyPrefix, &key.KeyHash, &scopesJSON,
		&key.ExpiresAt, &key.RevokedAt, &key.LastUsedAt, &key.RequestCount, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopesJSON), &key.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return &key, nil
}

// TouchAPIKey records a successful use of the key: last-used timestamp plus
// cumulative request counter, incremented in the database rather than read
// back and rewritten.
func TouchAPIKey(d *sql.DB, id int64) error {
	_, err := d.Exec(
		"UPDATE api_keys SET last_used_at = ?, request_count = request_count + 1 WHERE id = ?",
		time.Now().Unix(), id,
	)
	return err
}

// RevokeAPIKey marks a key revoked.
func RevokeAPIKey(d *sql.DB, id int64) error {
	_, err := d.Exec(
		"UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().Unix(), id,
	)
	return err
}

// ListAPIKeysByBroker returns all keys issued to a broker.
func ListAPIKeysByBroker(d *sql.DB, brokerID int64) ([]models.APIKey, error) {
	rows, err := d.Query(
		`SELECT id, broker_id, key_prefix, key_hash, scopes, expires_at,
			revoked_at, last_used_at, request_count, created_at
		 FROM api_keys WHERE broker_id = ? ORDER BY created_at`,
		brokerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var key models.APIKey
		var scopesJSON string
		if err := rows.Scan(&key.ID, &key.BrokerID, &key.KeyPrefix, &key.KeyHash, &scopesJSON,
			&key.ExpiresAt, &key.RevokedAt, &key.LastUsedAt, &key.RequestCount, &key.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scopesJSON), &key.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CountAPIKeys returns the number of non-revoked API keys in the database.
func CountAPIKeys(d *sql.DB) (int, error) {
	var count int
	err := d.QueryRow("SELECT COUNT(*) FROM api_keys WHERE revoked_at IS NULL").Scan(&count)
	return count, err
}
