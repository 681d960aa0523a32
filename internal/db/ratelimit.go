package db

import (
	"database/sql"
)

// IncrementBucket atomically inserts a rate-limit bucket with count 1, or
// increments an existing one, and returns the resulting count. This is a
// single round trip against the store so that concurrent replicas never race
// on a read-modify-write.
func IncrementBucket(d *sql.DB, brokerID int64, bucketStart int64, bucketType string) (int64, error) {
	var count int64
	err := d.QueryRow(
		`INSERT INTO rate_limit_buckets (broker_id, bucket_start, bucket_type, count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(broker_id, bucket_start, bucket_type)
		 DO UPDATE SET count = count + 1
		 RETURNING count`,
		brokerID, bucketStart, bucketType,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetBucketCount returns the current count for a bucket without incrementing,
// or zero if the bucket does not exist yet.
func GetBucketCount(d *sql.DB, brokerID int64, bucketStart int64, bucketType string) (int64, error) {
	var count int64
	err := d.QueryRow(
		"SELECT count FROM rate_limit_buckets WHERE broker_id = ? AND bucket_start = ? AND bucket_type = ?",
		brokerID, bucketStart, bucketType,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// PruneBuckets deletes buckets that started before the cutoff.
func PruneBuckets(d *sql.DB, cutoff int64) (int64, error) {
	result, err := d.Exec("DELETE FROM rate_limit_buckets WHERE bucket_start < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
