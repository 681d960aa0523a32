package api

type RegisterContentRequest struct {
	ContentHash string `json:"content_hash"`
	Creator     string `json:"creator"`
	License     string `json:"license"`
	Platform    string `json:"platform"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type RegisterContentResponse struct {
	TxHash string `json:"tx_hash"`
}

type VerifyContentResponse struct {
	Verified     bool   `json:"verified"`
	Creator      string `json:"creator,omitempty"`
	License      string `json:"license,omitempty"`
	Platform     string `json:"platform,omitempty"`
	RegisteredAt string `json:"registered_at,omitempty"`
	Proof        string `json:"proof,omitempty"`
}

type TransferContentRequest struct {
	NewOwner string `json:"new_owner"`
}

type TransferContentResponse struct {
	TxHash string `json:"tx_hash"`
}

type CreateDisputeRequest struct {
	ContentHash string `json:"content_hash"`
	Reason      string `json:"reason"`
}

type CreateDisputeResponse struct {
	Recorded bool `json:"recorded"`
}

type RegisterWebhookRequest struct {
	URL               string            `json:"url"`
	Secret            string            `json:"secret"`
	Events            []string          `json:"events"`
	MaxRetries        int               `json:"max_retries,omitempty"`
	RetryDelaySeconds int               `json:"retry_delay_seconds,omitempty"`
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
}

type RegisterWebhookResponse struct {
	WebhookID int64 `json:"webhook_id"`
}

type WebhookInfo struct {
	ID              int64    `json:"id"`
	URL             string   `json:"url"`
	Events          []string `json:"events"`
	Enabled         bool     `json:"enabled"`
	MaxRetries      int      `json:"max_retries"`
	RetryDelay      int      `json:"retry_delay_seconds"`
	LastTriggeredAt *string  `json:"last_triggered_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

type ListWebhooksResponse struct {
	Webhooks []WebhookInfo `json:"webhooks"`
}

type DeliveryInfo struct {
	ID           string  `json:"id"`
	EventType    string  `json:"event_type"`
	Status       string  `json:"status"`
	HTTPStatus   *int    `json:"http_status,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	RetryCount   int     `json:"retry_count"`
	NextRetryAt  *string `json:"next_retry_at,omitempty"`
	DurationMS   *int64  `json:"duration_ms,omitempty"`
	SentAt       string  `json:"sent_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

type ListDeliveriesResponse struct {
	WebhookID  int64          `json:"webhook_id"`
	Deliveries []DeliveryInfo `json:"deliveries"`
}

type LimitsResponse struct {
	HourlyLimit     int64  `json:"hourly_limit"`
	DailyLimit      int64  `json:"daily_limit"`
	RemainingHourly int64  `json:"remaining_hourly"`
	RemainingDaily  int64  `json:"remaining_daily"`
	ResetHourly     string `json:"reset_hourly"`
	ResetDaily      string `json:"reset_daily"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
