// Package models defines the database entity types.
package models

// Certification tiers for brokers.
const (
	TierCommunity  = "community"
	TierStandard   = "standard"
	TierEnterprise = "enterprise"
)

// Certification statuses for brokers.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusRevoked   = "revoked"
)

// Security event severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Automatic actions a security event may carry.
const (
	AutoActionNone        = "none"
	AutoActionRateLimit   = "rate_limit"
	AutoActionTempSuspend = "temp_suspend"
)

// Webhook event types brokers can subscribe to.
const (
	EventContentProtected   = "content.protected"
	EventContentTransferred = "content.transferred"
	EventContentVerified    = "content.verified"
	EventIdentityVerified   = "identity.verified"
	EventContentDisputed    = "content.disputed"
)

// WebhookEventTypes is the fixed set of subscribable event types.
var WebhookEventTypes = []string{
	EventContentProtected,
	EventContentTransferred,
	EventContentVerified,
	EventIdentityVerified,
	EventContentDisputed,
}

// IsWebhookEventType reports whether s is a member of the event type enum.
func IsWebhookEventType(s string) bool {
	for _, t := range WebhookEventTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Delivery statuses. Transitions are forward-only:
// pending -> retrying* -> success | failed.
const (
	DeliveryPending  = "pending"
	DeliveryRetrying = "retrying"
	DeliverySuccess  = "success"
	DeliveryFailed   = "failed"
)

// Rate limit bucket types.
const (
	BucketHour = "hour"
	BucketDay  = "day"
)

// Broker represents a third-party platform integrating against the gateway.
type Broker struct {
	ID               int64
	Domain           string
	DisplayName      string
	Tier             string
	Status           string
	Enabled          bool
	RateLimitHourly  int64
	RateLimitDaily   int64
	RequireSignature bool
	PublicKey        *string
	SuspendReason    *string
	SuspendedAt      *int64
	RevokedAt        *int64
	CreatedAt        int64
}

// APIKey represents an issued broker credential.
type APIKey struct {
	ID           int64
	BrokerID     int64
	KeyPrefix    string
	KeyHash      []byte
	Scopes       []string
	ExpiresAt    *int64
	RevokedAt    *int64
	LastUsedAt   *int64
	RequestCount int64
	CreatedAt    int64
}

// SecurityEvent is an append-only record of an anomaly observed at the gateway.
type SecurityEvent struct {
	ID                   int64
	BrokerID             int64
	EventType            string
	Severity             string
	Description          string
	RemoteIP             string
	Endpoint             string
	RequestSnapshot      string
	AutoAction           string
	ManualReviewRequired bool
	OccurredAt           int64
}

// Webhook represents a broker's registered notification endpoint.
type Webhook struct {
	ID                int64
	BrokerID          int64
	URL               string
	Secret            string
	Events            []string
	Enabled           bool
	MaxRetries        int
	RetryDelaySeconds int
	CustomHeaders     map[string]string
	LastTriggeredAt   *int64
	CreatedAt         int64
}

// WebhookDelivery is one logical notification attempt-sequence. The same row
// is mutated across every retry of one delivery.
type WebhookDelivery struct {
	ID              string
	WebhookID       int64
	BrokerID        int64
	EventType       string
	Payload         string
	Status          string
	HTTPStatus      *int
	ErrorMessage    *string
	ResponseBody    *string
	ResponseHeaders *string
	RetryCount      int
	NextRetryAt     *int64
	DurationMS      *int64
	SentAt          int64
	CompletedAt     *int64
}
