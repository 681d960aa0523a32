// Package webhook implements event fan-out to broker-registered endpoints
// and the delivery retry state machine.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/logging"
	"github.com/daon-network/broker-gateway/internal/models"
)

const (
	deliveryTimeout = 10 * time.Second
	maxResponseBody = 1000
	userAgent       = "daon-broker-gateway/1.0"

	defaultMaxRetries        = 3
	defaultRetryDelaySeconds = 60
)

// Headers set by the gateway on every delivery. Broker-supplied custom
// headers cannot override these.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

var (
	ErrInvalidURL       = errors.New("webhook URL is not a valid http or https URL")
	ErrUnknownEventType = errors.New("unknown webhook event type")
)

type task struct {
	webhook  models.Webhook
	delivery models.WebhookDelivery
}

// Options carries the optional knobs of a webhook registration.
type Options struct {
	MaxRetries        int
	RetryDelaySeconds int
	CustomHeaders     map[string]string
}

// Dispatcher fans out domain events to registered endpoints through a
// bounded worker pool. Triggering is fire-and-forget: the caller is never
// blocked by, and never observes, delivery outcomes.
type Dispatcher struct {
	db     *sql.DB
	logger *zap.Logger
	client *http.Client
	tasks  chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewDispatcher creates a dispatcher with the given worker pool size and
// queue capacity.
func NewDispatcher(d *sql.DB, logger *zap.Logger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	disp := &Dispatcher{
		db:     d,
		logger: logger.With(logging.Component("webhook")),
		client: &http.Client{Timeout: deliveryTimeout},
		tasks:  make(chan task, queueSize),
		now:    time.Now,
	}
	disp.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go disp.worker()
	}
	return disp
}

// Close stops accepting work and waits for in-flight deliveries to finish.
// An attempt already started runs to completion or to its timeout. Further
// enqueue attempts are refused; the rows stay due for the next sweep.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.deliver(&t.webhook, &t.delivery)
	}
}

// Register validates and upserts a webhook registration. Re-registering the
// same URL for the same broker rotates the secret and replaces the
// subscribed events and retry limits instead of duplicating the
// registration.
func (d *Dispatcher) Register(brokerID int64, rawURL, secret string, events []string, opts Options) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, ErrInvalidURL
	}
	if len(events) == 0 {
		return 0, fmt.Errorf("%w: at least one event type required", ErrUnknownEventType)
	}
	for _, ev := range events {
		if !models.IsWebhookEventType(ev) {
			return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, ev)
		}
	}

	wh := &models.Webhook{
		BrokerID:          brokerID,
		URL:               rawURL,
		Secret:            secret,
		Events:            events,
		Enabled:           true,
		MaxRetries:        opts.MaxRetries,
		RetryDelaySeconds: opts.RetryDelaySeconds,
		CustomHeaders:     opts.CustomHeaders,
	}
	if wh.MaxRetries <= 0 {
		wh.MaxRetries = defaultMaxRetries
	}
	if wh.RetryDelaySeconds <= 0 {
		wh.RetryDelaySeconds = defaultRetryDelaySeconds
	}

	id, err := db.UpsertWebhook(d.db, wh)
	if err != nil {
		return 0, fmt.Errorf("upsert webhook: %w", err)
	}

	d.logger.Info("webhook registered",
		logging.BrokerID(brokerID),
		logging.WebhookID(id),
		logging.URL(rawURL))
	return id, nil
}

// Trigger creates a pending delivery for every enabled registration
// subscribed to eventType and schedules them asynchronously. It never
// returns an error: delivery problems are internal to the retry state
// machine and must not surface to the event producer.
func (d *Dispatcher) Trigger(brokerID int64, eventType string, data map[string]any) {
	webhooks, err := db.ListEnabledWebhooksForEvent(d.db, brokerID, eventType)
	if err != nil {
		d.logger.Error("failed to list webhooks for event",
			logging.BrokerID(brokerID),
			logging.EventType(eventType),
			zap.Error(err))
		return
	}
	if len(webhooks) == 0 {
		return
	}

	body := map[string]any{
		"event":     eventType,
		"timestamp": d.now().UTC().Format(time.RFC3339),
		"data":      data,
		"broker_id": brokerID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		d.logger.Error("failed to serialize event payload",
			logging.EventType(eventType),
			zap.Error(err))
		return
	}

	for _, wh := range webhooks {
		delivery := models.WebhookDelivery{
			ID:        uuid.NewString(),
			WebhookID: wh.ID,
			BrokerID:  brokerID,
			EventType: eventType,
			Payload:   string(payload),
			Status:    models.DeliveryPending,
		}
		if err := db.CreateDelivery(d.db, &delivery); err != nil {
			d.logger.Error("failed to create delivery",
				logging.WebhookID(wh.ID),
				logging.EventType(eventType),
				zap.Error(err))
			continue
		}
		if !d.tryEnqueue(wh, delivery) {
			// Full queue: schedule through the retry sweep instead of
			// blocking the caller.
			d.logger.Warn("dispatch queue full, deferring delivery",
				logging.DeliveryID(delivery.ID))
			d.HandleFailure(&delivery, &wh, 0, "dispatch queue full")
		}
	}
}

func (d *Dispatcher) tryEnqueue(wh models.Webhook, delivery models.WebhookDelivery) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.tasks <- task{webhook: wh, delivery: delivery}:
		return true
	default:
		return false
	}
}

// deliver performs one HTTP POST attempt against the registered endpoint,
// mutating the existing delivery row with the outcome.
func (d *Dispatcher) deliver(wh *models.Webhook, delivery *models.WebhookDelivery) {
	req, err := http.NewRequest(http.MethodPost, wh.URL, strings.NewReader(delivery.Payload))
	if err != nil {
		d.HandleFailure(delivery, wh, 0, fmt.Sprintf("build request: %v", err))
		return
	}

	// Custom headers first, mandatory headers after: brokers cannot
	// override the signature, event, delivery id, or timestamp headers.
	for k, v := range wh.CustomHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, Sign(wh.Secret, []byte(delivery.Payload)))
	req.Header.Set(HeaderEvent, delivery.EventType)
	req.Header.Set(HeaderDelivery, delivery.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))

	start := d.now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.HandleFailure(delivery, wh, 0, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	durationMS := time.Since(start).Milliseconds()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		headersJSON, err := json.Marshal(resp.Header)
		if err != nil {
			headersJSON = []byte("{}")
		}
		if err := db.MarkDeliverySuccess(d.db, delivery.ID, resp.StatusCode, string(body), string(headersJSON), durationMS); err != nil {
			d.logger.Error("failed to record delivery success",
				logging.DeliveryID(delivery.ID),
				zap.Error(err))
		}
		if err := db.TouchWebhook(d.db, wh.ID); err != nil {
			d.logger.Warn("failed to record webhook trigger time",
				logging.WebhookID(wh.ID),
				zap.Error(err))
		}
		d.logger.Info("webhook delivered",
			logging.DeliveryID(delivery.ID),
			logging.WebhookID(wh.ID),
			logging.HTTPStatus(resp.StatusCode),
			zap.Int64("duration_ms", durationMS))
		return
	}

	d.HandleFailure(delivery, wh, resp.StatusCode, fmt.Sprintf("endpoint returned status %d", resp.StatusCode))
}

// HandleFailure advances the delivery state machine after a failed attempt.
// Below the registration's max retries the delivery is scheduled for an
// exponentially backed-off retry on the same row; once retries are exhausted
// it reaches the failed terminal state and is never revisited.
func (d *Dispatcher) HandleFailure(delivery *models.WebhookDelivery, wh *models.Webhook, statusCode int, errMsg string) {
	if delivery.RetryCount < wh.MaxRetries {
		delay := time.Duration(wh.RetryDelaySeconds) * time.Second << delivery.RetryCount
		nextRetryAt := d.now().Add(delay).Unix()
		if err := db.MarkDeliveryRetrying(d.db, delivery.ID, statusCode, errMsg, nextRetryAt); err != nil {
			d.logger.Error("failed to schedule delivery retry",
				logging.DeliveryID(delivery.ID),
				zap.Error(err))
			return
		}
		d.logger.Info("webhook delivery failed, retry scheduled",
			logging.DeliveryID(delivery.ID),
			logging.WebhookID(wh.ID),
			logging.HTTPStatus(statusCode),
			logging.RetryCount(delivery.RetryCount+1),
			zap.Int64("next_retry_at", nextRetryAt),
			zap.String("error", errMsg))
		return
	}

	if err := db.MarkDeliveryFailed(d.db, delivery.ID, statusCode, errMsg); err != nil {
		d.logger.Error("failed to record delivery failure",
			logging.DeliveryID(delivery.ID),
			zap.Error(err))
		return
	}
	d.logger.Warn("webhook delivery failed permanently",
		logging.DeliveryID(delivery.ID),
		logging.WebhookID(wh.ID),
		logging.RetryCount(delivery.RetryCount),
		zap.String("error", errMsg))
}

// Sign computes the delivery signature: HMAC-SHA256 of the payload keyed by
// the registration secret, formatted as "sha256=<hex>".
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
