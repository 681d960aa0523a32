// Package server implements the broker-facing REST API.
package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/api"
	"github.com/daon-network/broker-gateway/internal/auth"
	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/ledger"
	"github.com/daon-network/broker-gateway/internal/logging"
	"github.com/daon-network/broker-gateway/internal/models"
	"github.com/daon-network/broker-gateway/internal/ratelimit"
	"github.com/daon-network/broker-gateway/internal/signature"
	"github.com/daon-network/broker-gateway/internal/webhook"
)

type contextKey string

const (
	brokerContextKey contextKey = "broker"
	apiKeyContextKey contextKey = "apiKey"
)

const signatureHeader = "X-Daon-Signature"

func getBroker(r *http.Request) *models.Broker {
	if b, ok := r.Context().Value(brokerContextKey).(*models.Broker); ok {
		return b
	}
	return nil
}

// APIServer handles the authenticated broker REST API.
type APIServer struct {
	DB         *sql.DB
	Logger     *zap.Logger
	Gate       *auth.Gate
	Limiter    *ratelimit.Limiter
	Verifier   *signature.Verifier
	Dispatcher *webhook.Dispatcher
	Ledger     ledger.Client
}

// AuthMiddleware validates broker API key authentication. Rejections are a
// uniform 401; the reason is not disclosed to the caller.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		apiKey, ok := bearerToken(authHeader)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}

		broker, key, err := s.Gate.Authenticate(apiKey, remoteIP(r))
		if err != nil {
			s.Logger.Error("authentication storage fault", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
			return
		}
		if broker == nil {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}

		ctx := context.WithValue(r.Context(), brokerContextKey, broker)
		ctx = context.WithValue(ctx, apiKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware counts the request against the broker's hourly and
// daily windows and rejects with 429 once a limit is crossed.
func (s *APIServer) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		broker := getBroker(r)
		result, err := s.Limiter.CheckAndIncrement(broker, r.URL.Path)
		if err != nil {
			s.Logger.Error("rate limit storage fault", logging.BrokerID(broker.ID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
			return
		}

		w.Header().Set("X-RateLimit-Remaining-Hourly", strconv.FormatInt(result.RemainingHourly, 10))
		w.Header().Set("X-RateLimit-Remaining-Daily", strconv.FormatInt(result.RemainingDaily, 10))
		w.Header().Set("X-RateLimit-Reset-Hourly", strconv.FormatInt(result.ResetHourly, 10))
		w.Header().Set("X-RateLimit-Reset-Daily", strconv.FormatInt(result.ResetDaily, 10))

		if !result.Allowed {
			retryAfter := result.ResetHourly - time.Now().Unix()
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			}
			writeJSON(w, http.StatusTooManyRequests, api.ErrorResponse{Error: "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SignatureMiddleware verifies the detached request signature on mutating
// requests for brokers that are required to sign.
func (s *APIServer) SignatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		broker := getBroker(r)
		if r.Method != http.MethodPost || !broker.RequireSignature {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "request body too large"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !s.Verifier.Verify(broker, body, r.Header.Get(signatureHeader)) {
			writeJSON(w, http.StatusForbidden, api.ErrorResponse{Error: "invalid request signature"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler for the broker API.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/content", s.handleRegisterContent)
	mux.HandleFunc("GET /v1/content/{hash}", s.handleVerifyContent)
	mux.HandleFunc("POST /v1/content/{hash}/transfer", s.handleTransferContent)
	mux.HandleFunc("POST /v1/disputes", s.handleCreateDispute)
	mux.HandleFunc("POST /v1/webhooks", s.handleRegisterWebhook)
	mux.HandleFunc("GET /v1/webhooks", s.handleListWebhooks)
	mux.HandleFunc("DELETE /v1/webhooks/{id}", s.handleDeleteWebhook)
	mux.HandleFunc("GET /v1/webhooks/{id}/deliveries", s.handleListDeliveries)

	limited := s.RateLimitMiddleware(s.SignatureMiddleware(mux))

	outer := http.NewServeMux()
	// Reading your own limits does not consume quota.
	outer.HandleFunc("GET /v1/limits", s.handleGetLimits)
	outer.Handle("/", limited)

	return s.AuthMiddleware(outer)
}

func (s *APIServer) handleRegisterContent(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)

	var req api.RegisterContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ContentHash == "" || req.Creator == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "content_hash and creator are required"})
		return
	}

	txHash, err := s.Ledger.RegisterContent(r.Context(), ledger.Registration{
		ContentHash: req.ContentHash,
		Creator:     req.Creator,
		License:     req.License,
		Platform:    req.Platform,
		Fingerprint: req.Fingerprint,
	})
	if err != nil {
		s.Logger.Error("ledger registration failed",
			logging.BrokerID(broker.ID),
			logging.ContentHash(req.ContentHash),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: "ledger unavailable"})
		return
	}

	s.Dispatcher.Trigger(broker.ID, models.EventContentProtected, map[string]any{
		"content_hash": req.ContentHash,
		"creator":      req.Creator,
		"platform":     req.Platform,
		"tx_hash":      txHash,
	})

	writeJSON(w, http.StatusOK, api.RegisterContentResponse{TxHash: txHash})
}

func (s *APIServer) handleVerifyContent(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)
	contentHash := r.PathValue("hash")
	if contentHash == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "content hash required"})
		return
	}

	verification, err := s.Ledger.VerifyContent(r.Context(), contentHash)
	if err != nil {
		s.Logger.Error("ledger verification failed",
			logging.BrokerID(broker.ID),
			logging.ContentHash(contentHash),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: "ledger unavailable"})
		return
	}

	if verification.Verified {
		s.Dispatcher.Trigger(broker.ID, models.EventContentVerified, map[string]any{
			"content_hash": contentHash,
			"creator":      verification.Creator,
		})
	}

	writeJSON(w, http.StatusOK, api.VerifyContentResponse{
		Verified:     verification.Verified,
		Creator:      verification.Creator,
		License:      verification.License,
		Platform:     verification.Platform,
		RegisteredAt: verification.RegisteredAt,
		Proof:        verification.Proof,
	})
}

func (s *APIServer) handleTransferContent(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)
	contentHash := r.PathValue("hash")

	var req api.TransferContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NewOwner == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "new_owner is required"})
		return
	}

	txHash, err := s.Ledger.TransferOwnership(r.Context(), contentHash, req.NewOwner)
	if err != nil {
		s.Logger.Error("ledger transfer failed",
			logging.BrokerID(broker.ID),
			logging.ContentHash(contentHash),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: "ledger unavailable"})
		return
	}

	s.Dispatcher.Trigger(broker.ID, models.EventContentTransferred, map[string]any{
		"content_hash": contentHash,
		"new_owner":    req.NewOwner,
		"tx_hash":      txHash,
	})

	writeJSON(w, http.StatusOK, api.TransferContentResponse{TxHash: txHash})
}

func (s *APIServer) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)

	var req api.CreateDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ContentHash == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "content_hash is required"})
		return
	}

	s.Dispatcher.Trigger(broker.ID, models.EventContentDisputed, map[string]any{
		"content_hash": req.ContentHash,
		"reason":       req.Reason,
	})

	writeJSON(w, http.StatusOK, api.CreateDisputeResponse{Recorded: true})
}

func (s *APIServer) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)

	var req api.RegisterWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Secret == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "secret is required"})
		return
	}

	id, err := s.Dispatcher.Register(broker.ID, req.URL, req.Secret, req.Events, webhook.Options{
		MaxRetries:        req.MaxRetries,
		RetryDelaySeconds: req.RetryDelaySeconds,
		CustomHeaders:     req.CustomHeaders,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidURL) || errors.Is(err, webhook.ErrUnknownEventType) {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
			return
		}
		s.Logger.Error("webhook registration failed", logging.BrokerID(broker.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, api.RegisterWebhookResponse{WebhookID: id})
}

func (s *APIServer) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)

	webhooks, err := db.ListWebhooksByBroker(s.DB, broker.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}

	resp := api.ListWebhooksResponse{Webhooks: make([]api.WebhookInfo, 0, len(webhooks))}
	for _, wh := range webhooks {
		resp.Webhooks = append(resp.Webhooks, api.WebhookInfo{
			ID:              wh.ID,
			URL:             wh.URL,
			Events:          wh.Events,
			Enabled:         wh.Enabled,
			MaxRetries:      wh.MaxRetries,
			RetryDelay:      wh.RetryDelaySeconds,
			LastTriggeredAt: formatUnixPtr(wh.LastTriggeredAt),
			CreatedAt:       formatUnix(wh.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid webhook id"})
		return
	}

	deleted, err := db.DeleteWebhook(s.DB, id, broker.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "webhook not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *APIServer) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid webhook id"})
		return
	}

	wh, err := db.GetWebhook(s.DB, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	// Registration must belong to the requesting broker.
	if wh == nil || wh.BrokerID != broker.ID {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "webhook not found"})
		return
	}

	deliveries, err := db.ListDeliveriesByWebhook(s.DB, id, 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}

	resp := api.ListDeliveriesResponse{
		WebhookID:  id,
		Deliveries: make([]api.DeliveryInfo, 0, len(deliveries)),
	}
	for _, del := range deliveries {
		resp.Deliveries = append(resp.Deliveries, api.DeliveryInfo{
			ID:           del.ID,
			EventType:    del.EventType,
			Status:       del.Status,
			HTTPStatus:   del.HTTPStatus,
			ErrorMessage: del.ErrorMessage,
			RetryCount:   del.RetryCount,
			NextRetryAt:  formatUnixPtr(del.NextRetryAt),
			DurationMS:   del.DurationMS,
			SentAt:       formatUnix(del.SentAt),
			CompletedAt:  formatUnixPtr(del.CompletedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	broker := getBroker(r)
	now := time.Now().UTC()
	hourStart := now.Truncate(time.Hour).Unix()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Unix()

	hourCount, err := db.GetBucketCount(s.DB, broker.ID, hourStart, models.BucketHour)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}
	dayCount, err := db.GetBucketCount(s.DB, broker.ID, dayStart, models.BucketDay)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "database error"})
		return
	}

	writeJSON(w, http.StatusOK, api.LimitsResponse{
		HourlyLimit:     broker.RateLimitHourly,
		DailyLimit:      broker.RateLimitDaily,
		RemainingHourly: clampRemaining(broker.RateLimitHourly, hourCount),
		RemainingDaily:  clampRemaining(broker.RateLimitDaily, dayCount),
		ResetHourly:     formatUnix(hourStart + 3600),
		ResetDaily:      formatUnix(dayStart + 86400),
	})
}

func clampRemaining(limit, count int64) int64 {
	if count >= limit {
		return 0
	}
	return limit - count
}

func bearerToken(authHeader string) (string, bool) {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return "", false
	}
	return authHeader[len(prefix):], true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func formatUnixPtr(ts *int64) *string {
	if ts == nil {
		return nil
	}
	s := formatUnix(*ts)
	return &s
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "request body required"})
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16) // 64KB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON"})
		return false
	}
	// Ensure no trailing data
	if dec.Decode(&struct{}{}) != io.EOF {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "unexpected trailing data"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
