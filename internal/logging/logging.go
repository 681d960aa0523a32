// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(0))
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "brokergate"))

	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("BROKERGATE_LOG_LEVEL", "info"),
		Format: getenv("BROKERGATE_LOG_FORMAT", "json"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// BrokerID returns a zap field for a broker identifier.
func BrokerID(id int64) zap.Field { return zap.Int64("broker_id", id) }

// KeyPrefix returns a zap field for an API key prefix.
func KeyPrefix(prefix string) zap.Field { return zap.String("key_prefix", prefix) }

// Endpoint returns a zap field for the gateway endpoint being called.
func Endpoint(endpoint string) zap.Field { return zap.String("endpoint", endpoint) }

// EventType returns a zap field for a webhook or security event type.
func EventType(eventType string) zap.Field { return zap.String("event_type", eventType) }

// Severity returns a zap field for a security event severity.
func Severity(severity string) zap.Field { return zap.String("severity", severity) }

// AutoAction returns a zap field for an automatic enforcement action.
func AutoAction(action string) zap.Field { return zap.String("auto_action", action) }

// WebhookID returns a zap field for a webhook registration identifier.
func WebhookID(id int64) zap.Field { return zap.Int64("webhook_id", id) }

// DeliveryID returns a zap field for a delivery identifier.
func DeliveryID(id string) zap.Field { return zap.String("delivery_id", id) }

// URL returns a zap field for a webhook endpoint URL.
func URL(url string) zap.Field { return zap.String("url", url) }

// HTTPStatus returns a zap field for an HTTP status code.
func HTTPStatus(status int) zap.Field { return zap.Int("http_status", status) }

// RetryCount returns a zap field for a delivery retry counter.
func RetryCount(count int) zap.Field { return zap.Int("retry_count", count) }

// RemoteIP returns a zap field for a remote IP address.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// Port returns a zap field for the port number.
func Port(port int) zap.Field { return zap.Int("port", port) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// ContentHash returns a zap field for a protected-content hash.
func ContentHash(hash string) zap.Field { return zap.String("content_hash", hash) }
