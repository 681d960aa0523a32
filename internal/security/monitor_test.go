package security

import (
	"database/sql"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/models"
)

func setupMonitor(t *testing.T) (*Monitor, *sql.DB, int64) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	brokerID, err := db.CreateBroker(d, &models.Broker{
		Domain:          "platform.example.com",
		DisplayName:     "Example Platform",
		Tier:            models.TierStandard,
		Status:          models.StatusActive,
		Enabled:         true,
		RateLimitHourly: 100,
		RateLimitDaily:  1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	return NewMonitor(d, zap.NewNop()), d, brokerID
}

func TestLogEventPersists(t *testing.T) {
	m, d, brokerID := setupMonitor(t)

	m.LogEvent(&models.SecurityEvent{
		BrokerID:    brokerID,
		EventType:   EventInvalidCredential,
		Severity:    models.SeverityMedium,
		Description: "credential secret did not match stored hash",
		RemoteIP:    "203.0.113.9",
	})

	events, err := db.ListSecurityEvents(d, brokerID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventType != EventInvalidCredential {
		t.Errorf("event type = %s", ev.EventType)
	}
	if ev.AutoAction != models.AutoActionNone {
		t.Errorf("auto action = %s, want none by default", ev.AutoAction)
	}
	if ev.ManualReviewRequired {
		t.Error("medium severity must not require manual review")
	}
	if ev.OccurredAt == 0 {
		t.Error("occurred_at not set")
	}
}

func TestLogEventSeverityDrivesManualReview(t *testing.T) {
	m, d, brokerID := setupMonitor(t)

	for _, severity := range []string{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical} {
		m.LogEvent(&models.SecurityEvent{
			BrokerID:  brokerID,
			EventType: EventSignatureInvalid,
			Severity:  severity,
		})
	}

	events, err := db.ListSecurityEvents(d, brokerID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for _, ev := range events {
		wantReview := ev.Severity == models.SeverityHigh || ev.Severity == models.SeverityCritical
		if ev.ManualReviewRequired != wantReview {
			t.Errorf("severity %s: manual review = %t, want %t", ev.Severity, ev.ManualReviewRequired, wantReview)
		}
	}
}

func TestTempSuspendActionSuspendsOnce(t *testing.T) {
	m, d, brokerID := setupMonitor(t)

	m.LogEvent(&models.SecurityEvent{
		BrokerID:    brokerID,
		EventType:   EventRateLimitExceeded,
		Severity:    models.SeverityHigh,
		Description: "rate limit exceeded: 250/100 hourly",
		AutoAction:  models.AutoActionTempSuspend,
	})

	b, err := db.GetBroker(d, brokerID)
	if err != nil {
		t.Fatal(err)
	}
	if b.SuspendedAt == nil {
		t.Fatal("broker not suspended")
	}
	first := *b.SuspendedAt
	if b.SuspendReason == nil || *b.SuspendReason != "rate limit exceeded: 250/100 hourly" {
		t.Fatalf("suspend reason = %v", b.SuspendReason)
	}

	// Concurrent escalations race to suspend; later ones must not reset
	// the suspension window or overwrite the original reason.
	m.LogEvent(&models.SecurityEvent{
		BrokerID:    brokerID,
		EventType:   EventRateLimitExceeded,
		Severity:    models.SeverityHigh,
		Description: "rate limit exceeded: 251/100 hourly",
		AutoAction:  models.AutoActionTempSuspend,
	})

	b, err = db.GetBroker(d, brokerID)
	if err != nil {
		t.Fatal(err)
	}
	if *b.SuspendedAt != first {
		t.Fatal("second escalation reset the suspension timestamp")
	}
	if *b.SuspendReason != "rate limit exceeded: 250/100 hourly" {
		t.Fatal("second escalation overwrote the suspension reason")
	}

	// Both events remain on the audit trail.
	events, err := db.ListSecurityEvents(d, brokerID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestRateLimitActionDoesNotSuspend(t *testing.T) {
	m, d, brokerID := setupMonitor(t)

	m.LogEvent(&models.SecurityEvent{
		BrokerID:   brokerID,
		EventType:  EventRateLimitExceeded,
		Severity:   models.SeverityMedium,
		AutoAction: models.AutoActionRateLimit,
	})

	b, err := db.GetBroker(d, brokerID)
	if err != nil {
		t.Fatal(err)
	}
	if b.SuspendedAt != nil {
		t.Fatal("rate_limit action suspended the broker")
	}
}
