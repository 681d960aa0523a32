package auth

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/models"
	"github.com/daon-network/broker-gateway/internal/security"
)

func TestGenerateCredential(t *testing.T) {
	displayKey, prefix, hash, err := GenerateCredential()
	if err != nil {
		t.Fatalf("GenerateCredential failed: %v", err)
	}

	if len(prefix) != prefixLength {
		t.Errorf("prefix length = %d, want %d", len(prefix), prefixLength)
	}
	for _, c := range prefix {
		if !isAlphanumeric(c) {
			t.Errorf("prefix contains non-alphanumeric character: %c", c)
		}
	}

	// Format: daon_<prefix>_<secret>
	expectedStart := "daon_" + prefix + "_"
	if !strings.HasPrefix(displayKey, expectedStart) {
		t.Errorf("displayKey %q does not start with %q", displayKey, expectedStart)
	}

	secret := strings.TrimPrefix(displayKey, expectedStart)
	if len(secret) < 40 || len(secret) > 44 {
		t.Errorf("secret length = %d, want 40-44 (base62 of 32 bytes)", len(secret))
	}
	for _, c := range secret {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			t.Errorf("secret contains invalid character: %c", c)
		}
	}

	if !VerifySecret(secret, hash) {
		t.Error("generated secret does not verify against its own hash")
	}
	if VerifySecret(secret+"x", hash) {
		t.Error("mutated secret verified")
	}
}

func TestParseCredential(t *testing.T) {
	displayKey, prefix, _, err := GenerateCredential()
	if err != nil {
		t.Fatalf("GenerateCredential failed: %v", err)
	}

	gotPrefix, gotSecret, err := ParseCredential(displayKey)
	if err != nil {
		t.Fatalf("ParseCredential failed: %v", err)
	}
	if gotPrefix != prefix {
		t.Errorf("prefix = %q, want %q", gotPrefix, prefix)
	}
	if !strings.HasSuffix(displayKey, gotSecret) {
		t.Errorf("secret %q is not the tail of the display key", gotSecret)
	}

	invalid := []string{
		"",
		"daon_",
		"daon_short_secret",
		"daon_abcdefgh1234",
		"daon_ABCDEFGH1234_secret",
		"other_abcdefgh1234_secret",
		"abcdefgh1234_secret",
	}
	for _, in := range invalid {
		if _, _, err := ParseCredential(in); err == nil {
			t.Errorf("ParseCredential(%q) accepted invalid input", in)
		}
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func seedBrokerWithKey(t *testing.T, d *sql.DB, mutate func(*models.Broker), expiresAt *int64) (int64, string) {
	t.Helper()
	b := &models.Broker{
		Domain:          "platform.example.com",
		DisplayName:     "Example Platform",
		Tier:            models.TierStandard,
		Status:          models.StatusActive,
		Enabled:         true,
		RateLimitHourly: 100,
		RateLimitDaily:  1000,
	}
	if mutate != nil {
		mutate(b)
	}
	brokerID, err := db.CreateBroker(d, b)
	if err != nil {
		t.Fatalf("CreateBroker failed: %v", err)
	}

	displayKey, prefix, hash, err := GenerateCredential()
	if err != nil {
		t.Fatalf("GenerateCredential failed: %v", err)
	}
	if _, err := db.CreateAPIKey(d, brokerID, prefix, hash, nil, expiresAt); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	return brokerID, displayKey
}

func newTestGate(d *sql.DB) *Gate {
	logger := zap.NewNop()
	return NewGate(d, security.NewMonitor(d, logger), logger)
}

func TestAuthenticateSuccess(t *testing.T) {
	d := openTestDB(t)
	brokerID, displayKey := seedBrokerWithKey(t, d, nil, nil)
	gate := newTestGate(d)

	broker, key, err := gate.Authenticate(displayKey, "203.0.113.9")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if broker == nil || broker.ID != brokerID {
		t.Fatalf("expected broker %d, got %+v", brokerID, broker)
	}
	if key == nil || key.BrokerID != brokerID {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestWaitFlushesUsageUpdates(t *testing.T) {
	d := openTestDB(t)
	_, displayKey := seedBrokerWithKey(t, d, nil, nil)
	gate := newTestGate(d)

	broker, key, err := gate.Authenticate(displayKey, "203.0.113.9")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if broker == nil {
		t.Fatal("authentication rejected")
	}

	// After Wait the usage write has landed; no polling needed.
	gate.Wait()
	got, err := db.GetLiveKeyByPrefix(d, key.KeyPrefix)
	if err != nil {
		t.Fatalf("GetLiveKeyByPrefix failed: %v", err)
	}
	if got.RequestCount != 1 {
		t.Fatalf("request count = %d, want 1", got.RequestCount)
	}
	if got.LastUsedAt == nil {
		t.Fatal("last used not set")
	}
}

func TestAuthenticateMalformedCredential(t *testing.T) {
	d := openTestDB(t)
	gate := newTestGate(d)

	broker, _, err := gate.Authenticate("not-a-credential", "203.0.113.9")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if broker != nil {
		t.Fatal("malformed credential authenticated")
	}
}

func TestAuthenticateUnknownPrefix(t *testing.T) {
	d := openTestDB(t)
	gate := newTestGate(d)

	broker, _, err := gate.Authenticate("daon_abcdefgh1234_somesecret", "203.0.113.9")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if broker != nil {
		t.Fatal("unknown prefix authenticated")
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	d := openTestDB(t)
	brokerID, displayKey := seedBrokerWithKey(t, d, nil, nil)
	gate := newTestGate(d)

	broker, _, err := gate.Authenticate(displayKey+"x", "203.0.113.9")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if broker != nil {
		t.Fatal("wrong secret authenticated")
	}

	events, err := db.ListSecurityEvents(d, brokerID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != security.EventInvalidCredential {
		t.Fatalf("expected one invalid_credential event, got %+v", events)
	}
	if events[0].Severity != models.SeverityMedium {
		t.Errorf("severity = %s, want medium", events[0].Severity)
	}
}

func TestAuthenticateExpiredKey(t *testing.T) {
	d := openTestDB(t)
	past := time.Now().Add(-time.Hour).Unix()
	brokerID, displayKey := seedBrokerWithKey(t, d, nil, &past)
	gate := newTestGate(d)

	broker, _, err := gate.Authenticate(displayKey, "203.0.113.9")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if broker != nil {
		t.Fatal("expired key authenticated")
	}

	events, err := db.ListSecurityEvents(d, brokerID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != security.EventExpiredKey {
		t.Fatalf("expected one expired_key event, got %+v", events)
	}
	if events[0].Severity != models.SeverityLow {
		t.Errorf("severity = %s, want low", events[0].Severity)
	}
}

func TestAuthenticateBrokerLifecycleRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Broker)
		after  func(t *testing.T, d *sql.DB, brokerID int64)
	}{
		{name: "disabled", mutate: func(b *models.Broker) { b.Enabled = false }},
		{name: "pending", mutate: func(b *models.Broker) { b.Status = models.StatusPending }},
		{name: "suspended", after: func(t *testing.T, d *sql.DB, brokerID int64) {
			if _, err := db.SuspendBroker(d, brokerID, "test"); err != nil {
				t.Fatal(err)
			}
		}},
		{name: "revoked", after: func(t *testing.T, d *sql.DB, brokerID int64) {
			if err := db.RevokeBroker(d, brokerID); err != nil {
				t.Fatal(err)
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := openTestDB(t)
			brokerID, displayKey := seedBrokerWithKey(t, d, tc.mutate, nil)
			if tc.after != nil {
				tc.after(t, d, brokerID)
			}
			gate := newTestGate(d)

			broker, _, err := gate.Authenticate(displayKey, "203.0.113.9")
			if err != nil {
				t.Fatalf("Authenticate returned error: %v", err)
			}
			if broker != nil {
				t.Fatalf("%s broker authenticated", tc.name)
			}

			// Lifecycle rejections are not anomalies and log no event.
			events, err := db.ListSecurityEvents(d, brokerID, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != 0 {
				t.Fatalf("unexpected security events: %+v", events)
			}
		})
	}
}

func TestAuthenticateRevokedKey(t *testing.T) {
	d := openTestDB(t)
	brokerID, displayKey := seedBrokerWithKey(t, d, nil, nil)
	keys, err := db.ListAPIKeysByBroker(d, brokerID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("seed keys: %v %d", err, len(keys))
	}
	if err := db.RevokeAPIKey(d, keys[0].ID); err != nil {
		t.Fatal(err)
	}
	gate := newTestGate(d)

	broker, _, err := gate.Authenticate(displayKey, "203.0.113.9")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if broker != nil {
		t.Fatal("revoked key authenticated")
	}
}
