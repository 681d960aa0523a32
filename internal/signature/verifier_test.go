package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/db"
	"github.com/daon-network/broker-gateway/internal/models"
	"github.com/daon-network/broker-gateway/internal/security"
)

func setupVerifier(t *testing.T) (*Verifier, *sql.DB, *models.Broker, ed25519.PrivateKey) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	id, err := db.CreateBroker(d, &models.Broker{
		Domain:           "platform.example.com",
		DisplayName:      "Example Platform",
		Tier:             models.TierEnterprise,
		Status:           models.StatusActive,
		Enabled:          true,
		RateLimitHourly:  100,
		RateLimitDaily:   1000,
		RequireSignature: true,
		PublicKey:        &pubB64,
	})
	if err != nil {
		t.Fatal(err)
	}
	broker, err := db.GetBroker(d, id)
	if err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	return NewVerifier(security.NewMonitor(d, logger), logger), d, broker, priv
}

func sign(t *testing.T, priv ed25519.PrivateKey, payload []byte) string {
	t.Helper()
	canonical, err := Canonicalize(payload)
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canonical))
}

func TestVerifyValidSignature(t *testing.T) {
	v, _, broker, priv := setupVerifier(t)
	payload := []byte(`{"content_hash":"abc123","title":"A Song"}`)

	if !v.Verify(broker, payload, sign(t, priv, payload)) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifyKeyOrderIndependent(t *testing.T) {
	v, _, broker, priv := setupVerifier(t)

	// The same object serialized with different key orders, including
	// inside nested objects, carries the same canonical form.
	ordered := []byte(`{"a":1,"b":{"x":true,"y":"z"},"c":[1,2]}`)
	shuffled := []byte(`{"c":[1,2],"b":{"y":"z","x":true},"a":1}`)

	sig := sign(t, priv, ordered)
	if !v.Verify(broker, shuffled, sig) {
		t.Fatal("reordered keys broke verification")
	}
}

func TestVerifySingleByteMutation(t *testing.T) {
	v, _, broker, priv := setupVerifier(t)
	payload := []byte(`{"content_hash":"abc123"}`)
	sig := sign(t, priv, payload)

	mutated := []byte(`{"content_hash":"abc124"}`)
	if v.Verify(broker, mutated, sig) {
		t.Fatal("mutated payload verified")
	}
}

func TestVerifyNotRequired(t *testing.T) {
	v, _, broker, _ := setupVerifier(t)
	broker.RequireSignature = false

	if !v.Verify(broker, []byte(`{}`), "") {
		t.Fatal("unsigned request rejected for a broker without the requirement")
	}
}

func TestVerifyMissingPublicKey(t *testing.T) {
	v, d, broker, _ := setupVerifier(t)
	broker.PublicKey = nil

	if v.Verify(broker, []byte(`{}`), "sig") {
		t.Fatal("verified with no registered key")
	}

	events, err := db.ListSecurityEvents(d, broker.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != security.EventSignatureMisconfig {
		t.Fatalf("expected signature_misconfigured event, got %+v", events)
	}
}

func TestVerifyFailClosed(t *testing.T) {
	v, d, broker, priv := setupVerifier(t)
	payload := []byte(`{"content_hash":"abc123"}`)
	valid := sign(t, priv, payload)

	cases := []struct {
		name      string
		payload   []byte
		signature string
		wantEvent bool
	}{
		{name: "empty signature", payload: payload, signature: "", wantEvent: false},
		{name: "not base64", payload: payload, signature: "%%%not-base64%%%", wantEvent: true},
		{name: "not json", payload: []byte("not json"), signature: valid, wantEvent: true},
		{name: "wrong signature", payload: payload, signature: base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize)), wantEvent: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, _ := db.ListSecurityEvents(d, broker.ID, 100)
			if v.Verify(broker, tc.payload, tc.signature) {
				t.Fatal("verified")
			}
			after, _ := db.ListSecurityEvents(d, broker.ID, 100)
			gotEvent := len(after) > len(before)
			if gotEvent != tc.wantEvent {
				t.Fatalf("event recorded = %t, want %t", gotEvent, tc.wantEvent)
			}
			if tc.wantEvent {
				if after[0].EventType != security.EventSignatureInvalid {
					t.Errorf("event type = %s", after[0].EventType)
				}
				if after[0].Severity != models.SeverityHigh {
					t.Errorf("severity = %s, want high", after[0].Severity)
				}
			}
		})
	}
}

func TestVerifyMalformedRegisteredKey(t *testing.T) {
	v, _, broker, priv := setupVerifier(t)
	payload := []byte(`{"content_hash":"abc123"}`)
	sig := sign(t, priv, payload)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	broker.PublicKey = &short
	if v.Verify(broker, payload, sig) {
		t.Fatal("verified against a truncated key")
	}
}

func TestCanonicalizeStable(t *testing.T) {
	a, err := Canonicalize([]byte(`{"b":2,"a":{"d":4,"c":3}}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Canonicalize([]byte(`{"a":{"c":3,"d":4},"b":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical forms differ: %s vs %s", a, b)
	}
	if string(a) != `{"a":{"c":3,"d":4},"b":2}` {
		t.Fatalf("unexpected canonical form: %s", a)
	}
}

func TestCanonicalizeRejectsNonObject(t *testing.T) {
	if _, err := Canonicalize([]byte(`not json`)); err == nil {
		t.Fatal("accepted invalid JSON")
	}
}
