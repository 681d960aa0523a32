// Package signature verifies detached Ed25519 request signatures for brokers
// that are required to sign their requests.
package signature

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/daon-network/broker-gateway/internal/logging"
	"github.com/daon-network/broker-gateway/internal/models"
	"github.com/daon-network/broker-gateway/internal/security"
)

// Verifier validates request signatures against a broker's registered public
// key. It fails closed: any ambiguity or decoding problem resolves to "not
// verified".
type Verifier struct {
	monitor *security.Monitor
	logger  *zap.Logger
}

// NewVerifier creates a signature verifier.
func NewVerifier(monitor *security.Monitor, logger *zap.Logger) *Verifier {
	return &Verifier{
		monitor: monitor,
		logger:  logger.With(logging.Component("signature")),
	}
}

// Verify checks a detached Ed25519 signature over the canonical form of the
// payload. Brokers without the require-signature flag pass immediately.
func (v *Verifier) Verify(broker *models.Broker, payload []byte, signatureB64 string) bool {
	if !broker.RequireSignature {
		return true
	}

	if broker.PublicKey == nil || *broker.PublicKey == "" {
		v.monitor.LogEvent(&models.SecurityEvent{
			BrokerID:    broker.ID,
			EventType:   security.EventSignatureMisconfig,
			Severity:    models.SeverityMedium,
			Description: "signature required but no public key registered",
		})
		return false
	}

	if signatureB64 == "" {
		return false
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		v.reject(broker, "payload could not be canonicalized")
		return false
	}

	pubKey, err := base64.StdEncoding.DecodeString(*broker.PublicKey)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		v.reject(broker, "registered public key is not a valid Ed25519 key")
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		v.reject(broker, "signature is not valid base64")
		return false
	}

	if !ed25519.Verify(ed25519.PublicKey(pubKey), canonical, sig) {
		v.reject(broker, "signature does not verify against registered key")
		return false
	}

	return true
}

func (v *Verifier) reject(broker *models.Broker, reason string) {
	v.monitor.LogEvent(&models.SecurityEvent{
		BrokerID:    broker.ID,
		EventType:   security.EventSignatureInvalid,
		Severity:    models.SeverityHigh,
		Description: reason,
	})
}

// Canonicalize re-serializes a JSON object with its keys sorted. Sorting is
// deep: nested object keys are sorted too, so the canonical form is stable
// regardless of the serializer that produced the input. Numbers keep their
// original textual form.
func Canonicalize(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	canonical, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode canonical form: %w", err)
	}
	return canonical, nil
}
