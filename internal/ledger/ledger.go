// Package ledger defines the gateway's view of the DAON content ledger.
// The ledger itself, and transaction signing, live behind this interface.
package ledger

import "context"

// Registration describes a work being registered on the ledger.
type Registration struct {
	ContentHash string `json:"content_hash"`
	Creator     string `json:"creator"`
	License     string `json:"license"`
	Platform    string `json:"platform"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Verification is the ledger's answer to an ownership query.
type Verification struct {
	Verified     bool   `json:"verified"`
	Creator      string `json:"creator"`
	License      string `json:"license"`
	Platform     string `json:"platform"`
	RegisteredAt string `json:"registered_at"`
	Proof        string `json:"proof"`
}

// Client is the gateway's interface to a DAON API node.
type Client interface {
	// RegisterContent records a work on the ledger and returns the
	// transaction hash.
	RegisterContent(ctx context.Context, reg Registration) (string, error)

	// VerifyContent checks whether content is registered and who owns it.
	VerifyContent(ctx context.Context, contentHash string) (*Verification, error)

	// TransferOwnership moves a registration to a new owner and returns the
	// transaction hash.
	TransferOwnership(ctx context.Context, contentHash, newOwner string) (string, error)
}
