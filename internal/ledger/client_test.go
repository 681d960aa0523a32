package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/content", r.URL.Path)

		var reg Registration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		assert.Equal(t, "abc123", reg.ContentHash)
		assert.Equal(t, "daon1creator", reg.Creator)

		json.NewEncoder(w).Encode(map[string]string{"tx_hash": "tx-1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	txHash, err := c.RegisterContent(context.Background(), Registration{
		ContentHash: "abc123",
		Creator:     "daon1creator",
		License:     "CC-BY-4.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", txHash)
}

func TestRegisterContent_NodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "content already registered"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.RegisterContent(context.Background(), Registration{ContentHash: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content already registered")
}

func TestVerifyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/content/abc123", r.URL.Path)
		json.NewEncoder(w).Encode(Verification{
			Verified: true,
			Creator:  "daon1creator",
			Proof:    "merkle:deadbeef",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	v, err := c.VerifyContent(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.Equal(t, "daon1creator", v.Creator)
}

func TestVerifyContent_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	v, err := c.VerifyContent(context.Background(), "unknown")
	require.NoError(t, err, "absence is an answer, not an error")
	assert.False(t, v.Verified)
}

func TestTransferOwnership(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/content/abc123/transfer", r.URL.Path)

		var req struct {
			NewOwner string `json:"new_owner"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "daon1newowner", req.NewOwner)

		json.NewEncoder(w).Encode(map[string]string{"tx_hash": "tx-2"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	txHash, err := c.TransferOwnership(context.Background(), "abc123", "daon1newowner")
	require.NoError(t, err)
	assert.Equal(t, "tx-2", txHash)
}
