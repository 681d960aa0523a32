package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks to a DAON API node over its REST interface.
type HTTPClient struct {
	BaseURL string
	client  *http.Client
}

// NewHTTPClient creates a ledger client for the node at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type registerRequest struct {
	Registration
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
}

type transferRequest struct {
	NewOwner string `json:"new_owner"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *HTTPClient) RegisterContent(ctx context.Context, reg Registration) (string, error) {
	var result txResponse
	if err := c.post(ctx, "/v1/content", registerRequest{reg}, &result); err != nil {
		return "", fmt.Errorf("register content: %w", err)
	}
	return result.TxHash, nil
}

func (c *HTTPClient) VerifyContent(ctx context.Context, contentHash string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/v1/content/"+url.PathEscape(contentHash), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Verification{Verified: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify content: %w", parseError(resp))
	}

	var result Verification
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("verify content: decode response: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) TransferOwnership(ctx context.Context, contentHash, newOwner string) (string, error) {
	var result txResponse
	path := "/v1/content/" + url.PathEscape(contentHash) + "/transfer"
	if err := c.post(ctx, path, transferRequest{NewOwner: newOwner}, &result); err != nil {
		return "", fmt.Errorf("transfer ownership: %w", err)
	}
	return result.TxHash, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("ledger returned %d", resp.StatusCode)
}
