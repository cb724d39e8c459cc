// Package chain is the capability boundary to the token-escrow contract.
// The contract itself is an external collaborator reached through a chain
// gateway service; this package exposes exactly the three escrow operations
// and maps gateway responses onto typed outcomes so callers never branch on
// raw JSON shapes.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable means the gateway could not be reached or answered with a
// server-side failure before the transaction was submitted. Local state is
// untouched and the call is safe to retry.
var ErrUnavailable = errors.New("chain gateway unavailable")

// RejectedError means the gateway executed the call and the contract
// rejected or reverted it. Retrying with the same inputs will not help.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "chain call rejected: " + e.Reason }

// Receipt is the mined outcome of an escrow transaction.
type Receipt struct {
	TxRef string `json:"tx_ref"`
}

// Client is the escrow contract capability. Calls block for the duration of
// mining (multi-second); callers must not hold store locks across them.
type Client interface {
	CreateAgreement(ctx context.Context, proposalID, payer, payee string, amount int64) (Receipt, error)
	ConfirmWorkDone(ctx context.Context, proposalID string) error
	ReleaseAgreement(ctx context.Context, proposalID string) (Receipt, error)
}

// GatewayClient talks to the escrow gateway over HTTP.
type GatewayClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string
}

func NewGateway(baseURL, bearer string) *GatewayClient {
	return &GatewayClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
		Bearer:     bearer,
	}
}

type txResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash"`
	Reason    string `json:"reason,omitempty"`
}

func (c *GatewayClient) CreateAgreement(ctx context.Context, proposalID, payer, payee string, amount int64) (Receipt, error) {
	body := map[string]any{
		"proposal_id": proposalID,
		"payer":       payer,
		"payee":       payee,
		"amount":      amount,
	}
	return c.submit(ctx, "/escrow/agreements", body)
}

func (c *GatewayClient) ConfirmWorkDone(ctx context.Context, proposalID string) error {
	_, err := c.submit(ctx, "/escrow/agreements/"+proposalID+"/confirm", map[string]any{})
	return err
}

func (c *GatewayClient) ReleaseAgreement(ctx context.Context, proposalID string) (Receipt, error) {
	return c.submit(ctx, "/escrow/agreements/"+proposalID+"/release", map[string]any{})
}

func (c *GatewayClient) submit(ctx context.Context, path string, body map[string]any) (Receipt, error) {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("content-type", "application/json")
	if c.Bearer != "" {
		req.Header.Set("authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Transport error after dispatch: the transaction may or may not
		// have been submitted. Treated as unavailable; operators verify
		// before any retry that could double-spend.
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Receipt{}, fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	}
	var out txResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, fmt.Errorf("%w: bad gateway response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 400 || strings.EqualFold(out.Status, "REVERTED") || strings.EqualFold(out.Status, "REJECTED") {
		reason := out.Reason
		if reason == "" {
			reason = fmt.Sprintf("gateway returned %d", resp.StatusCode)
		}
		return Receipt{}, &RejectedError{Reason: reason}
	}
	if out.TxHash == "" {
		return Receipt{}, fmt.Errorf("%w: gateway response missing tx hash", ErrUnavailable)
	}
	return Receipt{TxRef: out.TxHash}, nil
}
