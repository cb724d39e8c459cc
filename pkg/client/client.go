// Package client is the Go SDK for the proposal settlement API. It wraps
// the HTTP surface in typed calls and surfaces the service's error
// envelope as a structured Error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// Error is the service's error envelope. Code carries the machine-readable
// taxonomy value (INVALID_STATE, FORBIDDEN, CHAIN_UNAVAILABLE, ...).
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("settlement api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string
}

func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Bearer:     bearer,
	}
}

// ProposalResult is the common success envelope: the proposal record plus
// optional settlement fields.
type ProposalResult struct {
	RequestID      string          `json:"request_id"`
	Proposal       domain.Proposal `json:"proposal"`
	Events         []domain.Event  `json:"events,omitempty"`
	AgreementTxRef string          `json:"agreement_tx_ref,omitempty"`
	ReleaseTxRef   string          `json:"release_tx_ref,omitempty"`
	Warning        string          `json:"warning,omitempty"`
}

func (c *Client) CreateProposal(ctx context.Context, missionID string, requestedAmount int64, currency string) (*ProposalResult, error) {
	return c.call(ctx, http.MethodPost, "/proposals/", map[string]any{
		"mission_id": missionID, "requested_amount": requestedAmount, "amount_currency": currency,
	})
}

func (c *Client) GetProposal(ctx context.Context, proposalID string) (*ProposalResult, error) {
	return c.call(ctx, http.MethodGet, "/proposals/"+proposalID, nil)
}

// AdminAction reviews a pending proposal. Amount is required for
// counter_offer and ignored otherwise.
func (c *Client) AdminAction(ctx context.Context, proposalID, action string, amount *int64, notes string) (*ProposalResult, error) {
	body := map[string]any{"action": action}
	if amount != nil {
		body["amount"] = *amount
	}
	if notes != "" {
		body["notes"] = notes
	}
	return c.call(ctx, http.MethodPut, "/proposals/"+proposalID+"/admin-action", body)
}

func (c *Client) Respond(ctx context.Context, proposalID, action string) (*ProposalResult, error) {
	return c.call(ctx, http.MethodPut, "/proposals/"+proposalID+"/respond", map[string]any{"action": action})
}

func (c *Client) ConfirmWork(ctx context.Context, proposalID string) (*ProposalResult, error) {
	return c.call(ctx, http.MethodPost, "/proposals/"+proposalID+"/confirm-work", nil)
}

func (c *Client) ReleaseAgreement(ctx context.Context, proposalID string) (*ProposalResult, error) {
	return c.call(ctx, http.MethodPost, "/proposals/"+proposalID+"/release-agreement", nil)
}

func (c *Client) call(ctx context.Context, method, path string, body map[string]any) (*ProposalResult, error) {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			RequestID string `json:"request_id"`
			Err       struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&envelope); derr != nil {
			return nil, &Error{StatusCode: resp.StatusCode, Code: "BAD_RESPONSE", Message: derr.Error()}
		}
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Code:       envelope.Err.Code,
			Message:    envelope.Err.Message,
			RequestID:  envelope.RequestID,
			Details:    envelope.Err.Details,
		}
	}
	var out ProposalResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Code: "BAD_RESPONSE", Message: err.Error()}
	}
	return &out, nil
}
