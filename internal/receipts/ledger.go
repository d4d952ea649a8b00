// Package receipts submits vote receipts to an external immutable ledger
// gateway. Submission is strictly best-effort: the protocol's state
// transition has already committed by the time a receipt is sent, and a
// gateway outage only costs the out-of-band audit trail.
package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPLedger posts receipts to a ledger gateway over HTTP.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
	retry   RetryConfig
	logger  *zap.Logger
}

// NewHTTPLedger creates a ledger client for the given gateway base URL.
func NewHTTPLedger(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPLedger {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPLedger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}
}

type receiptRequest struct {
	Nullifier        string `json:"nullifier"`
	ActionCommitment string `json:"action_commitment"`
}

type receiptResponse struct {
	ReceiptID string `json:"receipt_id"`
}

// SubmitReceipt posts (nullifier, actionCommitment) to the gateway, retrying
// with backoff. Only public protocol values cross this boundary.
func (l *HTTPLedger) SubmitReceipt(ctx context.Context, nullifier, actionCommitment string) (string, error) {
	payload, err := json.Marshal(receiptRequest{
		Nullifier:        nullifier,
		ActionCommitment: actionCommitment,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}

	var receiptID string
	submit := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/receipts", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build receipt request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			return fmt.Errorf("receipt request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("ledger gateway returned status %d", resp.StatusCode)
		}

		var body receiptResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode receipt response: %w", err)
		}

		receiptID = body.ReceiptID
		return nil
	}

	if err := retryWithBackoff(ctx, l.retry, l.logger, "submit_receipt", submit); err != nil {
		return "", err
	}

	return receiptID, nil
}

// DisabledLedger is the no-op ledger used when no gateway is configured.
type DisabledLedger struct {
	logger *zap.Logger
}

// NewDisabledLedger creates a ledger that drops every receipt.
func NewDisabledLedger(logger *zap.Logger) *DisabledLedger {
	logger.Info("Receipt ledger disabled")
	return &DisabledLedger{logger: logger}
}

// SubmitReceipt logs and discards the receipt.
func (l *DisabledLedger) SubmitReceipt(_ context.Context, nullifier, _ string) (string, error) {
	l.logger.Debug("Receipt dropped (ledger disabled)", zap.String("nullifier", nullifier))
	return "", nil
}
