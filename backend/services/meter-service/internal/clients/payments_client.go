// Package clients holds outbound HTTP clients for sibling services.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/libs/token"
)

var (
	// ErrNotFunded indicates the payments service refused a release because
	// the escrow's funds have not locked.
	ErrNotFunded = errors.New("payments client: escrow not funded")
	// ErrRejected indicates the payments service refused the release for a
	// non-transient reason.
	ErrRejected = errors.New("payments client: release rejected")
	// ErrUnavailable indicates a transient failure; the caller retries on its
	// next tick.
	ErrUnavailable = errors.New("payments client: unavailable")
)

// PaymentsClient calls the payments service's internal release endpoint.
type PaymentsClient struct {
	baseURL    string
	tokens     *token.Service
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPaymentsClient builds a client against the given payments service.
func NewPaymentsClient(baseURL string, tokens *token.Service, logger *zap.Logger) *PaymentsClient {
	return &PaymentsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 35 * time.Second, // releases wait on the rail
		},
		logger: logger,
	}
}

type releaseRequest struct {
	SessionID   string `json:"session_id"`
	AmountCents int64  `json:"amount_cents"`
}

type releaseResponse struct {
	OK     bool   `json:"ok"`
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// Release asks the payments service to settle one increment for the session.
// Returns the transaction hash reported by the rail (empty on a reconciled
// replay).
func (c *PaymentsClient) Release(ctx context.Context, sessionID string, amountCents int64) (string, error) {
	body, err := json.Marshal(releaseRequest{SessionID: sessionID, AmountCents: amountCents})
	if err != nil {
		return "", fmt.Errorf("payments client: marshal release: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/release", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("payments client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	bearer, err := c.tokens.Issue("meter-service")
	if err != nil {
		return "", fmt.Errorf("payments client: issue token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var parsed releaseResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			c.logger.Warn("payments service returned unparseable body",
				zap.Int("status", resp.StatusCode))
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return parsed.TxHash, nil
	case resp.StatusCode == http.StatusConflict:
		if strings.Contains(parsed.Error, "not funded") {
			return "", fmt.Errorf("%w: %s", ErrNotFunded, parsed.Error)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, parsed.Error)
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, parsed.Error)
	default:
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, parsed.Error)
	}
}
