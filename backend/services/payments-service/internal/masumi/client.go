// Package masumi is the HTTP client for the Masumi escrow payment rail. The
// rail is opaque to the settlement core: open an escrow, watch for funds to
// lock, submit releases. Nothing here reimplements its on-chain logic.
package masumi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrRejected indicates the rail explicitly refused the request; the
	// operation is not retried automatically.
	ErrRejected = errors.New("masumi: request rejected")
	// ErrUnavailable indicates a transient failure; the caller retries on its
	// next scheduled pass.
	ErrUnavailable = errors.New("masumi: unavailable")
	// ErrAlreadyApplied indicates the rail has already processed a release
	// with this idempotency key.
	ErrAlreadyApplied = errors.New("masumi: release already applied")
)

// 1 ADA is treated as 100 cents; amounts go on the wire in lovelace.
const lovelacePerCent = 10_000

// Escrow deadlines, relative to creation.
const (
	payByWindow          = 30 * time.Minute
	submitResultWindow   = 8 * time.Hour
	unlockWindow         = 12 * time.Hour
	externalDisputeAfter = 24 * time.Hour
)

// onChainState values in which the escrow funds are locked and releasable.
var fundedStates = map[string]struct{}{
	"FundsLocked":       {},
	"ResultSubmitted":   {},
	"RefundRequested":   {},
	"Disputed":          {},
	"Withdrawn":         {},
	"RefundWithdrawn":   {},
	"DisputedWithdrawn": {},
}

// Client wraps the Masumi payment-service API.
type Client struct {
	baseURL         string
	apiKey          string
	network         string
	agentIdentifier string
	httpClient      *http.Client
	logger          *zap.Logger
}

// NewClient returns an HTTP client wrapper for the given payment service.
func NewClient(baseURL, apiKey, network, agentIdentifier string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		network:         network,
		agentIdentifier: agentIdentifier,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// EscrowMeta is attached to the escrow for audit.
type EscrowMeta struct {
	SessionID string `json:"session_id"`
	VehicleID string `json:"vehicle_id"`
	SlotID    string `json:"slot_id"`
}

// Escrow identifies one opened escrow on the rail.
type Escrow struct {
	BlockchainIdentifier string
}

// FundingStatus is the observed escrow state.
type FundingStatus struct {
	Funded       bool
	OnChainState string
}

// CreateEscrow opens an escrow sized to the session's deposit.
func (c *Client) CreateEscrow(ctx context.Context, amountCents int64, meta EscrowMeta) (*Escrow, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("masumi: encode metadata: %w", err)
	}

	now := time.Now().UTC()
	payload := map[string]interface{}{
		"inputHash":                sha256Hex(meta.SessionID),
		"network":                  c.network,
		"agentIdentifier":          c.agentIdentifier,
		"identifierFromPurchaser":  purchaserIdentifier(),
		"payByTime":                isoAt(now.Add(payByWindow)),
		"submitResultTime":         isoAt(now.Add(submitResultWindow)),
		"unlockTime":               isoAt(now.Add(unlockWindow)),
		"externalDisputeUnlockTime": isoAt(now.Add(externalDisputeAfter)),
		"metadata":                 string(metaJSON),
	}
	if amountCents > 0 {
		payload["RequestedFunds"] = []map[string]string{{
			"amount": strconv.FormatInt(amountCents*lovelacePerCent, 10),
			"unit":   "lovelace",
		}}
	}

	var resp struct {
		BlockchainIdentifier string `json:"blockchainIdentifier"`
	}
	if err := c.post(ctx, "/payment/", payload, &resp); err != nil {
		return nil, err
	}
	if resp.BlockchainIdentifier == "" {
		return nil, fmt.Errorf("%w: escrow response missing blockchain identifier", ErrRejected)
	}
	return &Escrow{BlockchainIdentifier: resp.BlockchainIdentifier}, nil
}

// GetFundingStatus resolves the escrow's current on-chain state.
func (c *Client) GetFundingStatus(ctx context.Context, blockchainIdentifier string) (*FundingStatus, error) {
	payload := map[string]interface{}{
		"blockchainIdentifier": blockchainIdentifier,
		"network":              c.network,
		"includeHistory":       "false",
	}

	var resp struct {
		OnChainState string `json:"onChainState"`
	}
	if err := c.post(ctx, "/payment/resolve-blockchain-identifier", payload, &resp); err != nil {
		return nil, err
	}
	_, funded := fundedStates[resp.OnChainState]
	return &FundingStatus{Funded: funded, OnChainState: resp.OnChainState}, nil
}

// SubmitRelease instructs the rail to release amountCents from the escrow.
// The idempotency key feeds the submitted result hash, so a retried call is
// recognized by the rail as the same release.
func (c *Client) SubmitRelease(ctx context.Context, blockchainIdentifier, sessionID string, amountCents int64, idempotencyKey string) (string, error) {
	payload := map[string]interface{}{
		"network":              c.network,
		"blockchainIdentifier": blockchainIdentifier,
		"submitResultHash":     releaseHash(sessionID, blockchainIdentifier, amountCents, idempotencyKey),
	}

	var resp struct {
		CurrentTransaction struct {
			TxHash string `json:"txHash"`
		} `json:"CurrentTransaction"`
	}
	if err := c.post(ctx, "/payment/submit-result", payload, &resp); err != nil {
		return "", err
	}
	return resp.CurrentTransaction.TxHash, nil
}

// post sends a request and decodes the rail's {"data": ...} envelope.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("masumi: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("masumi: build request: %w", err)
	}
	req.Header.Set("token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyApplied
	case resp.StatusCode >= 500:
		c.logger.Warn("masumi server error",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.logger.Warn("masumi rejected request",
			zap.String("path", path), zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("masumi: decode response: %w", err)
	}
	return nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// purchaserIdentifier must be at most 26 characters on the rail.
func purchaserIdentifier() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id[:26]
}

func releaseHash(sessionID, blockchainIdentifier string, amountCents int64, idempotencyKey string) string {
	return sha256Hex(fmt.Sprintf("%s|%s|%d|%s", sessionID, blockchainIdentifier, amountCents, idempotencyKey))
}

func isoAt(t time.Time) string {
	return t.Truncate(time.Second).Format("2006-01-02T15:04:05") + "Z"
}
