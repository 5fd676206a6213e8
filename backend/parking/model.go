// Package parking holds the settlement domain model and the typed adapter
// over the shared document store.
package parking

import (
	"errors"
	"math"
)

// Status is the session lifecycle state. It only ever moves forward.
type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingFunding Status = "awaiting_funding"
	StatusActive          Status = "active"
	StatusEnding          Status = "ending"
	StatusEnded           Status = "ended"
)

var (
	// ErrConflict indicates a duplicate entry for a vehicle with a live session.
	ErrConflict = errors.New("parking: vehicle already has a live session")
	// ErrInvalidState indicates an operation against a session in the wrong status.
	ErrInvalidState = errors.New("parking: invalid session state")
)

// statusRank orders the lifecycle; transitions must strictly increase it.
var statusRank = map[Status]int{
	StatusPending:         0,
	StatusAwaitingFunding: 1,
	StatusActive:          2,
	StatusEnding:          3,
	StatusEnded:           4,
}

// allowed transitions: the linear chain plus the two early-exit edges.
var allowedTransitions = map[Status][]Status{
	StatusPending:         {StatusAwaitingFunding, StatusEnding},
	StatusAwaitingFunding: {StatusActive, StatusEnding},
	StatusActive:          {StatusEnding},
	StatusEnding:          {StatusEnded},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Live reports whether the status counts as an open session for its vehicle.
// A vehicle with a live session rejects a second entry.
func (s Status) Live() bool {
	switch s {
	case StatusPending, StatusAwaitingFunding, StatusActive:
		return true
	default:
		return false
	}
}

// Metered reports whether the metering engine processes this status.
func (s Status) Metered() bool {
	return s == StatusActive || s == StatusEnding
}

// Session is the central settlement entity. Field ownership is split between
// the ingest gateway, the payment orchestrator, and the metering engine; see
// the Records methods for who writes what.
type Session struct {
	VehicleID            string  `json:"vehicle_id"`
	SlotID               string  `json:"slot_id"`
	StartTS              int64   `json:"start_ts"`
	EndTS                int64   `json:"end_ts,omitempty"`
	Status               Status  `json:"status"`
	RatePerMinCents      int64   `json:"rate_per_min_cents"`
	AccruedCents         int64   `json:"accrued_cents"`
	ReleasedCents        int64   `json:"released_cents"`
	EscrowDepositCents   int64   `json:"escrow_deposit_cents"`
	PaymentID            string  `json:"payment_id,omitempty"`
	LastTickTS           int64   `json:"last_tick_ts,omitempty"`
	PercentEscrowUsed    float64 `json:"percent_escrow_used"`
	PercentPaidOfAccrued float64 `json:"percent_paid_of_accrued"`
	EntryEventID         string  `json:"entry_event_id,omitempty"`
	ExitEventID          string  `json:"exit_event_id,omitempty"`
}

// SessionRecord pairs a session with its store id.
type SessionRecord struct {
	ID string
	Session
}

// Payment tracks one escrow opened for a session. It is never deleted; its
// releases form the settlement audit trail.
type Payment struct {
	SessionID            string `json:"session_id"`
	BlockchainIdentifier string `json:"blockchain_identifier"`
	Funded               bool   `json:"funded"`
	CreatedTS            int64  `json:"created_ts"`
	LastGatewayStatus    string `json:"last_gateway_status,omitempty"`
}

// PaymentRecord pairs a payment with its store id.
type PaymentRecord struct {
	ID string
	Payment
}

// Release is one immutable partial settlement. The idempotency key is the
// sole guard against a retried call producing two on-chain releases.
type Release struct {
	AmountCents    int64  `json:"amount_cents"`
	TxHash         string `json:"tx_hash"`
	TS             int64  `json:"ts"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ScanEvent is a write-once record of one scanner observation.
type ScanEvent struct {
	ClientEventID      string `json:"event_id,omitempty"`
	Type               string `json:"type"` // "entry" | "exit"
	VehicleID          string `json:"vehicle_id"`
	SlotID             string `json:"slot_id"`
	ScannerID          string `json:"scanner_id"`
	TS                 int64  `json:"ts"`
	RatePerMinCents    int64  `json:"rate_per_min_cents"`
	EscrowDepositCents int64  `json:"escrow_deposit_cents"`
	Signature          string `json:"sig,omitempty"`
	SessionCreated     string `json:"session_created,omitempty"`
	SessionClosed      string `json:"session_closed,omitempty"`
}

// Vehicle is created on first entry and updated on each scan; never deleted.
type Vehicle struct {
	OwnerName     string `json:"owner_name,omitempty"`
	SessionCount  int64  `json:"session_count"`
	LastSessionID string `json:"last_session_id,omitempty"`
	FirstSeenTS   int64  `json:"first_seen_ts"`
	LastSeenTS    int64  `json:"last_seen_ts"`
}

// Tariff is the process-wide billing configuration, loaded once at startup
// and immutable for the life of the process.
type Tariff struct {
	DefaultRatePerMinCents int64 `yaml:"defaultRatePerMinCents" env:"DEFAULT_RATE_PER_MIN_CENTS"`
	DefaultEscrowCents     int64 `yaml:"defaultEscrowCents" env:"DEFAULT_ESCROW_CENTS"`
	ReleaseThresholdCents  int64 `yaml:"releaseThresholdCents" env:"RELEASE_THRESHOLD_CENTS"`
	ReleaseBatchLimitCents int64 `yaml:"releaseBatchLimitCents" env:"RELEASE_BATCH_LIMIT_CENTS"`
}

// ApplyDefaults fills unset tariff fields.
func (t *Tariff) ApplyDefaults() {
	if t.DefaultRatePerMinCents <= 0 {
		t.DefaultRatePerMinCents = 10
	}
	if t.DefaultEscrowCents <= 0 {
		t.DefaultEscrowCents = 500
	}
	if t.ReleaseThresholdCents <= 0 {
		t.ReleaseThresholdCents = 100
	}
	if t.ReleaseBatchLimitCents <= 0 {
		t.ReleaseBatchLimitCents = 1000
	}
}

// PercentEscrowUsed returns accrued as a share of the escrow deposit, capped
// at 100.
func PercentEscrowUsed(accruedCents, escrowCents int64) float64 {
	if escrowCents <= 0 {
		return 0
	}
	pct := float64(accruedCents) / float64(escrowCents) * 100
	if pct > 100 {
		pct = 100
	}
	return round2(pct)
}

// PercentPaidOfAccrued returns released as a share of accrued; 0 when nothing
// has accrued yet.
func PercentPaidOfAccrued(releasedCents, accruedCents int64) float64 {
	if accruedCents <= 0 {
		return 0
	}
	return round2(float64(releasedCents) / float64(accruedCents) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
