package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/parking"
	"parkngo/backend/services/payments-service/internal/masumi"
)

// ErrNotFunded indicates a release attempt against an escrow whose funds have
// not locked yet.
var ErrNotFunded = errors.New("payments: escrow not funded yet")

// Gateway is the escrow rail boundary used by the orchestrator.
type Gateway interface {
	CreateEscrow(ctx context.Context, amountCents int64, meta masumi.EscrowMeta) (*masumi.Escrow, error)
	GetFundingStatus(ctx context.Context, blockchainIdentifier string) (*masumi.FundingStatus, error)
	SubmitRelease(ctx context.Context, blockchainIdentifier, sessionID string, amountCents int64, idempotencyKey string) (string, error)
}

// PaymentsService orchestrates escrow creation, funding confirmation, and
// incremental releases for sessions.
type PaymentsService struct {
	records *parking.Records
	gateway Gateway
	logger  *zap.Logger
	now     func() time.Time
}

// NewPaymentsService builds the orchestrator.
func NewPaymentsService(records *parking.Records, gateway Gateway, logger *zap.Logger) *PaymentsService {
	return &PaymentsService{
		records: records,
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
	}
}

// CreatePaymentResult identifies the escrow opened for a session.
type CreatePaymentResult struct {
	PaymentID            string
	BlockchainIdentifier string
}

// CreatePayment opens an escrow for a pending session. Idempotent per
// session: a session that already carries a payment id returns the stored
// identifiers instead of opening a second escrow.
func (s *PaymentsService) CreatePayment(ctx context.Context, sessionID string) (*CreatePaymentResult, error) {
	session, err := s.records.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.PaymentID != "" {
		payment, err := s.records.Payment(ctx, session.PaymentID)
		if err != nil {
			return nil, err
		}
		return &CreatePaymentResult{
			PaymentID:            session.PaymentID,
			BlockchainIdentifier: payment.BlockchainIdentifier,
		}, nil
	}

	if session.Status != parking.StatusPending {
		return nil, fmt.Errorf("%w: create payment requires pending, session is %s",
			parking.ErrInvalidState, session.Status)
	}

	escrow, err := s.gateway.CreateEscrow(ctx, session.EscrowDepositCents, masumi.EscrowMeta{
		SessionID: sessionID,
		VehicleID: session.VehicleID,
		SlotID:    session.SlotID,
	})
	if err != nil {
		return nil, err
	}

	// The rail's blockchain identifier doubles as the payment id, matching
	// the persisted layout.
	paymentID := escrow.BlockchainIdentifier
	if err := s.records.CreatePayment(ctx, paymentID, parking.Payment{
		SessionID:            sessionID,
		BlockchainIdentifier: escrow.BlockchainIdentifier,
		Funded:               false,
		CreatedTS:            s.now().Unix(),
	}); err != nil {
		return nil, err
	}

	if err := s.records.AttachPayment(ctx, sessionID, paymentID); err != nil {
		return nil, err
	}

	s.logger.Info("payment created",
		zap.String("session_id", sessionID),
		zap.String("payment_id", paymentID),
		zap.Int64("escrow_deposit_cents", session.EscrowDepositCents),
	)
	return &CreatePaymentResult{
		PaymentID:            paymentID,
		BlockchainIdentifier: escrow.BlockchainIdentifier,
	}, nil
}

// DeriveIdempotencyKey builds the deterministic key for one intended release
// increment. Deriving it from the pre-release released counter means a retry
// of the same increment always carries the same key, while the next increment
// never collides.
func DeriveIdempotencyKey(paymentID string, releasedBeforeCents, amountCents int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", paymentID, releasedBeforeCents, amountCents)))
	return hex.EncodeToString(sum[:])
}

// Release submits one partial settlement for the session. Retried calls are
// deduplicated by the idempotency key both locally (stored releases) and on
// the rail; an "already applied" report from the rail still advances the
// local counter so the books reconcile.
func (s *PaymentsService) Release(ctx context.Context, sessionID string, amountCents int64) (string, error) {
	if amountCents <= 0 {
		return "", fmt.Errorf("payments: release amount must be positive, got %d", amountCents)
	}

	session, err := s.records.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.PaymentID == "" {
		return "", fmt.Errorf("%w: session %s has no payment", parking.ErrInvalidState, sessionID)
	}

	payment, err := s.records.Payment(ctx, session.PaymentID)
	if err != nil {
		return "", err
	}

	if !payment.Funded {
		// One opportunistic refresh before giving up; funding may have
		// landed since the poller's last pass.
		status, statusErr := s.gateway.GetFundingStatus(ctx, payment.BlockchainIdentifier)
		if statusErr == nil && status.Funded {
			if err := s.records.MarkFunded(ctx, session.PaymentID, status.OnChainState); err != nil {
				return "", err
			}
			payment.Funded = true
		} else {
			return "", ErrNotFunded
		}
	}

	key := DeriveIdempotencyKey(session.PaymentID, session.ReleasedCents, amountCents)

	existing, err := s.records.FindReleaseByKey(ctx, session.PaymentID, key)
	if err != nil {
		return "", err
	}
	if existing != nil {
		// The key embeds the counter value this call read, so a stored match
		// means a previous attempt recorded the release and crashed before
		// advancing released_cents. Finish that bookkeeping now instead of
		// resubmitting to the rail.
		if err := s.records.ApplyRelease(ctx, sessionID, amountCents); err != nil {
			return "", err
		}
		s.logger.Warn("release replayed, reconciled counter from recorded tx",
			zap.String("session_id", sessionID),
			zap.String("idempotency_key", key),
			zap.Int64("amount_cents", amountCents),
		)
		return existing.TxHash, nil
	}

	txHash, err := s.gateway.SubmitRelease(ctx, payment.BlockchainIdentifier, sessionID, amountCents, key)
	if errors.Is(err, masumi.ErrAlreadyApplied) {
		// The rail applied this release on a previous attempt we never saw
		// the answer to. Record it and advance the counter anyway.
		s.logger.Warn("release already applied on rail, reconciling",
			zap.String("session_id", sessionID),
			zap.String("idempotency_key", key),
		)
		txHash = ""
	} else if err != nil {
		return "", err
	}

	if _, err := s.records.AppendRelease(ctx, session.PaymentID, parking.Release{
		AmountCents:    amountCents,
		TxHash:         txHash,
		TS:             s.now().Unix(),
		IdempotencyKey: key,
	}); err != nil {
		return "", err
	}
	if err := s.records.ApplyRelease(ctx, sessionID, amountCents); err != nil {
		return "", err
	}

	s.logger.Info("release settled",
		zap.String("session_id", sessionID),
		zap.String("payment_id", session.PaymentID),
		zap.Int64("amount_cents", amountCents),
		zap.String("tx_hash", txHash),
	)
	return txHash, nil
}
