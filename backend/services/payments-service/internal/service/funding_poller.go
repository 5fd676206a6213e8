package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/parking"
)

const minPollInterval = 5 * time.Second

// FundingPoller watches unfunded payments and activates their sessions once
// the rail reports funds locked. There is no push channel from the rail, so
// polling is the event source.
type FundingPoller struct {
	svc      *PaymentsService
	interval time.Duration
	logger   *zap.Logger
}

// NewFundingPoller builds the poller.
func NewFundingPoller(svc *PaymentsService, interval time.Duration, logger *zap.Logger) *FundingPoller {
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return &FundingPoller{svc: svc, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. Errors are logged and deferred to the
// next pass; a failing payment never blocks the rest.
func (p *FundingPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *FundingPoller) pollOnce(ctx context.Context) {
	payments, err := p.svc.records.UnfundedPayments(ctx)
	if err != nil {
		p.logger.Warn("funding poll failed to list payments", zap.Error(err))
		return
	}

	for _, payment := range payments {
		if err := p.checkPayment(ctx, payment); err != nil {
			p.logger.Warn("funding check failed",
				zap.String("payment_id", payment.ID),
				zap.String("session_id", payment.SessionID),
				zap.Error(err),
			)
		}
	}
}

func (p *FundingPoller) checkPayment(ctx context.Context, payment parking.PaymentRecord) error {
	status, err := p.svc.gateway.GetFundingStatus(ctx, payment.BlockchainIdentifier)
	if err != nil {
		return err
	}

	if status.OnChainState != "" {
		if err := p.svc.records.SetGatewayStatus(ctx, payment.ID, status.OnChainState); err != nil {
			return err
		}
	}
	if !status.Funded {
		return nil
	}

	if err := p.svc.records.MarkFunded(ctx, payment.ID, status.OnChainState); err != nil {
		return err
	}

	session, err := p.svc.records.Session(ctx, payment.SessionID)
	if err != nil {
		return err
	}
	if session.Status != parking.StatusAwaitingFunding {
		// An early exit may already have flipped the session to ending; the
		// meter finishes it from there.
		p.logger.Info("funds locked but session moved on",
			zap.String("session_id", payment.SessionID),
			zap.String("status", string(session.Status)),
		)
		return nil
	}

	if err := p.svc.records.ActivateSession(ctx, payment.SessionID, p.svc.now().Unix()); err != nil {
		if errors.Is(err, parking.ErrInvalidState) {
			return nil // lost the race to an exit scan
		}
		return err
	}

	p.logger.Info("session activated",
		zap.String("session_id", payment.SessionID),
		zap.String("payment_id", payment.ID),
		zap.String("on_chain_state", status.OnChainState),
	)
	return nil
}
