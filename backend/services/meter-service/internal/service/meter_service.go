package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/parking"
	"parkngo/backend/services/meter-service/internal/clients"
)

const minTickInterval = time.Second

// PaymentsGateway is the settlement boundary used by the metering engine.
type PaymentsGateway interface {
	Release(ctx context.Context, sessionID string, amountCents int64) (string, error)
}

// MeterService accrues charges for running sessions and triggers escrow
// releases. It owns accrued_cents, the derived percentages, and the
// ending→ended transition; everything else belongs to the ingest gateway or
// the payment orchestrator. State is re-derived from the store on every tick,
// so a restart loses nothing.
type MeterService struct {
	records  *parking.Records
	payments PaymentsGateway
	tariff   parking.Tariff
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewMeterService builds the engine.
func NewMeterService(records *parking.Records, payments PaymentsGateway, tariff parking.Tariff, interval time.Duration, logger *zap.Logger) *MeterService {
	if interval < minTickInterval {
		interval = minTickInterval
	}
	tariff.ApplyDefaults()
	return &MeterService{
		records:  records,
		payments: payments,
		tariff:   tariff,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (m *MeterService) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("metering engine started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick processes every metered session once. A failing session is logged and
// retried on the next tick; it never blocks its neighbours.
func (m *MeterService) Tick(ctx context.Context) {
	sessions, err := m.records.SessionsByStatus(ctx, parking.StatusActive, parking.StatusEnding)
	if err != nil {
		m.logger.Warn("tick failed to list sessions", zap.Error(err))
		return
	}

	for _, rec := range sessions {
		var err error
		switch rec.Status {
		case parking.StatusActive:
			err = m.tickActive(ctx, rec)
		case parking.StatusEnding:
			err = m.closeEnding(ctx, rec)
		}
		if err != nil {
			m.logger.Warn("tick failed for session",
				zap.String("session_id", rec.ID),
				zap.String("status", string(rec.Status)),
				zap.Error(err),
			)
		}
	}
}

// accruedAt charges whole elapsed minutes since the session started.
func accruedAt(s parking.Session, nowTS int64) int64 {
	elapsed := nowTS - s.StartTS
	if elapsed < 0 {
		elapsed = 0
	}
	return (elapsed / 60) * s.RatePerMinCents
}

func (m *MeterService) tickActive(ctx context.Context, rec parking.SessionRecord) error {
	nowTS := m.now().Unix()

	// Another instance ticked this session moments ago; let its pass stand.
	if rec.LastTickTS > 0 && nowTS-rec.LastTickTS < int64(m.interval/time.Second)/2 {
		return nil
	}

	accrued := accruedAt(rec.Session, nowTS)
	if accrued < rec.AccruedCents {
		accrued = rec.AccruedCents
	}
	if err := m.records.UpdateMeter(ctx, rec.ID, accrued, nowTS); err != nil {
		return err
	}

	outstanding := accrued - rec.ReleasedCents
	if outstanding < m.tariff.ReleaseThresholdCents {
		return nil
	}

	amount := outstanding
	if amount > m.tariff.ReleaseBatchLimitCents {
		amount = m.tariff.ReleaseBatchLimitCents
	}

	txHash, err := m.payments.Release(ctx, rec.ID, amount)
	if err != nil {
		if errors.Is(err, clients.ErrNotFunded) {
			// Funding lapsed between activation and now; nothing to settle yet.
			m.logger.Info("release deferred, escrow not funded",
				zap.String("session_id", rec.ID))
			return nil
		}
		return err
	}

	m.logger.Info("threshold release settled",
		zap.String("session_id", rec.ID),
		zap.Int64("amount_cents", amount),
		zap.Int64("accrued_cents", accrued),
		zap.String("tx_hash", txHash),
	)
	return nil
}

// closeEnding settles the full outstanding balance and finalizes the session.
// The closing release is deliberately uncapped: the driver has left, so the
// whole remainder goes out in one settlement.
func (m *MeterService) closeEnding(ctx context.Context, rec parking.SessionRecord) error {
	nowTS := m.now().Unix()

	// Re-read before settling: the listed record may be stale, and another
	// pass may have already released the remainder and closed the session.
	fresh, err := m.records.Session(ctx, rec.ID)
	if err != nil {
		return err
	}
	if fresh.Status != parking.StatusEnding {
		return nil
	}
	rec.Session = *fresh

	accrued := accruedAt(rec.Session, nowTS)
	if accrued < rec.AccruedCents {
		accrued = rec.AccruedCents
	}
	if err := m.records.UpdateMeter(ctx, rec.ID, accrued, nowTS); err != nil {
		return err
	}

	if rec.PaymentID == "" {
		// The session ended before a payment was ever opened (scan-in, scan-out,
		// no escrow). There is nothing to settle.
		m.logger.Warn("closing session without payment",
			zap.String("session_id", rec.ID),
			zap.Int64("accrued_cents", accrued),
		)
		return m.finalize(ctx, rec, nowTS)
	}

	outstanding := accrued - rec.ReleasedCents
	if outstanding > 0 {
		txHash, err := m.payments.Release(ctx, rec.ID, outstanding)
		if err != nil {
			if errors.Is(err, clients.ErrNotFunded) {
				m.logger.Warn("closing session whose escrow never funded",
					zap.String("session_id", rec.ID),
					zap.Int64("unsettled_cents", outstanding),
				)
				return m.finalize(ctx, rec, nowTS)
			}
			// Transient failure: stay in ending and retry on the next tick.
			return err
		}
		m.logger.Info("final release settled",
			zap.String("session_id", rec.ID),
			zap.Int64("amount_cents", outstanding),
			zap.String("tx_hash", txHash),
		)
	}

	return m.finalize(ctx, rec, nowTS)
}

func (m *MeterService) finalize(ctx context.Context, rec parking.SessionRecord, nowTS int64) error {
	if err := m.records.FinalizeSession(ctx, rec.ID, nowTS); err != nil {
		if errors.Is(err, parking.ErrInvalidState) {
			return nil // another instance finalized first
		}
		return err
	}
	if rec.ExitEventID != "" {
		if err := m.records.SetEventSessionClosed(ctx, rec.ExitEventID, rec.ID); err != nil {
			m.logger.Warn("failed to stamp exit event",
				zap.String("session_id", rec.ID),
				zap.String("event_id", rec.ExitEventID),
				zap.Error(err),
			)
		}
	}
	m.logger.Info("session ended",
		zap.String("session_id", rec.ID),
		zap.Int64("end_ts", nowTS),
	)
	return nil
}
