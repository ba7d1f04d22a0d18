package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/models"
	"go.uber.org/zap"
)

const (
	PassReceipts = "receipts"
	PassSweep    = "sweep"

	CancelReasonAbandoned = "payment_abandoned"

	reconcileBatch = 100
)

// Reconciler repairs rows the request path left behind: it finalizes crypto
// transactions from chain receipts and cancels abandoned payments.
type Reconciler struct {
	consultations ConsultationStore
	payments      PaymentRecordStore
	cryptoTxs     CryptoTxStore
	chain         chain.Backend
	effects       sideEffects
	metrics       *metrics.Metrics
	cfg           *config.Config
	log           *zap.Logger
	now           func() time.Time
}

func NewReconciler(
	consultations ConsultationStore,
	paymentRecords PaymentRecordStore,
	cryptoTxs CryptoTxStore,
	backend chain.Backend,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		consultations: consultations,
		payments:      paymentRecords,
		cryptoTxs:     cryptoTxs,
		chain:         backend,
		effects:       sideEffects{audit: audit, publisher: publisher, metrics: m, log: log},
		metrics:       m,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
	}
}

func (r *Reconciler) SetNowFunc(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

type PassResult struct {
	Examined  int
	Confirmed int
	Failed    int
	Waiting   int
	Cancelled int
	Errors    int
}

func (r *Reconciler) count(res *PassResult, pass, outcome string) {
	switch outcome {
	case "confirmed":
		res.Confirmed++
	case "failed":
		res.Failed++
	case "waiting":
		res.Waiting++
	case "cancelled":
		res.Cancelled++
	case "error":
		res.Errors++
	}
	r.metrics.ReconcilerRow(pass, outcome)
}

// FinalizeCryptoTransactions settles pending crypto transactions whose
// receipts have enough confirmations. Consultation and payment record are
// written before the transaction row, so a partial failure is retried on the
// next pass.
func (r *Reconciler) FinalizeCryptoTransactions(ctx context.Context) (*PassResult, error) {
	txs, err := r.cryptoTxs.ListAwaitingReceipt(ctx, reconcileBatch)
	if err != nil {
		return nil, err
	}
	res := &PassResult{Examined: len(txs)}
	minConf := uint64(1)
	if r.cfg.ChainConfirmations > 1 {
		minConf = uint64(r.cfg.ChainConfirmations)
	}

	for i := range txs {
		tx := &txs[i]
		log := r.log.With(zap.String("tx_hash", tx.TransactionHash))

		rcpt, err := r.chain.Receipt(ctx, tx.TransactionHash)
		if err != nil {
			log.Warn("receipt lookup failed", zap.Error(err))
			r.count(res, PassReceipts, "error")
			continue
		}
		if !rcpt.Found || (rcpt.Success && rcpt.Confirmations < minConf) {
			r.count(res, PassReceipts, "waiting")
			continue
		}

		outcome := "confirmed"
		payment := models.PaymentSucceeded
		txStatus := models.CryptoTxConfirmed
		if !rcpt.Success {
			outcome = "failed"
			payment = models.PaymentFailed
			txStatus = models.CryptoTxFailed
		}

		if tx.ConsultationID != nil {
			if err := r.applyChainOutcome(ctx, tx, rcpt, payment); err != nil {
				log.Error("failed to apply chain outcome", zap.Error(err))
				r.count(res, PassReceipts, "error")
				continue
			}
		}

		tx.Status = txStatus
		tx.BlockNumber = int64(rcpt.BlockNumber)
		if rcpt.Success {
			at := r.now().UTC()
			tx.ConfirmedAt = &at
		}
		if err := r.cryptoTxs.Update(ctx, tx); err != nil {
			log.Error("failed to finalize crypto transaction", zap.Error(err))
			r.count(res, PassReceipts, "error")
			continue
		}
		log.Info("crypto transaction finalized",
			zap.String("status", txStatus),
			zap.String("revert_reason", rcpt.RevertReason),
			zap.Uint64("block", rcpt.BlockNumber),
			zap.Uint64("session_id", rcpt.SessionID))
		r.count(res, PassReceipts, outcome)
	}
	return res, nil
}

func (r *Reconciler) applyChainOutcome(ctx context.Context, tx *models.CryptoTransaction, rcpt *chain.Receipt, payment models.PaymentStatus) error {
	c, err := r.consultations.GetByID(ctx, *tx.ConsultationID)
	if err != nil {
		return err
	}

	var extra map[string]any
	if payment == models.PaymentFailed {
		extra = map[string]any{"reason": rcpt.FailureMessage()}
		if rcpt.RevertReason != "" {
			extra["revert_reason"] = rcpt.RevertReason
		}
	}

	rollback := payment == models.PaymentFailed && r.settledBy(c, tx.TransactionHash)
	if rollback || (!c.PaymentStatus.Settled() && (c.PaymentStatus == payment || c.PaymentStatus.CanTransition(payment))) {
		oldStatus, oldPayment := c.Status, c.PaymentStatus
		c.PaymentStatus = payment
		if c.CryptoTransactionHash == nil {
			c.CryptoTransactionHash = strPtr(tx.TransactionHash)
		}
		if rcpt.SessionID > 0 {
			c.ContractSessionID = strPtr(strconv.FormatUint(rcpt.SessionID, 10))
		}
		target := models.ConsultationConfirmed
		if payment == models.PaymentFailed {
			target = models.ConsultationPaymentFailed
		}
		if c.Status.CanTransition(target) || (rollback && c.Status == models.ConsultationConfirmed) {
			c.Status = target
		}
		if err := r.consultations.Update(ctx, c); err != nil {
			return err
		}
		if rollback {
			r.log.Warn("settled crypto payment reverted on chain",
				zap.String("consultation_id", c.ID.String()),
				zap.String("tx_hash", tx.TransactionHash),
				zap.String("revert_reason", rcpt.RevertReason))
		}
		r.effects.statusChangedWith(ctx, c, models.ActorChain, strPtr(tx.TransactionHash), oldStatus, oldPayment, extra)
	}

	records, err := r.payments.ListByConsultation(ctx, c.ID)
	if err != nil {
		r.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
		r.log.Warn("payment records lookup failed", zap.String("consultation_id", c.ID.String()), zap.Error(err))
		return nil
	}
	for i := range records {
		rec := &records[i]
		if rec.ProviderPaymentID != tx.TransactionHash || rec.Status == payment {
			continue
		}
		if !rec.Status.CanTransition(payment) && !(rollback && rec.Status == models.PaymentSucceeded) {
			continue
		}
		rec.Status = payment
		if payment == models.PaymentFailed {
			if rec.Metadata == nil {
				rec.Metadata = map[string]any{}
			}
			for k, v := range extra {
				rec.Metadata[k] = v
			}
		}
		if err := r.payments.Update(ctx, rec); err != nil {
			r.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
			r.log.Warn("payment record update failed", zap.String("payment_record_id", rec.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// settledBy reports whether c was settled through the given crypto
// transaction. Such a settlement is undone when the receipt says the
// transaction reverted.
func (r *Reconciler) settledBy(c *models.Consultation, txHash string) bool {
	return c.PaymentStatus == models.PaymentSucceeded &&
		c.PaymentMethod != nil && *c.PaymentMethod == models.PaymentMethodCrypto &&
		c.CryptoTransactionHash != nil && strings.EqualFold(*c.CryptoTransactionHash, txHash)
}

// SweepStale cancels crypto payments that never received a wallet hash.
func (r *Reconciler) SweepStale(ctx context.Context) (*PassResult, error) {
	cutoff := r.now().Add(-r.cfg.StalePendingAfter)
	stale, err := r.consultations.ListStalePending(ctx, cutoff, reconcileBatch)
	if err != nil {
		return nil, err
	}
	res := &PassResult{Examined: len(stale)}

	for i := range stale {
		c := &stale[i]
		log := r.log.With(zap.String("consultation_id", c.ID.String()))

		oldStatus, oldPayment := c.Status, c.PaymentStatus
		c.PaymentStatus = models.PaymentCancelled
		if c.Status.CanTransition(models.ConsultationCancelled) {
			c.Status = models.ConsultationCancelled
			c.CancellationReason = strPtr(CancelReasonAbandoned)
		}
		if err := r.consultations.Update(ctx, c); err != nil {
			log.Error("failed to cancel stale consultation", zap.Error(err))
			r.count(res, PassSweep, "error")
			continue
		}
		r.cancelLedgerRows(ctx, c, log)
		r.effects.statusChanged(ctx, c, models.ActorSystem, nil, oldStatus, oldPayment)
		log.Info("stale crypto payment cancelled")
		r.count(res, PassSweep, "cancelled")
	}
	return res, nil
}

func (r *Reconciler) cancelLedgerRows(ctx context.Context, c *models.Consultation, log *zap.Logger) {
	records, err := r.payments.ListByConsultation(ctx, c.ID)
	if err != nil {
		r.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
		log.Warn("payment records lookup failed", zap.Error(err))
	}
	for i := range records {
		rec := &records[i]
		if rec.PaymentMethod != models.PaymentMethodCrypto || !rec.Status.CanTransition(models.PaymentCancelled) {
			continue
		}
		rec.Status = models.PaymentCancelled
		if err := r.payments.Update(ctx, rec); err != nil {
			r.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
			log.Warn("payment record cancel failed", zap.String("payment_record_id", rec.ID.String()), zap.Error(err))
		}
	}

	txs, err := r.cryptoTxs.ListByConsultation(ctx, c.ID)
	if err != nil {
		r.metrics.ReconciliationDebt(metrics.StageCryptoTx)
		log.Warn("crypto transactions lookup failed", zap.Error(err))
	}
	for i := range txs {
		tx := &txs[i]
		if tx.Status != models.CryptoTxPending || !models.IsPlaceholderHash(tx.TransactionHash) {
			continue
		}
		tx.Status = models.CryptoTxFailed
		if err := r.cryptoTxs.Update(ctx, tx); err != nil {
			r.metrics.ReconciliationDebt(metrics.StageCryptoTx)
			log.Warn("crypto transaction cancel failed", zap.String("crypto_tx_id", tx.ID.String()), zap.Error(err))
		}
	}
}

// Run drives both passes on their own tickers until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	receiptTicker := time.NewTicker(r.cfg.ReceiptInterval)
	sweepTicker := time.NewTicker(r.cfg.SweepInterval)
	defer receiptTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-receiptTicker.C:
			res, err := r.FinalizeCryptoTransactions(ctx)
			if err != nil {
				r.log.Error("receipt pass failed", zap.Error(err))
				continue
			}
			if res.Examined > 0 {
				r.log.Info("receipt pass done",
					zap.Int("examined", res.Examined),
					zap.Int("confirmed", res.Confirmed),
					zap.Int("failed", res.Failed),
					zap.Int("waiting", res.Waiting))
			}
		case <-sweepTicker.C:
			res, err := r.SweepStale(ctx)
			if err != nil {
				r.log.Error("sweep pass failed", zap.Error(err))
				continue
			}
			if res.Cancelled > 0 {
				r.log.Info("sweep pass done", zap.Int("cancelled", res.Cancelled))
			}
		case <-ctx.Done():
			return
		}
	}
}
