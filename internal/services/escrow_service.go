package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowService prepares on-chain escrow sessions and records the wallet's
// transaction hash once the client has signed.
type EscrowService struct {
	consultants   ConsultantStore
	consultations ConsultationStore
	payments      PaymentRecordStore
	cryptoTxs     CryptoTxStore
	chain         chain.Backend
	effects       sideEffects
	cfg           *config.Config
	metrics       *metrics.Metrics
	log           *zap.Logger
	now           func() time.Time
}

func NewEscrowService(
	consultants ConsultantStore,
	consultations ConsultationStore,
	payments PaymentRecordStore,
	cryptoTxs CryptoTxStore,
	backend chain.Backend,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		consultants:   consultants,
		consultations: consultations,
		payments:      payments,
		cryptoTxs:     cryptoTxs,
		chain:         backend,
		effects:       sideEffects{audit: audit, publisher: publisher, metrics: m, log: log},
		cfg:           cfg,
		metrics:       m,
		log:           log,
		now:           time.Now,
	}
}

func (s *EscrowService) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type OpenSessionInput struct {
	ConsultationID  string
	ConsultantID    string
	ScheduledTime   string
	Amount          decimal.Decimal
	CustomerAddress string
	CustomerEmail   string
	SessionDuration int
	// Caller is the authenticated wallet, empty for anonymous requests.
	Caller string
}

type OpenSessionResult struct {
	Consultation      *models.Consultation
	CorrelationID     string
	ContractAddress   string
	Amount            decimal.Decimal
	AmountWei         string
	Currency          string
	Network           string
	PaymentRecord     *models.PaymentRecord
	CryptoTransaction *models.CryptoTransaction
	ContractConfig    *chain.ContractConfig
}

// OpenSession marks the consultation as awaiting a crypto payment and returns
// the createSession call the client wallet has to sign. Only the consultation
// update is fatal; the ledger rows are best effort.
func (s *EscrowService) OpenSession(ctx context.Context, in OpenSessionInput) (*OpenSessionResult, error) {
	var missing []string
	if strings.TrimSpace(in.ConsultationID) == "" {
		missing = append(missing, "consultationId")
	}
	if strings.TrimSpace(in.CustomerAddress) == "" {
		missing = append(missing, "customerAddress")
	}
	if in.Amount.IsZero() {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(in.ConsultantID) == "" {
		missing = append(missing, "consultantId")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing...)
	}

	wei, err := chain.ToWei(in.Amount)
	if err != nil {
		return nil, badRequest(CodeInvalidAmount, "amount must be a positive value").with("amount", in.Amount.String())
	}

	c, err := loadConsultation(ctx, s.consultations, in.ConsultationID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(c, in.Caller); err != nil {
		return nil, err
	}
	consultant, err := loadConsultant(ctx, s.consultants, in.ConsultantID)
	if err != nil {
		return nil, err
	}
	if consultant.ID != c.ConsultantID {
		return nil, badRequest(CodeConsultantMismatch, "consultant does not match the consultation")
	}

	if c.PaymentStatus.Settled() {
		return nil, newError(http.StatusConflict, CodeAlreadyPaid, "consultation is already paid").
			with("payment_status", c.PaymentStatus)
	}
	if !c.PaymentStatus.CanTransition(models.PaymentPending) {
		return nil, newError(http.StatusConflict, CodeInvalidTransition, "payment cannot be started from the current state").
			with("payment_status", c.PaymentStatus)
	}

	scheduled := c.ScheduledFor
	if ts := strings.TrimSpace(in.ScheduledTime); ts != "" {
		scheduled, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, badRequest(CodeInvalidDate, "scheduledTime must be an RFC3339 timestamp").with("received", ts)
		}
	}
	now := s.now()
	if !scheduled.After(now) {
		return nil, badRequest(CodeScheduleInPast, "scheduled time must be in the future")
	}

	if s.chain != nil {
		if bal, err := s.chain.ContractBalance(ctx); err != nil {
			s.log.Warn("contract balance unavailable", zap.Error(err))
		} else {
			s.log.Info("contract balance", zap.String("wei", bal.String()))
		}
	}

	correlation := correlationID("escrow", now)
	contractCfg, err := chain.NewContractConfig(s.cfg.ContractAddress, s.cfg.ChainID, consultant.ID.String(), scheduled.Unix(), wei)
	if err != nil {
		return nil, badRequest(CodeInvalidAmount, err.Error())
	}

	oldStatus, oldPayment := c.Status, c.PaymentStatus
	c.PaymentMethod = strPtr(models.PaymentMethodCrypto)
	c.PaymentStatus = models.PaymentPending
	c.CryptoCurrency = strPtr(s.cfg.CryptoCurrency)
	c.CryptoAmount = strPtr(wei.String())
	c.Network = strPtr(s.cfg.ChainNetwork)
	c.ContractAddress = strPtr(s.cfg.ContractAddress)
	c.ContractSessionID = strPtr(correlation)
	c.CryptoTransactionHash = nil
	c.CryptoPaymentAddress = strPtr(consultant.WalletAddress)
	if err := c.CheckPaymentFields(); err != nil {
		return nil, newError(http.StatusConflict, CodeInvalidTransition, "consultation already has a card payment in progress")
	}
	if err := s.consultations.Update(ctx, c); err != nil {
		s.log.Error("failed to update consultation for escrow session",
			zap.String("consultation_id", c.ID.String()), zap.Error(err))
		return nil, databaseError(err)
	}

	res := &OpenSessionResult{
		Consultation:    c,
		CorrelationID:   correlation,
		ContractAddress: s.cfg.ContractAddress,
		Amount:          in.Amount,
		AmountWei:       wei.String(),
		Currency:        s.cfg.CryptoCurrency,
		Network:         s.cfg.ChainNetwork,
		ContractConfig:  contractCfg,
	}

	record := &models.PaymentRecord{
		ConsultationID:    &c.ID,
		PaymentMethod:     models.PaymentMethodCrypto,
		PaymentProvider:   models.ProviderPolygon,
		ProviderPaymentID: correlation,
		Amount:            c.TotalAmount,
		CryptoAmount:      strPtr(wei.String()),
		Currency:          c.Currency,
		CryptoCurrency:    strPtr(s.cfg.CryptoCurrency),
		FromAddress:       strPtr(in.CustomerAddress),
		ToAddress:         strPtr(consultant.WalletAddress),
		Network:           strPtr(s.cfg.ChainNetwork),
		Status:            models.PaymentPending,
		Metadata: map[string]any{
			"contract_session_id": correlation,
			"contract_address":    s.cfg.ContractAddress,
			"scheduled_time":      scheduled.UTC().Format(time.RFC3339),
			"session_duration":    in.SessionDuration,
			"consultant_id":       consultant.ID.String(),
			"customer_email":      in.CustomerEmail,
			"crypto_amount":       in.Amount.String(),
		},
	}
	if err := s.payments.Create(ctx, record); err != nil {
		s.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
		s.log.Error("payment record creation failed",
			zap.String("consultation_id", c.ID.String()),
			zap.String("correlation_id", correlation),
			zap.Error(err))
	} else {
		res.PaymentRecord = record
	}

	explorer := s.cfg.ChainExplorerURL + "/address/" + s.cfg.ContractAddress
	tx := &models.CryptoTransaction{
		ConsultationID:  &c.ID,
		TransactionHash: models.PlaceholderHash(correlation),
		FromAddress:     in.CustomerAddress,
		ToAddress:       s.cfg.ContractAddress,
		ContractAddress: s.cfg.ContractAddress,
		Value:           wei.String(),
		TokenSymbol:     s.cfg.CryptoCurrency,
		Network:         s.cfg.ChainNetwork,
		ChainID:         s.cfg.ChainID,
		BlockNumber:     0,
		Status:          models.CryptoTxPending,
		FunctionName:    chain.FuncCreateSession,
		FunctionArgs: map[string]any{
			"consultantId":  consultant.ID.String(),
			"scheduledTime": scheduled.Unix(),
			"amount":        wei.String(),
		},
		Calldata:    strPtr(contractCfg.Calldata),
		ExplorerURL: &explorer,
	}
	if err := s.cryptoTxs.Create(ctx, tx); err != nil {
		s.metrics.ReconciliationDebt(metrics.StageCryptoTx)
		s.log.Error("crypto transaction creation failed",
			zap.String("consultation_id", c.ID.String()),
			zap.String("correlation_id", correlation),
			zap.Error(err))
	} else {
		res.CryptoTransaction = tx
	}

	s.log.Info("escrow session prepared",
		zap.String("consultation_id", c.ID.String()),
		zap.String("correlation_id", correlation),
		zap.String("amount_wei", wei.String()),
	)
	s.effects.statusChanged(ctx, c, models.ActorClient, strPtr(in.CustomerAddress), oldStatus, oldPayment)
	s.effects.publish(ctx, events.NewConsultationEvent(events.EventPaymentSessionOpened, c.ID, c.ClientWalletAddress, map[string]any{
		"correlation_id": correlation,
		"amount_wei":     wei.String(),
	}))
	return res, nil
}

type UpdateTransactionInput struct {
	ConsultationID    string
	TransactionHash   string
	ContractSessionID string
	Status            string
	Caller            string
}

// clientStatuses are the payment states a wallet may report. Settlement and
// failure come from the chain receipt only.
var clientStatuses = []models.PaymentStatus{
	models.PaymentPending,
	models.PaymentProcessing,
	models.PaymentConfirming,
}

func clientReportable(status models.PaymentStatus) bool {
	for _, st := range clientStatuses {
		if st == status {
			return true
		}
	}
	return false
}

// TransactionSnapshot is the state of all three tables for one consultation
// after an update. Unchanged is set when the consultation was already
// settled and nothing was written.
type TransactionSnapshot struct {
	Consultation       *models.Consultation
	PaymentRecords     []models.PaymentRecord
	CryptoTransactions []models.CryptoTransaction
	Unchanged          bool
}

// UpdateTransaction records the wallet-reported hash on the consultation and
// its ledger rows. Repeating the call with the same input yields the same rows.
// The consultation status is left alone; the reconciler settles it from the
// receipt.
func (s *EscrowService) UpdateTransaction(ctx context.Context, in UpdateTransactionInput) (*TransactionSnapshot, error) {
	var missing []string
	if strings.TrimSpace(in.ConsultationID) == "" {
		missing = append(missing, "consultationId")
	}
	if strings.TrimSpace(in.TransactionHash) == "" {
		missing = append(missing, "transactionHash")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing...)
	}
	hash := strings.ToLower(strings.TrimSpace(in.TransactionHash))
	if !chain.IsTxHash(hash) {
		return nil, badRequest(CodeInvalidTxHash, "transactionHash must be 0x followed by 64 hex characters")
	}
	status := models.PaymentConfirming
	if in.Status != "" {
		status = models.PaymentStatus(in.Status)
	}
	if !clientReportable(status) {
		return nil, badRequest(CodeInvalidStatus, "status must be pending, processing or confirming").
			with("status", in.Status).
			with("allowed", clientStatuses)
	}

	c, err := loadConsultation(ctx, s.consultations, in.ConsultationID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(c, in.Caller); err != nil {
		return nil, err
	}

	if c.PaymentStatus.Settled() {
		snap := s.snapshot(ctx, c)
		snap.Unchanged = true
		return snap, nil
	}
	if status != c.PaymentStatus && !c.PaymentStatus.CanTransition(status) {
		return nil, newError(http.StatusConflict, CodeInvalidTransition, "payment status cannot move to the requested state").
			with("from", c.PaymentStatus).
			with("to", status)
	}
	if c.PaymentMethod != nil && *c.PaymentMethod != models.PaymentMethodCrypto {
		return nil, newError(http.StatusConflict, CodeInvalidTransition, "consultation is not paid with crypto")
	}

	oldStatus, oldPayment := c.Status, c.PaymentStatus
	c.PaymentMethod = strPtr(models.PaymentMethodCrypto)
	c.CryptoTransactionHash = &hash
	if in.ContractSessionID != "" {
		c.ContractSessionID = strPtr(in.ContractSessionID)
	}
	c.PaymentStatus = status
	if err := s.consultations.Update(ctx, c); err != nil {
		s.log.Error("failed to record transaction hash",
			zap.String("consultation_id", c.ID.String()), zap.Error(err))
		return nil, databaseError(err)
	}

	s.applyHashToRecords(ctx, c.ID, hash, status)
	s.applyHashToCryptoTxs(ctx, c.ID, hash)

	s.effects.statusChanged(ctx, c, models.ActorClient, &c.ClientWalletAddress, oldStatus, oldPayment)
	return s.snapshot(ctx, c), nil
}

// applyHashToRecords points the session's payment record at the real hash.
// The record already carrying the hash wins; otherwise the newest unsettled
// crypto record still keyed by its correlation id is used.
func (s *EscrowService) applyHashToRecords(ctx context.Context, consultationID uuid.UUID, hash string, status models.PaymentStatus) {
	records, err := s.payments.ListByConsultation(ctx, consultationID)
	if err != nil {
		s.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
		s.log.Error("payment record lookup failed", zap.String("consultation_id", consultationID.String()), zap.Error(err))
		return
	}
	target := pickRecordForHash(records, hash)
	if target == nil {
		s.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
		s.log.Warn("no payment record to attach transaction hash", zap.String("consultation_id", consultationID.String()))
		return
	}
	if target.Status != status && !target.Status.CanTransition(status) {
		s.log.Warn("payment record status not advanced",
			zap.String("payment_record_id", target.ID.String()),
			zap.String("from", string(target.Status)),
			zap.String("to", string(status)))
		status = target.Status
	}
	target.TransactionHash = &hash
	target.ProviderPaymentID = hash
	target.Status = status
	if err := s.payments.Update(ctx, target); err != nil {
		s.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
		s.log.Error("payment record update failed", zap.String("payment_record_id", target.ID.String()), zap.Error(err))
	}
}

func pickRecordForHash(records []models.PaymentRecord, hash string) *models.PaymentRecord {
	var latest *models.PaymentRecord
	for i := range records {
		r := &records[i]
		if r.PaymentMethod != models.PaymentMethodCrypto {
			continue
		}
		if r.ProviderPaymentID == hash {
			return r
		}
		if r.Status.Settled() || chain.IsTxHash(r.ProviderPaymentID) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

func (s *EscrowService) applyHashToCryptoTxs(ctx context.Context, consultationID uuid.UUID, hash string) {
	txs, err := s.cryptoTxs.ListByConsultation(ctx, consultationID)
	if err != nil {
		s.metrics.ReconciliationDebt(metrics.StageCryptoTx)
		s.log.Error("crypto transaction lookup failed", zap.String("consultation_id", consultationID.String()), zap.Error(err))
		return
	}
	target := pickCryptoTxForHash(txs, hash)
	if target == nil {
		s.metrics.ReconciliationDebt(metrics.StageCryptoTx)
		s.log.Warn("no pending crypto transaction to attach hash", zap.String("consultation_id", consultationID.String()))
		return
	}
	if target.TransactionHash == hash {
		return
	}
	target.TransactionHash = hash
	if err := s.cryptoTxs.Update(ctx, target); err != nil {
		s.metrics.ReconciliationDebt(metrics.StageCryptoTx)
		s.log.Error("crypto transaction update failed", zap.String("crypto_tx_id", target.ID.String()), zap.Error(err))
	}
}

func pickCryptoTxForHash(txs []models.CryptoTransaction, hash string) *models.CryptoTransaction {
	var latest *models.CryptoTransaction
	for i := range txs {
		t := &txs[i]
		if t.TransactionHash == hash {
			return t
		}
		if t.Status != models.CryptoTxPending || !models.IsPlaceholderHash(t.TransactionHash) {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	return latest
}

func (s *EscrowService) snapshot(ctx context.Context, c *models.Consultation) *TransactionSnapshot {
	snap := &TransactionSnapshot{Consultation: c}
	records, err := s.payments.ListByConsultation(ctx, c.ID)
	if err != nil {
		s.log.Warn("payment records snapshot failed", zap.String("consultation_id", c.ID.String()), zap.Error(err))
	}
	txs, err := s.cryptoTxs.ListByConsultation(ctx, c.ID)
	if err != nil {
		s.log.Warn("crypto transactions snapshot failed", zap.String("consultation_id", c.ID.String()), zap.Error(err))
	}
	if records == nil {
		records = []models.PaymentRecord{}
	}
	if txs == nil {
		txs = []models.CryptoTransaction{}
	}
	snap.PaymentRecords = records
	snap.CryptoTransactions = txs
	return snap
}
