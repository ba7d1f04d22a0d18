package services

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const txHash = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd"

func TestOpenSessionWritesLedgerRows(t *testing.T) {
	f := newFixture(t)
	c := f.book("1.5")

	res := f.openSession(c)

	require.True(t, strings.HasPrefix(res.CorrelationID, "escrow_"))
	require.Equal(t, "150000000000000000", res.AmountWei)
	require.Equal(t, chain.FuncCreateSession, res.ContractConfig.FunctionName)
	require.Equal(t, f.cfg.ContractAddress, res.ContractConfig.Address)

	stored := f.consultation(c.ID)
	require.Equal(t, models.PaymentPending, stored.PaymentStatus)
	require.Equal(t, models.PaymentMethodCrypto, *stored.PaymentMethod)
	require.Equal(t, res.CorrelationID, *stored.ContractSessionID)
	require.Equal(t, "150000000000000000", *stored.CryptoAmount)
	require.Nil(t, stored.CryptoTransactionHash)

	require.NotNil(t, res.PaymentRecord)
	require.Len(t, f.db.recordsFor(res.CorrelationID), 1)
	require.NotNil(t, res.CryptoTransaction)
	require.Equal(t, models.PlaceholderHash(res.CorrelationID), res.CryptoTransaction.TransactionHash)
	require.Equal(t, "https://amoy.polygonscan.com/address/"+f.cfg.ContractAddress, *res.CryptoTransaction.ExplorerURL)
	require.Equal(t, 1, f.pub.count(events.EventPaymentSessionOpened))
}

func TestOpenSessionLedgerFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t)
	c := f.book("1")
	f.db.failRecordCreate = true
	f.db.failCryptoCreate = true
	f.db.failAudit = true

	res := f.openSession(c)

	require.Nil(t, res.PaymentRecord)
	require.Nil(t, res.CryptoTransaction)
	require.Equal(t, models.PaymentPending, f.consultation(c.ID).PaymentStatus)
	require.Equal(t, 3, f.debtStages())
}

func TestOpenSessionConsultationUpdateIsFatal(t *testing.T) {
	f := newFixture(t)
	c := f.book("1")
	f.db.failConsultationUpdate = true

	_, err := f.escrow.OpenSession(context.Background(), OpenSessionInput{
		ConsultationID:  c.ID.String(),
		ConsultantID:    f.consultant.ID.String(),
		Amount:          decimal.RequireFromString("0.1"),
		CustomerAddress: clientWallet,
	})
	se := AsError(err)
	require.Equal(t, CodeDatabaseError, se.Code)
	require.Equal(t, http.StatusInternalServerError, se.Status)
	require.Empty(t, f.db.records)
	require.Empty(t, f.db.cryptoTxs)
}

func TestOpenSessionRejections(t *testing.T) {
	f := newFixture(t)
	c := f.book("1")
	base := OpenSessionInput{
		ConsultationID:  c.ID.String(),
		ConsultantID:    f.consultant.ID.String(),
		Amount:          decimal.RequireFromString("0.1"),
		CustomerAddress: clientWallet,
	}

	in := base
	in.CustomerAddress = ""
	_, err := f.escrow.OpenSession(context.Background(), in)
	require.Equal(t, CodeMissingFields, AsError(err).Code)
	require.Equal(t, []string{"customerAddress"}, AsError(err).Details["missing_fields"])

	in = base
	in.Amount = decimal.NewFromInt(-1)
	_, err = f.escrow.OpenSession(context.Background(), in)
	require.Equal(t, CodeInvalidAmount, AsError(err).Code)

	in = base
	in.ScheduledTime = f.now.Add(-1).Format("2006-01-02T15:04:05Z07:00")
	_, err = f.escrow.OpenSession(context.Background(), in)
	require.Equal(t, CodeScheduleInPast, AsError(err).Code)

	other := f.consultant
	other.ID = uuid.New()
	f.db.consultants[other.ID] = other
	in = base
	in.ConsultantID = other.ID.String()
	_, err = f.escrow.OpenSession(context.Background(), in)
	require.Equal(t, CodeConsultantMismatch, AsError(err).Code)

	stored := f.consultation(c.ID)
	stored.PaymentStatus = models.PaymentSucceeded
	f.db.consultations[c.ID] = stored
	_, err = f.escrow.OpenSession(context.Background(), base)
	se := AsError(err)
	require.Equal(t, CodeAlreadyPaid, se.Code)
	require.Equal(t, http.StatusConflict, se.Status)
	require.Empty(t, f.db.records)
}

func TestUpdateTransactionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.book("1")
	res := f.openSession(c)
	in := UpdateTransactionInput{ConsultationID: c.ID.String(), TransactionHash: strings.ToUpper(txHash[2:])}
	in.TransactionHash = "0x" + in.TransactionHash

	first, err := f.escrow.UpdateTransaction(context.Background(), in)
	require.NoError(t, err)
	require.False(t, first.Unchanged)
	require.Equal(t, models.PaymentConfirming, first.Consultation.PaymentStatus)
	require.Equal(t, txHash, *first.Consultation.CryptoTransactionHash)
	require.Len(t, first.PaymentRecords, 1)
	require.Equal(t, txHash, first.PaymentRecords[0].ProviderPaymentID)
	require.Equal(t, models.PaymentConfirming, first.PaymentRecords[0].Status)
	require.Len(t, first.CryptoTransactions, 1)
	require.Equal(t, txHash, first.CryptoTransactions[0].TransactionHash)
	require.Empty(t, f.db.recordsFor(res.CorrelationID))

	second, err := f.escrow.UpdateTransaction(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, second.PaymentRecords, 1)
	require.Len(t, second.CryptoTransactions, 1)
	require.Equal(t, first.PaymentRecords[0].ID, second.PaymentRecords[0].ID)
	require.Equal(t, first.CryptoTransactions[0].ID, second.CryptoTransactions[0].ID)
	require.Equal(t, txHash, second.PaymentRecords[0].ProviderPaymentID)
	require.Equal(t, models.PaymentConfirming, second.Consultation.PaymentStatus)
}

func TestUpdateTransactionRejectsSettlementStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status models.PaymentStatus
	}{
		{"succeeded", models.PaymentSucceeded},
		{"failed", models.PaymentFailed},
		{"refunded", models.PaymentRefunded},
		{"cancelled", models.PaymentCancelled},
		{"unpaid", models.PaymentUnpaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.book("1")
			f.openSession(c)

			_, err := f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{
				ConsultationID:    c.ID.String(),
				TransactionHash:   txHash,
				ContractSessionID: "7",
				Status:            string(tt.status),
			})
			se := AsError(err)
			require.Equal(t, CodeInvalidStatus, se.Code)
			require.Equal(t, http.StatusBadRequest, se.Status)
			require.Equal(t, clientStatuses, se.Details["allowed"])

			stored := f.consultation(c.ID)
			require.Equal(t, models.PaymentPending, stored.PaymentStatus)
			require.Equal(t, models.ConsultationPending, stored.Status)
			require.Nil(t, stored.CryptoTransactionHash)
			require.Zero(t, f.pub.count(events.EventPaymentConfirmed))
			require.Zero(t, f.pub.count(events.EventPaymentFailed))
		})
	}
}

func TestUpdateTransactionLeavesConsultationStatus(t *testing.T) {
	f := newFixture(t)
	c := f.book("1")
	f.openSession(c)

	for _, st := range []models.PaymentStatus{models.PaymentProcessing, models.PaymentConfirming} {
		snap, err := f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{
			ConsultationID:  c.ID.String(),
			TransactionHash: txHash,
			Status:          string(st),
		})
		require.NoError(t, err)
		require.Equal(t, st, snap.Consultation.PaymentStatus)
		require.Equal(t, models.ConsultationPending, snap.Consultation.Status)
	}
	require.Zero(t, f.pub.count(events.EventPaymentConfirmed))

	// a settled consultation is reported back untouched
	stored := f.consultation(c.ID)
	stored.PaymentStatus = models.PaymentSucceeded
	f.db.consultations[c.ID] = stored
	again, err := f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{
		ConsultationID:  c.ID.String(),
		TransactionHash: txHash,
	})
	require.NoError(t, err)
	require.True(t, again.Unchanged)
}

func TestUpdateTransactionRejections(t *testing.T) {
	f := newFixture(t)
	c := f.book("1")
	f.openSession(c)

	_, err := f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{ConsultationID: c.ID.String(), TransactionHash: "0x1234"})
	require.Equal(t, CodeInvalidTxHash, AsError(err).Code)

	_, err = f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{ConsultationID: c.ID.String()})
	require.Equal(t, CodeMissingFields, AsError(err).Code)

	_, err = f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{ConsultationID: c.ID.String(), TransactionHash: txHash, Status: "paid"})
	require.Equal(t, CodeInvalidStatus, AsError(err).Code)

	_, err = f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{ConsultationID: c.ID.String(), TransactionHash: txHash, Caller: consultantWallet})
	require.Equal(t, CodeForbidden, AsError(err).Code)
	require.Equal(t, http.StatusForbidden, AsError(err).Status)

	require.Equal(t, models.PaymentPending, f.consultation(c.ID).PaymentStatus)

	_, err = f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{ConsultationID: c.ID.String(), TransactionHash: txHash, Caller: strings.ToUpper(clientWallet[2:])})
	require.Equal(t, CodeForbidden, AsError(err).Code, "caller must carry the 0x prefix")

	_, err = f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{ConsultationID: c.ID.String(), TransactionHash: txHash, Caller: clientWallet})
	require.NoError(t, err)

	_, err = f.escrow.UpdateTransaction(context.Background(), UpdateTransactionInput{ConsultationID: c.ID.String(), TransactionHash: txHash, Status: "pending"})
	require.Equal(t, CodeInvalidTransition, AsError(err).Code)
}

func TestOpenSessionRejectsOtherWallet(t *testing.T) {
	f := newFixture(t)
	c := f.book("1")

	_, err := f.escrow.OpenSession(context.Background(), OpenSessionInput{
		ConsultationID:  c.ID.String(),
		ConsultantID:    f.consultant.ID.String(),
		Amount:          decimal.RequireFromString("0.1"),
		CustomerAddress: consultantWallet,
		Caller:          consultantWallet,
	})
	require.Equal(t, CodeForbidden, AsError(err).Code)
	require.Equal(t, models.PaymentUnpaid, f.consultation(c.ID).PaymentStatus)
}

func TestPickRecordForHashPrefersNewestUnsettled(t *testing.T) {
	older := models.PaymentRecord{PaymentMethod: models.PaymentMethodCrypto, ProviderPaymentID: "escrow_1", Status: models.PaymentPending}
	newer := older
	newer.ProviderPaymentID = "escrow_2"
	newer.CreatedAt = older.CreatedAt.Add(1)
	card := models.PaymentRecord{PaymentMethod: models.PaymentMethodStripe, ProviderPaymentID: "pi_1", Status: models.PaymentPending}

	got := pickRecordForHash([]models.PaymentRecord{older, newer, card}, txHash)
	require.Equal(t, "escrow_2", got.ProviderPaymentID)

	keyed := older
	keyed.ProviderPaymentID = txHash
	got = pickRecordForHash([]models.PaymentRecord{newer, keyed}, txHash)
	require.Equal(t, txHash, got.ProviderPaymentID)

	require.Nil(t, pickRecordForHash([]models.PaymentRecord{card}, txHash))
}
