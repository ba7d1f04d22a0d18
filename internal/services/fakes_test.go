package services

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/models"
	"github.com/askgene/backend/internal/repositories"
	"github.com/google/uuid"
)

var errBoom = errors.New("boom")

// memDB holds every table the services touch. Rows are stored by value so
// callers never alias stored state.
type memDB struct {
	mu            sync.Mutex
	clock         func() time.Time
	consultants   map[uuid.UUID]models.Consultant
	consultations map[uuid.UUID]models.Consultation
	records       map[uuid.UUID]models.PaymentRecord
	cryptoTxs     map[uuid.UUID]models.CryptoTransaction
	audit         []models.AuditLog

	failConsultationUpdate bool
	failRecordCreate       bool
	failCryptoCreate       bool
	failAudit              bool
}

func newMemDB(clock func() time.Time) *memDB {
	return &memDB{
		clock:         clock,
		consultants:   map[uuid.UUID]models.Consultant{},
		consultations: map[uuid.UUID]models.Consultation{},
		records:       map[uuid.UUID]models.PaymentRecord{},
		cryptoTxs:     map[uuid.UUID]models.CryptoTransaction{},
	}
}

func (m *memDB) tick() time.Time {
	// offset by row count so later inserts sort after earlier ones
	return m.clock().Add(time.Duration(len(m.records)+len(m.cryptoTxs)+len(m.consultations)) * time.Millisecond)
}

type consultantStore struct{ *memDB }

func (s consultantStore) GetByID(_ context.Context, id uuid.UUID) (*models.Consultant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultants[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

type consultationStore struct{ *memDB }

func (s consultationStore) Create(_ context.Context, c *models.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = s.tick()
	c.UpdatedAt = c.CreatedAt
	s.consultations[c.ID] = *c
	return nil
}

func (s consultationStore) GetByID(_ context.Context, id uuid.UUID) (*models.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (s consultationStore) GetByPaymentIntentID(_ context.Context, intentID string) (*models.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.consultations {
		if c.StripePaymentIntentID != nil && *c.StripePaymentIntentID == intentID {
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s consultationStore) Update(_ context.Context, c *models.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failConsultationUpdate {
		return errBoom
	}
	if _, ok := s.consultations[c.ID]; !ok {
		return repositories.ErrNotFound
	}
	c.UpdatedAt = s.tick()
	s.consultations[c.ID] = *c
	return nil
}

func (s consultationStore) List(_ context.Context, f repositories.ConsultationFilter) ([]models.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Consultation
	for _, c := range s.consultations {
		if c.ClientWalletAddress != f.ClientWalletAddress {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.After(out[j].ScheduledFor) })
	return out, nil
}

func (s consultationStore) Stats(_ context.Context, wallet string) (*models.ConsultationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &models.ConsultationStats{}
	for _, c := range s.consultations {
		if c.ClientWalletAddress != wallet {
			continue
		}
		st.Total++
		if c.PaymentStatus == models.PaymentSucceeded {
			st.TotalPaid = st.TotalPaid.Add(c.TotalAmount)
		}
	}
	return st, nil
}

func (s consultationStore) ListStalePending(_ context.Context, before time.Time, _ int) ([]models.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Consultation
	for _, c := range s.consultations {
		if c.PaymentStatus == models.PaymentPending && c.PaymentMethod != nil && *c.PaymentMethod == models.PaymentMethodCrypto &&
			c.CryptoTransactionHash == nil && c.UpdatedAt.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

type recordStore struct{ *memDB }

func (s recordStore) Create(_ context.Context, p *models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecordCreate {
		return errBoom
	}
	for _, r := range s.records {
		if r.ProviderPaymentID == p.ProviderPaymentID {
			return errors.New("duplicate provider_payment_id")
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt
	s.records[p.ID] = *p
	return nil
}

func (s recordStore) Upsert(_ context.Context, p *models.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.ProviderPaymentID != p.ProviderPaymentID {
			continue
		}
		if p.ConsultationID == nil {
			p.ConsultationID = r.ConsultationID
		}
		r.ConsultationID = p.ConsultationID
		r.Amount, r.Currency, r.Status, r.Metadata = p.Amount, p.Currency, p.Status, p.Metadata
		r.UpdatedAt = s.tick()
		s.records[id] = r
		*p = r
		return false, nil
	}
	p.ID = uuid.New()
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt
	s.records[p.ID] = *p
	return true, nil
}

func (s recordStore) GetByProviderPaymentID(_ context.Context, id string) (*models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ProviderPaymentID == id {
			return &r, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s recordStore) ListByConsultation(_ context.Context, id uuid.UUID) ([]models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentRecord
	for _, r := range s.records {
		if r.ConsultationID != nil && *r.ConsultationID == id {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s recordStore) Update(_ context.Context, p *models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[p.ID]; !ok {
		return repositories.ErrNotFound
	}
	s.records[p.ID] = *p
	return nil
}

func (m *memDB) recordsFor(provider string) []models.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentRecord
	for _, r := range m.records {
		if r.ProviderPaymentID == provider {
			out = append(out, r)
		}
	}
	return out
}

type cryptoStore struct{ *memDB }

func (s cryptoStore) Create(_ context.Context, t *models.CryptoTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCryptoCreate {
		return errBoom
	}
	t.ID = uuid.New()
	t.CreatedAt = s.tick()
	t.UpdatedAt = t.CreatedAt
	s.cryptoTxs[t.ID] = *t
	return nil
}

func (s cryptoStore) ListByConsultation(_ context.Context, id uuid.UUID) ([]models.CryptoTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CryptoTransaction
	for _, t := range s.cryptoTxs {
		if t.ConsultationID != nil && *t.ConsultationID == id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s cryptoStore) ListAwaitingReceipt(_ context.Context, _ int) ([]models.CryptoTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CryptoTransaction
	for _, t := range s.cryptoTxs {
		if t.Status == models.CryptoTxPending && chain.IsTxHash(t.TransactionHash) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s cryptoStore) Update(_ context.Context, t *models.CryptoTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cryptoTxs[t.ID]; !ok {
		return repositories.ErrNotFound
	}
	s.cryptoTxs[t.ID] = *t
	return nil
}

type auditStore struct{ *memDB }

func (s auditStore) Log(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAudit {
		return errBoom
	}
	s.audit = append(s.audit, entry)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// last returns the newest event of the given type.
func (p *recordingPublisher) last(eventType string) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i], true
		}
	}
	return events.Event{}, false
}

type fakeBackend struct {
	balance  *big.Int
	receipts map[string]*chain.Receipt
	err      error
}

func (b *fakeBackend) ContractBalance(context.Context) (*big.Int, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.balance, nil
}

func (b *fakeBackend) Receipt(_ context.Context, hash string) (*chain.Receipt, error) {
	if b.err != nil {
		return nil, b.err
	}
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return &chain.Receipt{Found: false}, nil
}

type memClaims struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (c *memClaims) Claim(_ context.Context, provider, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	key := provider + ":" + id
	if c.seen[key] {
		return false, nil
	}
	c.seen[key] = true
	return true, nil
}

func (c *memClaims) Release(_ context.Context, provider, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, provider+":"+id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		ChainID:            80002,
		ChainNetwork:       "polygon-amoy",
		ChainExplorerURL:   "https://amoy.polygonscan.com",
		ChainConfirmations: 2,
		ContractAddress:    "0x4dF00c67bB55295347f4e3BA9634ffF8270E9EDe",
		CryptoCurrency:     "MATIC",
		StalePendingAfter:  24 * time.Hour,
		ReceiptInterval:    time.Second,
		SweepInterval:      time.Second,
	}
}
