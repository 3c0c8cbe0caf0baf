package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"medbook/internal/notifications"
	paymentserrors "medbook/internal/payments/errors"
	"medbook/internal/payments/repository"
	"medbook/pkg/client"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/logger"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
)

// In-memory transaction store. Guarded updates interpret only the fields
// the services actually set.
type memTransactionRepository struct {
	seq int
	txs map[string]*model.Transaction
}

func newMemTransactionRepository() *memTransactionRepository {
	return &memTransactionRepository{txs: map[string]*model.Transaction{}}
}

func (m *memTransactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	m.seq++
	tx.ID = fmt.Sprintf("65f00000000000000000%04d", m.seq)
	tx.CreatedAt = time.Now().UTC()
	cp := *tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *memTransactionRepository) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	tx, ok := m.txs[id]
	if !ok {
		return nil, paymentserrors.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memTransactionRepository) FindAll(ctx context.Context, filter repository.TransactionFilter, limit int, offset int64) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for _, tx := range m.txs {
		cp := *tx
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memTransactionRepository) Count(ctx context.Context, filter repository.TransactionFilter) (int64, error) {
	return int64(len(m.txs)), nil
}

func (m *memTransactionRepository) FindCompletedInWindow(ctx context.Context, start, end time.Time) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for _, tx := range m.txs {
		if (tx.Status == model.TxCompleted || tx.Status == model.TxRefunded) &&
			!tx.CreatedAt.Before(start) && tx.CreatedAt.Before(end) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTransactionRepository) UpdateWithStatusPrecondition(ctx context.Context, id, fromStatus string, set bson.M) (*model.Transaction, error) {
	tx, ok := m.txs[id]
	if !ok || tx.Status != fromStatus {
		return nil, paymentserrors.ErrStaleTransaction
	}
	for key, value := range set {
		switch key {
		case "status":
			tx.Status = value.(string)
		case "service_charge":
			tx.ServiceCharge = value.(float64)
		case "hospital_amount":
			tx.HospitalAmount = value.(float64)
		case "gateway_reference":
			tx.GatewayReference = value.(string)
		case "completed_at":
			t := value.(time.Time)
			tx.CompletedAt = &t
		case "failure_reason":
			tx.FailureReason = value.(string)
		case "refund_amount":
			tx.RefundAmount = value.(float64)
		case "refund_reason":
			tx.RefundReason = value.(string)
		case "refunded_at":
			t := value.(time.Time)
			tx.RefundedAt = &t
		}
	}
	cp := *tx
	return &cp, nil
}

func (m *memTransactionRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

// In-memory balance store with real version CAS semantics. failNext
// simulates one store failure for a chosen balance ID.
type memBalanceRepository struct {
	seq      int
	balances map[string]*model.UserBalance
	byOwner  map[string]string

	failNextIncrementFor string
}

func newMemBalanceRepository() *memBalanceRepository {
	return &memBalanceRepository{
		balances: map[string]*model.UserBalance{},
		byOwner:  map[string]string{},
	}
}

func (m *memBalanceRepository) FindByID(ctx context.Context, id string) (*model.UserBalance, error) {
	bal, ok := m.balances[id]
	if !ok {
		return nil, paymentserrors.ErrBalanceNotFound
	}
	cp := *bal
	return &cp, nil
}

func (m *memBalanceRepository) FindByUserAndHospital(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error) {
	id, ok := m.byOwner[userID+"/"+hospitalID]
	if !ok {
		return nil, paymentserrors.ErrBalanceNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *memBalanceRepository) FindOrCreate(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error) {
	if existing, err := m.FindByUserAndHospital(ctx, userID, hospitalID); err == nil {
		return existing, nil
	}
	m.seq++
	id := fmt.Sprintf("bal-%04d", m.seq)
	bal := &model.UserBalance{
		ID:         id,
		UserID:     userID,
		HospitalID: hospitalID,
		Version:    1,
		CreatedAt:  time.Now().UTC(),
	}
	m.balances[id] = bal
	m.byOwner[userID+"/"+hospitalID] = id
	cp := *bal
	return &cp, nil
}

func (m *memBalanceRepository) FindAll(ctx context.Context) ([]*model.UserBalance, error) {
	var out []*model.UserBalance
	for _, bal := range m.balances {
		cp := *bal
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memBalanceRepository) IncrementWithVersion(ctx context.Context, id string, expectedVersion int64, amount, earningsDelta, withdrawalsDelta float64) (*model.UserBalance, error) {
	if m.failNextIncrementFor == id {
		m.failNextIncrementFor = ""
		return nil, fmt.Errorf("write concern failure")
	}
	bal, ok := m.balances[id]
	if !ok || bal.Version != expectedVersion {
		return nil, paymentserrors.ErrStaleBalance
	}
	bal.CurrentBalance += amount
	bal.TotalEarnings += earningsDelta
	bal.TotalWithdrawals += withdrawalsDelta
	bal.Version++
	cp := *bal
	return &cp, nil
}

func (m *memBalanceRepository) SetBalanceWithVersion(ctx context.Context, id string, expectedVersion int64, newBalance float64) (*model.UserBalance, error) {
	bal, ok := m.balances[id]
	if !ok || bal.Version != expectedVersion {
		return nil, paymentserrors.ErrStaleBalance
	}
	bal.CurrentBalance = newBalance
	bal.Version++
	cp := *bal
	return &cp, nil
}

// In-memory ledger enforcing the per-side unique key.
type memLedgerRepository struct {
	seq     int
	entries []*model.BalanceTransaction
}

func (m *memLedgerRepository) Insert(ctx context.Context, entry *model.BalanceTransaction) error {
	for _, existing := range m.entries {
		if existing.ReferenceTransactionID == entry.ReferenceTransactionID &&
			existing.TransactionType == entry.TransactionType &&
			existing.BalanceID == entry.BalanceID {
			return paymentserrors.ErrDuplicateLedgerEntry
		}
	}
	m.seq++
	entry.ID = fmt.Sprintf("led-%04d", m.seq)
	entry.CreatedAt = time.Now().UTC()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memLedgerRepository) ExistsForReference(ctx context.Context, referenceTransactionID, transactionType, balanceID string) (bool, error) {
	for _, entry := range m.entries {
		if entry.ReferenceTransactionID == referenceTransactionID &&
			entry.TransactionType == transactionType &&
			entry.BalanceID == balanceID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedgerRepository) FindByBalance(ctx context.Context, balanceID string, limit int, offset int64) ([]*model.BalanceTransaction, error) {
	return m.byBalance(balanceID), nil
}

func (m *memLedgerRepository) CountByBalance(ctx context.Context, balanceID string) (int64, error) {
	return int64(len(m.byBalance(balanceID))), nil
}

func (m *memLedgerRepository) FindByBalanceInWindow(ctx context.Context, balanceID string, start, end time.Time) ([]*model.BalanceTransaction, error) {
	var out []*model.BalanceTransaction
	for _, entry := range m.byBalance(balanceID) {
		if !entry.CreatedAt.Before(start) && entry.CreatedAt.Before(end) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memLedgerRepository) FindLatestBefore(ctx context.Context, balanceID string, before time.Time) (*model.BalanceTransaction, error) {
	var latest *model.BalanceTransaction
	for _, entry := range m.byBalance(balanceID) {
		if entry.CreatedAt.After(before) {
			continue
		}
		if latest == nil || entry.CreatedAt.After(latest.CreatedAt) {
			latest = entry
		}
	}
	return latest, nil
}

func (m *memLedgerRepository) byBalance(balanceID string) []*model.BalanceTransaction {
	var out []*model.BalanceTransaction
	for _, entry := range m.entries {
		if entry.BalanceID == balanceID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out
}

type stubDirectory struct {
	rate        float64
	authorities []*model.User
}

func (d *stubDirectory) GetHospital(ctx context.Context, id string) (*model.Hospital, error) {
	return &model.Hospital{ID: id, Name: "General", ServiceChargeRate: &d.rate, Active: true}, nil
}

func (d *stubDirectory) GetUser(ctx context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Role: model.RolePatient}, nil
}

func (d *stubDirectory) GetHospitalAuthorities(ctx context.Context, hospitalID string) ([]*model.User, error) {
	return d.authorities, nil
}

func (d *stubDirectory) ServiceChargeRate(ctx context.Context, hospitalID string) (float64, error) {
	return d.rate, nil
}

type stubBookingStore struct {
	booking       *model.Booking
	paymentStatus string
	paymentAmount float64
}

func (s *stubBookingStore) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	if s.booking == nil || s.booking.ID != id {
		return nil, fmt.Errorf("booking not found")
	}
	cp := *s.booking
	return &cp, nil
}

func (s *stubBookingStore) SetPaymentStatus(ctx context.Context, id, paymentStatus string, amount float64) error {
	s.paymentStatus = paymentStatus
	s.paymentAmount = amount
	return nil
}

type paymentFixture struct {
	txRepo      *memTransactionRepository
	balanceRepo *memBalanceRepository
	ledgerRepo  *memLedgerRepository
	directory   *stubDirectory
	bookings    *stubBookingStore
	distributor RevenueDistributor
	service     PaymentService
}

func paymentTestConfig() *config.Config {
	return &config.Config{
		Log: logger.New(logger.Config{
			Level:   "error",
			Format:  logger.JSON,
			Service: "test",
		}),
		AllocationAttempts: 3,
		ServiceChargeRate:  0.05,
	}
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	cfg := paymentTestConfig()
	f := &paymentFixture{
		txRepo:      newMemTransactionRepository(),
		balanceRepo: newMemBalanceRepository(),
		ledgerRepo:  &memLedgerRepository{},
		directory: &stubDirectory{
			rate: 0.05,
			authorities: []*model.User{
				{ID: "authority-1", Role: model.RoleHospitalAuthority, HospitalID: "hosp-1"},
			},
		},
		bookings: &stubBookingStore{
			booking: &model.Booking{
				ID:            "65f0000000000000000000b1",
				HospitalID:    "hosp-1",
				UserID:        "user-1",
				Status:        model.StatusApproved,
				PaymentAmount: 1000,
			},
		},
	}
	f.distributor = NewRevenueDistributor(f.txRepo, f.balanceRepo, f.ledgerRepo, f.directory, notifications.NoopPublisher{}, cfg)
	f.service = NewPaymentService(f.txRepo, f.bookings, f.directory, f.distributor, client.NewGatewayClient(client.SimulatedGateway), notifications.NoopPublisher{}, cfg)
	return f
}

func (f *paymentFixture) hospitalBalance(t *testing.T) *model.UserBalance {
	t.Helper()
	bal, err := f.balanceRepo.FindByUserAndHospital(context.Background(), "authority-1", "hosp-1")
	if err != nil {
		t.Fatalf("hospital balance missing: %v", err)
	}
	return bal
}

func (f *paymentFixture) platformBalance(t *testing.T) *model.UserBalance {
	t.Helper()
	bal, err := f.balanceRepo.FindByUserAndHospital(context.Background(), model.PlatformAccountID, "")
	if err != nil {
		t.Fatalf("platform balance missing: %v", err)
	}
	return bal
}

func TestCharge_SuccessSplitsAndDistributes(t *testing.T) {
	f := newPaymentFixture(t)

	tx, err := f.service.Charge(context.Background(), "65f0000000000000000000b1", model.MethodCard, "4242", 0)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if tx.Status != model.TxCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if tx.ServiceCharge != 50 || tx.HospitalAmount != 950 {
		t.Errorf("expected 950/50 split of 1000 at 5%%, got %v/%v", tx.HospitalAmount, tx.ServiceCharge)
	}
	if tx.GatewayReference == "" {
		t.Error("expected a gateway reference on the completed transaction")
	}

	if got := f.hospitalBalance(t).CurrentBalance; got != 950 {
		t.Errorf("expected hospital balance 950, got %v", got)
	}
	if got := f.platformBalance(t).CurrentBalance; got != 50 {
		t.Errorf("expected platform balance 50, got %v", got)
	}
	if len(f.ledgerRepo.entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(f.ledgerRepo.entries))
	}
	for _, entry := range f.ledgerRepo.entries {
		if entry.BalanceAfter != entry.BalanceBefore+entry.Amount {
			t.Errorf("ledger invariant broken: %v != %v + %v", entry.BalanceAfter, entry.BalanceBefore, entry.Amount)
		}
	}
	if f.bookings.paymentStatus != model.PaymentPaid {
		t.Errorf("expected booking flagged paid, got %q", f.bookings.paymentStatus)
	}
}

func TestCharge_GatewayDeclineDoesNotTouchBalances(t *testing.T) {
	f := newPaymentFixture(t)

	tx, err := f.service.Charge(context.Background(), "65f0000000000000000000b1", model.MethodCard, "card-0000", 0)
	if err != nil {
		t.Fatalf("a declined charge is not a service error, got %v", err)
	}

	if tx.Status != model.TxFailed {
		t.Fatalf("expected failed, got %s", tx.Status)
	}
	if tx.FailureReason == "" {
		t.Error("expected a recorded failure reason")
	}
	if len(f.ledgerRepo.entries) != 0 {
		t.Errorf("balances must be untouched on decline, got %d ledger entries", len(f.ledgerRepo.entries))
	}
	if len(f.balanceRepo.balances) != 0 {
		t.Errorf("no balance accounts should exist, got %d", len(f.balanceRepo.balances))
	}
}

func TestRefund_ProportionalReversal(t *testing.T) {
	f := newPaymentFixture(t)

	tx, err := f.service.Charge(context.Background(), "65f0000000000000000000b1", model.MethodCard, "4242", 0)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}

	refunded, err := f.service.Refund(context.Background(), tx.ID, 200, "partial stay")
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	if refunded.Status != model.TxRefunded {
		t.Fatalf("expected refunded, got %s", refunded.Status)
	}
	if refunded.RefundAmount != 200 {
		t.Errorf("expected refund amount 200, got %v", refunded.RefundAmount)
	}

	// 200 of 1000 at the original 950/50 ratio: 190 hospital, 10 platform.
	if got := f.hospitalBalance(t).CurrentBalance; got != 760 {
		t.Errorf("expected hospital balance 760, got %v", got)
	}
	if got := f.platformBalance(t).CurrentBalance; got != 40 {
		t.Errorf("expected platform balance 40, got %v", got)
	}
}

func TestRefund_RequiresCompletedStatus(t *testing.T) {
	f := newPaymentFixture(t)

	tx, err := f.service.RecordPaymentAttempt(context.Background(), "65f0000000000000000000b1", model.MethodCard, 0)
	if err != nil {
		t.Fatalf("record attempt failed: %v", err)
	}

	_, err = f.service.Refund(context.Background(), tx.ID, 0, "nope")
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT for pending refund, got %v", err)
	}
}

func TestDistribute_SecondRunAlreadyDistributed(t *testing.T) {
	f := newPaymentFixture(t)

	tx, err := f.service.Charge(context.Background(), "65f0000000000000000000b1", model.MethodCard, "4242", 0)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}

	_, err = f.distributor.Distribute(context.Background(), tx.ID)
	if !apperrors.HasCode(err, apperrors.CodeAlreadyDistributed) {
		t.Fatalf("expected ALREADY_DISTRIBUTED, got %v", err)
	}

	if got := f.hospitalBalance(t).CurrentBalance; got != 950 {
		t.Errorf("replay must not double-credit, got %v", got)
	}
}

func TestDistribute_RetryAppliesOnlyMissingSide(t *testing.T) {
	f := newPaymentFixture(t)

	// Pre-create both accounts so the platform one can be failed.
	hospBal, _ := f.balanceRepo.FindOrCreate(context.Background(), "authority-1", "hosp-1")
	platBal, _ := f.balanceRepo.FindOrCreate(context.Background(), model.PlatformAccountID, "")
	f.balanceRepo.failNextIncrementFor = platBal.ID

	tx, err := f.service.Charge(context.Background(), "65f0000000000000000000b1", model.MethodCard, "4242", 0)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	// Capture succeeded; the platform leg of the distribution failed and
	// was logged. The hospital leg must be in place.
	if got, _ := f.balanceRepo.FindByID(context.Background(), hospBal.ID); got.CurrentBalance != 950 {
		t.Fatalf("expected hospital credited, got %v", got.CurrentBalance)
	}
	if got, _ := f.balanceRepo.FindByID(context.Background(), platBal.ID); got.CurrentBalance != 0 {
		t.Fatalf("expected platform leg missing, got %v", got.CurrentBalance)
	}

	if _, err := f.distributor.Distribute(context.Background(), tx.ID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if got, _ := f.balanceRepo.FindByID(context.Background(), hospBal.ID); got.CurrentBalance != 950 {
		t.Errorf("retry must not double-credit the hospital, got %v", got.CurrentBalance)
	}
	if got, _ := f.balanceRepo.FindByID(context.Background(), platBal.ID); got.CurrentBalance != 50 {
		t.Errorf("retry must apply the missing platform credit, got %v", got.CurrentBalance)
	}

	hospitalEntries, _ := f.ledgerRepo.FindByBalance(context.Background(), hospBal.ID, 100, 0)
	if len(hospitalEntries) != 1 {
		t.Errorf("expected exactly one hospital ledger entry, got %d", len(hospitalEntries))
	}
}

func TestCapture_ReplayWithSameReferenceIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)

	tx, err := f.service.RecordPaymentAttempt(context.Background(), "65f0000000000000000000b1", model.MethodCard, 0)
	if err != nil {
		t.Fatalf("record attempt failed: %v", err)
	}

	result := &model.GatewayResult{Success: true, Code: "CAPTURED", Reference: "ref-1"}
	first, err := f.service.Capture(context.Background(), tx.ID, result)
	if err != nil {
		t.Fatalf("first capture failed: %v", err)
	}

	second, err := f.service.Capture(context.Background(), tx.ID, result)
	if err != nil {
		t.Fatalf("replayed capture must succeed, got %v", err)
	}
	if second.Status != first.Status || second.GatewayReference != first.GatewayReference {
		t.Errorf("replay must return the settled transaction unchanged")
	}

	if got := f.hospitalBalance(t).CurrentBalance; got != 950 {
		t.Errorf("replay must not re-distribute, got %v", got)
	}
}

func TestCapture_DifferentReferenceAfterSettlementIsConflict(t *testing.T) {
	f := newPaymentFixture(t)

	tx, err := f.service.RecordPaymentAttempt(context.Background(), "65f0000000000000000000b1", model.MethodCard, 0)
	if err != nil {
		t.Fatalf("record attempt failed: %v", err)
	}

	if _, err := f.service.Capture(context.Background(), tx.ID, &model.GatewayResult{Success: true, Reference: "ref-1"}); err != nil {
		t.Fatalf("first capture failed: %v", err)
	}

	_, err = f.service.Capture(context.Background(), tx.ID, &model.GatewayResult{Success: true, Reference: "ref-2"})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT for a conflicting settlement, got %v", err)
	}
}

func TestRecordPaymentAttempt_UnknownMethod(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.service.RecordPaymentAttempt(context.Background(), "65f0000000000000000000b1", "cash", 0)
	if !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
