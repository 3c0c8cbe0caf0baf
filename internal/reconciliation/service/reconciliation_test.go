package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"medbook/internal/notifications"
	paymentserrors "medbook/internal/payments/errors"
	paymentsrepo "medbook/internal/payments/repository"
	reconciliationerrors "medbook/internal/reconciliation/errors"
	"medbook/pkg/config"
	mongotx "medbook/pkg/db/mongo"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/logger"
	"medbook/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
)

type fakeTxRepo struct {
	txs []*model.Transaction
}

func (f *fakeTxRepo) Create(ctx context.Context, tx *model.Transaction) error { return nil }

func (f *fakeTxRepo) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	return nil, paymentserrors.ErrTransactionNotFound
}

func (f *fakeTxRepo) FindAll(ctx context.Context, filter paymentsrepo.TransactionFilter, limit int, offset int64) ([]*model.Transaction, error) {
	return f.txs, nil
}

func (f *fakeTxRepo) Count(ctx context.Context, filter paymentsrepo.TransactionFilter) (int64, error) {
	return int64(len(f.txs)), nil
}

func (f *fakeTxRepo) FindCompletedInWindow(ctx context.Context, start, end time.Time) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for _, tx := range f.txs {
		if !tx.CreatedAt.Before(start) && tx.CreatedAt.Before(end) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeTxRepo) UpdateWithStatusPrecondition(ctx context.Context, id, fromStatus string, set bson.M) (*model.Transaction, error) {
	return nil, paymentserrors.ErrStaleTransaction
}

func (f *fakeTxRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

type fakeBalanceRepo struct {
	balances map[string]*model.UserBalance
}

func (f *fakeBalanceRepo) FindByID(ctx context.Context, id string) (*model.UserBalance, error) {
	bal, ok := f.balances[id]
	if !ok {
		return nil, paymentserrors.ErrBalanceNotFound
	}
	cp := *bal
	return &cp, nil
}

func (f *fakeBalanceRepo) FindByUserAndHospital(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error) {
	for _, bal := range f.balances {
		if bal.UserID == userID && bal.HospitalID == hospitalID {
			cp := *bal
			return &cp, nil
		}
	}
	return nil, paymentserrors.ErrBalanceNotFound
}

func (f *fakeBalanceRepo) FindOrCreate(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error) {
	return f.FindByUserAndHospital(ctx, userID, hospitalID)
}

func (f *fakeBalanceRepo) FindAll(ctx context.Context) ([]*model.UserBalance, error) {
	var out []*model.UserBalance
	for _, bal := range f.balances {
		cp := *bal
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeBalanceRepo) IncrementWithVersion(ctx context.Context, id string, expectedVersion int64, amount, earningsDelta, withdrawalsDelta float64) (*model.UserBalance, error) {
	bal, ok := f.balances[id]
	if !ok || bal.Version != expectedVersion {
		return nil, paymentserrors.ErrStaleBalance
	}
	bal.CurrentBalance += amount
	bal.Version++
	cp := *bal
	return &cp, nil
}

func (f *fakeBalanceRepo) SetBalanceWithVersion(ctx context.Context, id string, expectedVersion int64, newBalance float64) (*model.UserBalance, error) {
	bal, ok := f.balances[id]
	if !ok || bal.Version != expectedVersion {
		return nil, paymentserrors.ErrStaleBalance
	}
	bal.CurrentBalance = newBalance
	bal.Version++
	cp := *bal
	return &cp, nil
}

type fakeLedgerRepo struct {
	entries []*model.BalanceTransaction
}

func (f *fakeLedgerRepo) Insert(ctx context.Context, entry *model.BalanceTransaction) error {
	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeLedgerRepo) ExistsForReference(ctx context.Context, referenceTransactionID, transactionType, balanceID string) (bool, error) {
	for _, entry := range f.entries {
		if entry.ReferenceTransactionID == referenceTransactionID &&
			entry.TransactionType == transactionType &&
			entry.BalanceID == balanceID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedgerRepo) FindByBalance(ctx context.Context, balanceID string, limit int, offset int64) ([]*model.BalanceTransaction, error) {
	var out []*model.BalanceTransaction
	for _, entry := range f.entries {
		if entry.BalanceID == balanceID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) CountByBalance(ctx context.Context, balanceID string) (int64, error) {
	entries, _ := f.FindByBalance(ctx, balanceID, 0, 0)
	return int64(len(entries)), nil
}

func (f *fakeLedgerRepo) FindByBalanceInWindow(ctx context.Context, balanceID string, start, end time.Time) ([]*model.BalanceTransaction, error) {
	var out []*model.BalanceTransaction
	for _, entry := range f.entries {
		if entry.BalanceID == balanceID && !entry.CreatedAt.Before(start) && entry.CreatedAt.Before(end) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) FindLatestBefore(ctx context.Context, balanceID string, before time.Time) (*model.BalanceTransaction, error) {
	var latest *model.BalanceTransaction
	for _, entry := range f.entries {
		if entry.BalanceID != balanceID || entry.CreatedAt.After(before) {
			continue
		}
		if latest == nil || entry.CreatedAt.After(latest.CreatedAt) {
			latest = entry
		}
	}
	return latest, nil
}

type fakeReconRepo struct {
	seq         int
	records     []*model.ReconciliationRecord
	alerts      map[string]*model.DiscrepancyAlert
	corrections []*model.BalanceCorrection
}

func newFakeReconRepo() *fakeReconRepo {
	return &fakeReconRepo{alerts: map[string]*model.DiscrepancyAlert{}}
}

func (f *fakeReconRepo) InsertRecord(ctx context.Context, record *model.ReconciliationRecord) error {
	f.seq++
	record.ID = fmt.Sprintf("rec-%04d", f.seq)
	f.records = append(f.records, record)
	return nil
}

func (f *fakeReconRepo) FindRecords(ctx context.Context, limit int, offset int64) ([]*model.ReconciliationRecord, error) {
	return f.records, nil
}

func (f *fakeReconRepo) CountRecords(ctx context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

func (f *fakeReconRepo) InsertAlert(ctx context.Context, alert *model.DiscrepancyAlert) error {
	f.seq++
	alert.ID = fmt.Sprintf("alr-%04d", f.seq)
	f.alerts[alert.ID] = alert
	return nil
}

func (f *fakeReconRepo) FindAlertByID(ctx context.Context, id string) (*model.DiscrepancyAlert, error) {
	alert, ok := f.alerts[id]
	if !ok {
		return nil, reconciliationerrors.ErrAlertNotFound
	}
	return alert, nil
}

func (f *fakeReconRepo) FindAlertsByStatus(ctx context.Context, status string, limit int, offset int64) ([]*model.DiscrepancyAlert, error) {
	var out []*model.DiscrepancyAlert
	for _, alert := range f.alerts {
		if status == "" || alert.Status == status {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (f *fakeReconRepo) ResolveAlert(ctx context.Context, id, resolvedBy, notes string) (*model.DiscrepancyAlert, error) {
	alert, ok := f.alerts[id]
	if !ok || alert.Status != model.AlertOpen {
		return nil, reconciliationerrors.ErrAlertNotOpen
	}
	now := time.Now().UTC()
	alert.Status = model.AlertResolved
	alert.ResolvedBy = resolvedBy
	alert.ResolvedAt = &now
	alert.ResolutionNotes = notes
	return alert, nil
}

func (f *fakeReconRepo) InsertCorrection(ctx context.Context, correction *model.BalanceCorrection) error {
	f.corrections = append(f.corrections, correction)
	return nil
}

func (f *fakeReconRepo) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

type fakeDirectory struct {
	authorities map[string][]*model.User
}

func (d *fakeDirectory) GetHospital(ctx context.Context, id string) (*model.Hospital, error) {
	return &model.Hospital{ID: id, Active: true}, nil
}

func (d *fakeDirectory) GetUser(ctx context.Context, id string) (*model.User, error) {
	return &model.User{ID: id}, nil
}

func (d *fakeDirectory) GetHospitalAuthorities(ctx context.Context, hospitalID string) ([]*model.User, error) {
	return d.authorities[hospitalID], nil
}

func (d *fakeDirectory) ServiceChargeRate(ctx context.Context, hospitalID string) (float64, error) {
	return 0.05, nil
}

type reconFixture struct {
	txRepo      *fakeTxRepo
	balanceRepo *fakeBalanceRepo
	ledgerRepo  *fakeLedgerRepo
	reconRepo   *fakeReconRepo
	service     ReconciliationService

	day       time.Time
	hospBalID string
	platBalID string
}

func newReconFixture(t *testing.T) *reconFixture {
	t.Helper()

	cfg := &config.Config{
		Log: logger.New(logger.Config{
			Level:   "error",
			Format:  logger.JSON,
			Service: "test",
		}),
		HighSeverityAmount: 1000,
	}

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	f := &reconFixture{
		txRepo: &fakeTxRepo{},
		balanceRepo: &fakeBalanceRepo{balances: map[string]*model.UserBalance{
			"bal-hosp": {ID: "bal-hosp", UserID: "authority-1", HospitalID: "hosp-1", CurrentBalance: 950, Version: 2},
			"bal-plat": {ID: "bal-plat", UserID: model.PlatformAccountID, CurrentBalance: 50, Version: 2},
		}},
		ledgerRepo: &fakeLedgerRepo{},
		reconRepo:  newFakeReconRepo(),
		day:        day,
		hospBalID:  "bal-hosp",
		platBalID:  "bal-plat",
	}

	directory := &fakeDirectory{authorities: map[string][]*model.User{
		"hosp-1": {{ID: "authority-1", Role: model.RoleHospitalAuthority, HospitalID: "hosp-1"}},
	}}

	f.service = NewReconciliationService(f.reconRepo, f.txRepo, f.balanceRepo, f.ledgerRepo, directory, notifications.NoopPublisher{}, cfg)
	return f
}

// seedSettledDay writes one completed 1000-unit transaction with its two
// distribution ledger entries inside the fixture day.
func (f *reconFixture) seedSettledDay() {
	at := f.day.Add(10 * time.Hour)
	f.txRepo.txs = append(f.txRepo.txs, &model.Transaction{
		ID:             "tx-1",
		BookingID:      "bk-1",
		HospitalID:     "hosp-1",
		Amount:         1000,
		HospitalAmount: 950,
		ServiceCharge:  50,
		Status:         model.TxCompleted,
		CreatedAt:      at,
	})
	f.ledgerRepo.entries = append(f.ledgerRepo.entries,
		&model.BalanceTransaction{
			BalanceID:              "bal-hosp",
			Amount:                 950,
			TransactionType:        model.BalanceTxPaymentReceived,
			ReferenceTransactionID: "tx-1",
			BalanceBefore:          0,
			BalanceAfter:           950,
			CreatedAt:              at,
		},
		&model.BalanceTransaction{
			BalanceID:              "bal-plat",
			Amount:                 50,
			TransactionType:        model.BalanceTxServiceCharge,
			ReferenceTransactionID: "tx-1",
			BalanceBefore:          0,
			BalanceAfter:           50,
			CreatedAt:              at,
		},
	)
}

func TestRunDailyReconciliation_CleanDay(t *testing.T) {
	f := newReconFixture(t)
	f.seedSettledDay()

	record, alerts, err := f.service.RunDailyReconciliation(context.Background(), f.day, "admin-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if record.Status != model.ReconciliationClean {
		t.Errorf("expected RECONCILED, got %s", record.Status)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
	if record.TransactionsChecked != 1 || record.AccountsChecked != 2 {
		t.Errorf("expected 1 transaction and 2 accounts checked, got %d/%d",
			record.TransactionsChecked, record.AccountsChecked)
	}
}

func TestRunDailyReconciliation_DriftRaisesMediumAlert(t *testing.T) {
	f := newReconFixture(t)
	f.seedSettledDay()

	// The hospital credit landed short by 50.
	f.ledgerRepo.entries[0].Amount = 900
	f.ledgerRepo.entries[0].BalanceAfter = 900

	record, alerts, err := f.service.RunDailyReconciliation(context.Background(), f.day, "admin-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if record.Status != model.ReconciliationDiscrepancy {
		t.Fatalf("expected DISCREPANCY_FOUND, got %s", record.Status)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.BalanceID != f.hospBalID {
		t.Errorf("expected the hospital account flagged, got %s", alert.BalanceID)
	}
	if alert.ExpectedBalance != 950 || alert.ActualBalance != 900 {
		t.Errorf("expected 950 vs 900, got %v vs %v", alert.ExpectedBalance, alert.ActualBalance)
	}
	if alert.Difference != -50 {
		t.Errorf("expected difference -50, got %v", alert.Difference)
	}
	if alert.Severity != model.SeverityMedium {
		t.Errorf("expected MEDIUM severity, got %s", alert.Severity)
	}
	if alert.ReconciliationID != record.ID {
		t.Errorf("alert must reference the run record")
	}
}

func TestRunDailyReconciliation_LargeDriftIsHighSeverity(t *testing.T) {
	f := newReconFixture(t)
	f.seedSettledDay()

	// An unexplained 2000-unit credit on the platform account.
	f.ledgerRepo.entries = append(f.ledgerRepo.entries, &model.BalanceTransaction{
		BalanceID:     "bal-plat",
		Amount:        2000,
		BalanceBefore: 50,
		BalanceAfter:  2050,
		CreatedAt:     f.day.Add(12 * time.Hour),
	})

	_, alerts, err := f.service.RunDailyReconciliation(context.Background(), f.day, "admin-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Severity != model.SeverityHigh {
		t.Errorf("expected HIGH severity for a 2000 drift, got %s", alerts[0].Severity)
	}
}

func TestRunDailyReconciliation_RefundAccounted(t *testing.T) {
	f := newReconFixture(t)
	f.seedSettledDay()

	// The transaction was refunded 200 during the day and both reversal
	// legs hit the ledger: 190 hospital, 10 platform.
	at := f.day.Add(15 * time.Hour)
	f.txRepo.txs[0].Status = model.TxRefunded
	f.txRepo.txs[0].RefundAmount = 200
	f.ledgerRepo.entries = append(f.ledgerRepo.entries,
		&model.BalanceTransaction{
			BalanceID:              "bal-hosp",
			Amount:                 -190,
			TransactionType:        model.BalanceTxRefundProcessed,
			ReferenceTransactionID: "tx-1",
			BalanceBefore:          950,
			BalanceAfter:           760,
			CreatedAt:              at,
		},
		&model.BalanceTransaction{
			BalanceID:              "bal-plat",
			Amount:                 -10,
			TransactionType:        model.BalanceTxRefundProcessed,
			ReferenceTransactionID: "tx-1",
			BalanceBefore:          50,
			BalanceAfter:           40,
			CreatedAt:              at,
		},
	)

	record, alerts, err := f.service.RunDailyReconciliation(context.Background(), f.day, "admin-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if record.Status != model.ReconciliationClean {
		t.Errorf("a fully reversed refund must reconcile clean, got %s with %d alerts", record.Status, len(alerts))
	}
}

func TestCorrectBalance_StaleStatedBalance(t *testing.T) {
	f := newReconFixture(t)

	_, err := f.service.CorrectBalance(context.Background(), f.hospBalID, 900, 950, "operator typo", "admin-1")
	if !apperrors.HasCode(err, apperrors.CodeStaleCorrection) {
		t.Fatalf("expected STALE_CORRECTION, got %v", err)
	}
	if len(f.reconRepo.corrections) != 0 {
		t.Error("no correction may be recorded on a stale request")
	}
}

func TestCorrectBalance_Success(t *testing.T) {
	f := newReconFixture(t)

	updated, err := f.service.CorrectBalance(context.Background(), f.hospBalID, 950, 1000, "missing distribution leg", "admin-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if updated.CurrentBalance != 1000 {
		t.Errorf("expected corrected balance 1000, got %v", updated.CurrentBalance)
	}
	if len(f.reconRepo.corrections) != 1 {
		t.Fatalf("expected 1 correction audit row, got %d", len(f.reconRepo.corrections))
	}
	correction := f.reconRepo.corrections[0]
	if correction.PreviousBalance != 950 || correction.CorrectedBalance != 1000 {
		t.Errorf("expected 950 -> 1000 audited, got %v -> %v", correction.PreviousBalance, correction.CorrectedBalance)
	}

	entries, _ := f.ledgerRepo.FindByBalance(context.Background(), f.hospBalID, 0, 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 adjustment ledger entry, got %d", len(entries))
	}
	if entries[0].TransactionType != model.BalanceTxAdjustment || entries[0].Amount != 50 {
		t.Errorf("expected +50 adjustment, got %s %v", entries[0].TransactionType, entries[0].Amount)
	}
}

func TestCorrectBalance_RequiresReason(t *testing.T) {
	f := newReconFixture(t)

	_, err := f.service.CorrectBalance(context.Background(), f.hospBalID, 950, 1000, "  ", "admin-1")
	if !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestResolveDiscrepancy_SecondResolveConflicts(t *testing.T) {
	f := newReconFixture(t)

	alert := &model.DiscrepancyAlert{
		BalanceID: f.hospBalID,
		Severity:  model.SeverityMedium,
		Status:    model.AlertOpen,
	}
	if err := f.reconRepo.InsertAlert(context.Background(), alert); err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	resolved, err := f.service.ResolveDiscrepancy(context.Background(), alert.ID, "admin-1", "manual credit applied")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resolved.Status != model.AlertResolved || resolved.ResolvedBy != "admin-1" {
		t.Errorf("expected resolved by admin-1, got %+v", resolved)
	}

	_, err = f.service.ResolveDiscrepancy(context.Background(), alert.ID, "admin-2", "again")
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT on second resolve, got %v", err)
	}
}
