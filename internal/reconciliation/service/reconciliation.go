package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	directoryservice "medbook/internal/directory/service"
	"medbook/internal/notifications"
	paymentserrors "medbook/internal/payments/errors"
	paymentsrepo "medbook/internal/payments/repository"
	reconciliationerrors "medbook/internal/reconciliation/errors"
	"medbook/internal/reconciliation/repository"
	"medbook/pkg/config"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/model"
	"medbook/pkg/money"

	"go.mongodb.org/mongo-driver/mongo"
)

// ReconciliationService replays a day of settled transactions against the
// balance ledger and flags accounts that drifted beyond tolerance.
type ReconciliationService interface {
	RunDailyReconciliation(ctx context.Context, date time.Time, runBy string) (*model.ReconciliationRecord, []*model.DiscrepancyAlert, error)
	CorrectBalance(ctx context.Context, balanceID string, currentBalance, correctBalance float64, reason, operator string) (*model.UserBalance, error)
	GetRecords(ctx context.Context, limit int, offset int64) ([]*model.ReconciliationRecord, int64, error)
	GetOutstandingDiscrepancies(ctx context.Context, limit int, offset int64) ([]*model.DiscrepancyAlert, error)
	ResolveDiscrepancy(ctx context.Context, alertID, resolvedBy, notes string) (*model.DiscrepancyAlert, error)
}

type reconciliationService struct {
	repo        repository.ReconciliationRepository
	txRepo      paymentsrepo.TransactionRepository
	balanceRepo paymentsrepo.BalanceRepository
	ledgerRepo  paymentsrepo.LedgerRepository
	directory   directoryservice.DirectoryService
	publisher   notifications.Publisher
	cfg         *config.Config
}

func NewReconciliationService(
	repo repository.ReconciliationRepository,
	txRepo paymentsrepo.TransactionRepository,
	balanceRepo paymentsrepo.BalanceRepository,
	ledgerRepo paymentsrepo.LedgerRepository,
	directory directoryservice.DirectoryService,
	publisher notifications.Publisher,
	cfg *config.Config,
) ReconciliationService {
	return &reconciliationService{
		repo:        repo,
		txRepo:      txRepo,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		directory:   directory,
		publisher:   publisher,
		cfg:         cfg,
	}
}

func (s *reconciliationService) RunDailyReconciliation(ctx context.Context, date time.Time, runBy string) (*model.ReconciliationRecord, []*model.DiscrepancyAlert, error) {
	periodStart := date.UTC().Truncate(24 * time.Hour)
	periodEnd := periodStart.Add(24 * time.Hour)

	transactions, err := s.txRepo.FindCompletedInWindow(ctx, periodStart, periodEnd)
	if err != nil {
		return nil, nil, apperrors.Internal("Failed to load settled transactions", err)
	}

	expectedDeltas, err := s.expectedDeltas(ctx, transactions)
	if err != nil {
		return nil, nil, err
	}

	balances, err := s.balanceRepo.FindAll(ctx)
	if err != nil {
		return nil, nil, apperrors.Internal("Failed to load balance accounts", err)
	}

	var alerts []*model.DiscrepancyAlert
	for _, balance := range balances {
		alert, err := s.checkAccount(ctx, balance, expectedDeltas[balance.ID], periodStart, periodEnd)
		if err != nil {
			return nil, nil, err
		}
		if alert != nil {
			alerts = append(alerts, alert)
		}
	}

	status := model.ReconciliationClean
	if len(alerts) > 0 {
		status = model.ReconciliationDiscrepancy
	}

	record := &model.ReconciliationRecord{
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Status:              status,
		TransactionsChecked: len(transactions),
		AccountsChecked:     len(balances),
		AlertsRaised:        len(alerts),
		RunBy:               runBy,
	}
	if err := s.repo.InsertRecord(ctx, record); err != nil {
		return nil, nil, apperrors.Internal("Failed to persist reconciliation record", err)
	}

	for _, alert := range alerts {
		alert.ReconciliationID = record.ID
		if err := s.repo.InsertAlert(ctx, alert); err != nil {
			return nil, nil, apperrors.Internal("Failed to persist discrepancy alert", err)
		}

		s.publisher.PublishDiscrepancyEvent(ctx, notifications.DiscrepancyEvent{
			AlertID:         alert.ID,
			BalanceID:       alert.BalanceID,
			ExpectedBalance: alert.ExpectedBalance,
			ActualBalance:   alert.ActualBalance,
			Difference:      alert.Difference,
			Severity:        alert.Severity,
			OccurredAt:      time.Now().UTC(),
		})
	}

	s.cfg.Log.Info("Reconciliation run finished",
		"period_start", periodStart,
		"status", status,
		"transactions_checked", len(transactions),
		"accounts_checked", len(balances),
		"alerts_raised", len(alerts),
	)

	return record, alerts, nil
}

// expectedDeltas derives per-account signed contributions from the day's
// settled transactions: the hospital authority earns the hospital share,
// the platform earns the service charge, refunds reverse both
// proportionally.
func (s *reconciliationService) expectedDeltas(ctx context.Context, transactions []*model.Transaction) (map[string]float64, error) {
	deltas := map[string]float64{}

	platformBalance, err := s.balanceRepo.FindByUserAndHospital(ctx, model.PlatformAccountID, "")
	if err != nil && !errors.Is(err, paymentserrors.ErrBalanceNotFound) {
		return nil, apperrors.Internal("Failed to resolve platform account", err)
	}

	hospitalAccounts := map[string]string{}
	for _, tx := range transactions {
		balanceID, ok := hospitalAccounts[tx.HospitalID]
		if !ok {
			balanceID, err = s.hospitalBalanceID(ctx, tx.HospitalID)
			if err != nil {
				return nil, err
			}
			hospitalAccounts[tx.HospitalID] = balanceID
		}

		if balanceID != "" {
			deltas[balanceID] = money.Add(deltas[balanceID], tx.HospitalAmount)
		}
		if platformBalance != nil {
			deltas[platformBalance.ID] = money.Add(deltas[platformBalance.ID], tx.ServiceCharge)
		}

		if tx.Status == model.TxRefunded {
			hospitalRefund, serviceRefund := money.RefundSplit(tx.RefundAmount, tx.Amount, tx.ServiceCharge)
			if balanceID != "" {
				deltas[balanceID] = money.Sub(deltas[balanceID], hospitalRefund)
			}
			if platformBalance != nil {
				deltas[platformBalance.ID] = money.Sub(deltas[platformBalance.ID], serviceRefund)
			}
		}
	}

	return deltas, nil
}

// hospitalBalanceID resolves the authority account credited for a
// hospital's transactions. A hospital without an account means nothing
// was ever distributed to it; its expected delta is carried by no one and
// the missing credit shows up on the distribution side instead.
func (s *reconciliationService) hospitalBalanceID(ctx context.Context, hospitalID string) (string, error) {
	authorities, err := s.directory.GetHospitalAuthorities(ctx, hospitalID)
	if err != nil {
		return "", err
	}
	if len(authorities) == 0 {
		s.cfg.Log.Warn("Hospital has no authority account", "hospital_id", hospitalID)
		return "", nil
	}

	balance, err := s.balanceRepo.FindByUserAndHospital(ctx, authorities[0].ID, hospitalID)
	if err != nil {
		if errors.Is(err, paymentserrors.ErrBalanceNotFound) {
			s.cfg.Log.Warn("Hospital authority has no balance account",
				"hospital_id", hospitalID,
				"user_id", authorities[0].ID,
			)
			return "", nil
		}
		return "", apperrors.Internal("Failed to resolve hospital balance account", err)
	}
	return balance.ID, nil
}

func (s *reconciliationService) checkAccount(ctx context.Context, balance *model.UserBalance, expectedDelta float64, periodStart, periodEnd time.Time) (*model.DiscrepancyAlert, error) {
	baseline, err := s.ledgerRepo.FindLatestBefore(ctx, balance.ID, periodStart)
	if err != nil {
		return nil, apperrors.Internal("Failed to load baseline ledger entry", err)
	}
	var balanceBefore float64
	if baseline != nil {
		balanceBefore = baseline.BalanceAfter
	}

	expected := money.Add(balanceBefore, expectedDelta)

	latest, err := s.ledgerRepo.FindLatestBefore(ctx, balance.ID, periodEnd)
	if err != nil {
		return nil, apperrors.Internal("Failed to load latest ledger entry", err)
	}
	actual := balanceBefore
	if latest != nil {
		actual = latest.BalanceAfter
	}

	discrepancy := money.Diff(actual, expected)
	if math.Abs(discrepancy) <= money.Tolerance {
		return nil, nil
	}

	severity := model.SeverityMedium
	if math.Abs(discrepancy) > s.cfg.HighSeverityAmount {
		severity = model.SeverityHigh
	}

	return &model.DiscrepancyAlert{
		BalanceID:       balance.ID,
		ExpectedBalance: expected,
		ActualBalance:   actual,
		Difference:      discrepancy,
		Severity:        severity,
		Status:          model.AlertOpen,
	}, nil
}

// CorrectBalance is the one path allowed to bypass transaction-driven
// balance mutation. The caller's view of the current balance must match
// the live one; the correction is audited twice, as a BalanceCorrection
// row and as an adjustment ledger entry.
func (s *reconciliationService) CorrectBalance(ctx context.Context, balanceID string, currentBalance, correctBalance float64, reason, operator string) (*model.UserBalance, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.InvalidInput("A reason is required for a balance correction")
	}
	if operator == "" {
		return nil, apperrors.InvalidInput("Operator is required for a balance correction")
	}

	balance, err := s.balanceRepo.FindByID(ctx, balanceID)
	if err != nil {
		if errors.Is(err, paymentserrors.ErrBalanceNotFound) {
			return nil, apperrors.NotFoundWithID("Balance account", balanceID)
		}
		return nil, apperrors.Internal("Failed to load balance account", err)
	}

	if !money.Equal(balance.CurrentBalance, currentBalance) {
		return nil, apperrors.StaleCorrection("The account balance changed since it was read", map[string]any{
			"balance_id":     balanceID,
			"live_balance":   balance.CurrentBalance,
			"stated_balance": currentBalance,
		})
	}

	adjustment := money.Sub(correctBalance, balance.CurrentBalance)

	var updated *model.UserBalance
	err = s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		updated, err = s.balanceRepo.SetBalanceWithVersion(sessCtx, balance.ID, balance.Version, money.Round2(correctBalance))
		if err != nil {
			if errors.Is(err, paymentserrors.ErrStaleBalance) {
				return apperrors.StaleCorrection("The account balance changed during the correction", map[string]any{
					"balance_id": balanceID,
				})
			}
			return apperrors.Internal("Failed to set corrected balance", err)
		}

		if err := s.repo.InsertCorrection(sessCtx, &model.BalanceCorrection{
			BalanceID:        balance.ID,
			PreviousBalance:  balance.CurrentBalance,
			CorrectedBalance: updated.CurrentBalance,
			Reason:           reason,
			Operator:         operator,
		}); err != nil {
			return apperrors.Internal("Failed to record balance correction", err)
		}

		return s.ledgerRepo.Insert(sessCtx, &model.BalanceTransaction{
			BalanceID:       balance.ID,
			Amount:          adjustment,
			TransactionType: model.BalanceTxAdjustment,
			BalanceBefore:   balance.CurrentBalance,
			BalanceAfter:    updated.CurrentBalance,
			Status:          model.TxCompleted,
			Notes:           "Correction by " + operator + ": " + reason,
		})
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Internal("Failed to correct balance", err)
	}

	s.cfg.Log.Info("Balance corrected",
		"balance_id", balanceID,
		"previous_balance", balance.CurrentBalance,
		"corrected_balance", updated.CurrentBalance,
		"operator", operator,
	)

	return updated, nil
}

func (s *reconciliationService) GetRecords(ctx context.Context, limit int, offset int64) ([]*model.ReconciliationRecord, int64, error) {
	records, err := s.repo.FindRecords(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to retrieve reconciliation records", err)
	}

	total, err := s.repo.CountRecords(ctx)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to count reconciliation records", err)
	}

	return records, total, nil
}

func (s *reconciliationService) GetOutstandingDiscrepancies(ctx context.Context, limit int, offset int64) ([]*model.DiscrepancyAlert, error) {
	alerts, err := s.repo.FindAlertsByStatus(ctx, model.AlertOpen, limit, offset)
	if err != nil {
		return nil, apperrors.Internal("Failed to retrieve open alerts", err)
	}
	return alerts, nil
}

func (s *reconciliationService) ResolveDiscrepancy(ctx context.Context, alertID, resolvedBy, notes string) (*model.DiscrepancyAlert, error) {
	if resolvedBy == "" {
		return nil, apperrors.InvalidInput("Resolver is required")
	}

	alert, err := s.repo.ResolveAlert(ctx, alertID, resolvedBy, notes)
	if err != nil {
		switch {
		case errors.Is(err, reconciliationerrors.ErrAlertNotOpen):
			return nil, apperrors.Conflict("Alert is not open")
		case errors.Is(err, reconciliationerrors.ErrInvalidID):
			return nil, apperrors.InvalidInput("Invalid alert ID: " + alertID)
		default:
			return nil, apperrors.Internal("Failed to resolve alert", err)
		}
	}

	s.cfg.Log.Info("Discrepancy alert resolved",
		"alert_id", alertID,
		"resolved_by", resolvedBy,
	)
	return alert, nil
}
