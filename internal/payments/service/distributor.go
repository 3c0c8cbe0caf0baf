package service

import (
	"context"
	"errors"
	"time"

	directoryservice "medbook/internal/directory/service"
	"medbook/internal/notifications"
	paymentserrors "medbook/internal/payments/errors"
	"medbook/internal/payments/repository"
	"medbook/pkg/config"
	apperrors "medbook/pkg/errors"
	"medbook/pkg/model"
	"medbook/pkg/money"

	"go.mongodb.org/mongo-driver/mongo"
)

// DistributionResult reports the split applied by a distribution run.
type DistributionResult struct {
	TransactionID     string  `json:"transaction_id"`
	HospitalAmount    float64 `json:"hospital_amount"`
	ServiceCharge     float64 `json:"service_charge"`
	HospitalBalanceID string  `json:"hospital_balance_id"`
	PlatformBalanceID string  `json:"platform_balance_id"`
}

// RevenueDistributor credits the hospital authority and the platform
// account for a completed transaction. Each side is idempotent on its own:
// a retry after a partial failure applies only the missing credit.
type RevenueDistributor interface {
	Distribute(ctx context.Context, transactionID string) (*DistributionResult, error)
	Reverse(ctx context.Context, tx *model.Transaction, hospitalRefund, serviceRefund float64, reason string) error
	GetBalance(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error)
	GetLedger(ctx context.Context, balanceID string, limit int, offset int64) ([]*model.BalanceTransaction, int64, error)
}

type revenueDistributor struct {
	txRepo      repository.TransactionRepository
	balanceRepo repository.BalanceRepository
	ledgerRepo  repository.LedgerRepository
	directory   directoryservice.DirectoryService
	publisher   notifications.Publisher
	cfg         *config.Config
}

func NewRevenueDistributor(
	txRepo repository.TransactionRepository,
	balanceRepo repository.BalanceRepository,
	ledgerRepo repository.LedgerRepository,
	directory directoryservice.DirectoryService,
	publisher notifications.Publisher,
	cfg *config.Config,
) RevenueDistributor {
	return &revenueDistributor{
		txRepo:      txRepo,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		directory:   directory,
		publisher:   publisher,
		cfg:         cfg,
	}
}

func (d *revenueDistributor) Distribute(ctx context.Context, transactionID string) (*DistributionResult, error) {
	tx, err := d.txRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, mapTransactionError(err, transactionID)
	}
	if tx.Status != model.TxCompleted {
		return nil, apperrors.Conflict("Only completed transactions can be distributed, status is " + tx.Status)
	}

	hospitalBalance, platformBalance, err := d.resolveAccounts(ctx, tx.HospitalID)
	if err != nil {
		return nil, err
	}

	hospitalDone, err := d.ledgerRepo.ExistsForReference(ctx, tx.ID, model.BalanceTxPaymentReceived, hospitalBalance.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to check distribution state", err)
	}
	platformDone, err := d.ledgerRepo.ExistsForReference(ctx, tx.ID, model.BalanceTxServiceCharge, platformBalance.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to check distribution state", err)
	}
	if hospitalDone && platformDone {
		return nil, apperrors.AlreadyDistributed(tx.ID)
	}

	if !hospitalDone {
		if err := d.applyCredit(ctx, hospitalBalance.UserID, hospitalBalance.HospitalID, tx.HospitalAmount, model.BalanceTxPaymentReceived, tx.ID, "Hospital share for booking "+tx.BookingID); err != nil {
			return nil, distributionFailure(err, tx.ID, false)
		}
	}
	if !platformDone {
		if err := d.applyCredit(ctx, platformBalance.UserID, platformBalance.HospitalID, tx.ServiceCharge, model.BalanceTxServiceCharge, tx.ID, "Service charge for booking "+tx.BookingID); err != nil {
			return nil, distributionFailure(err, tx.ID, true)
		}
	}

	d.cfg.Log.Info("Revenue distributed",
		"transaction_id", tx.ID,
		"hospital_id", tx.HospitalID,
		"hospital_amount", tx.HospitalAmount,
		"service_charge", tx.ServiceCharge,
	)

	d.publisher.PublishPaymentEvent(ctx, notifications.EventDistributionCompleted, notifications.NewPaymentEvent(tx, ""))

	return &DistributionResult{
		TransactionID:     tx.ID,
		HospitalAmount:    tx.HospitalAmount,
		ServiceCharge:     tx.ServiceCharge,
		HospitalBalanceID: hospitalBalance.ID,
		PlatformBalanceID: platformBalance.ID,
	}, nil
}

// Reverse debits both sides of an earlier distribution for a refund. Both
// legs carry the refund type, so the per-side idempotency key still holds.
func (d *revenueDistributor) Reverse(ctx context.Context, tx *model.Transaction, hospitalRefund, serviceRefund float64, reason string) error {
	hospitalBalance, platformBalance, err := d.resolveAccounts(ctx, tx.HospitalID)
	if err != nil {
		return err
	}

	hospitalDone, err := d.ledgerRepo.ExistsForReference(ctx, tx.ID, model.BalanceTxRefundProcessed, hospitalBalance.ID)
	if err != nil {
		return apperrors.Internal("Failed to check refund state", err)
	}
	platformDone, err := d.ledgerRepo.ExistsForReference(ctx, tx.ID, model.BalanceTxRefundProcessed, platformBalance.ID)
	if err != nil {
		return apperrors.Internal("Failed to check refund state", err)
	}
	if hospitalDone && platformDone {
		return apperrors.AlreadyDistributed(tx.ID)
	}

	if !hospitalDone {
		if err := d.applyCredit(ctx, hospitalBalance.UserID, hospitalBalance.HospitalID, -hospitalRefund, model.BalanceTxRefundProcessed, tx.ID, "Refund: "+reason); err != nil {
			return distributionFailure(err, tx.ID, false)
		}
	}
	if !platformDone {
		if err := d.applyCredit(ctx, platformBalance.UserID, platformBalance.HospitalID, -serviceRefund, model.BalanceTxRefundProcessed, tx.ID, "Refund: "+reason); err != nil {
			return distributionFailure(err, tx.ID, true)
		}
	}

	d.cfg.Log.Info("Distribution reversed",
		"transaction_id", tx.ID,
		"hospital_refund", hospitalRefund,
		"service_refund", serviceRefund,
	)
	return nil
}

func (d *revenueDistributor) GetBalance(ctx context.Context, userID, hospitalID string) (*model.UserBalance, error) {
	balance, err := d.balanceRepo.FindByUserAndHospital(ctx, userID, hospitalID)
	if err != nil {
		if errors.Is(err, paymentserrors.ErrBalanceNotFound) {
			return nil, apperrors.NotFound("Balance account")
		}
		return nil, apperrors.Internal("Failed to retrieve balance", err)
	}
	return balance, nil
}

func (d *revenueDistributor) GetLedger(ctx context.Context, balanceID string, limit int, offset int64) ([]*model.BalanceTransaction, int64, error) {
	entries, err := d.ledgerRepo.FindByBalance(ctx, balanceID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to retrieve ledger", err)
	}

	total, err := d.ledgerRepo.CountByBalance(ctx, balanceID)
	if err != nil {
		return nil, 0, apperrors.Internal("Failed to count ledger entries", err)
	}

	return entries, total, nil
}

// resolveAccounts finds the hospital authority's account and the platform
// account a distribution writes to.
func (d *revenueDistributor) resolveAccounts(ctx context.Context, hospitalID string) (*model.UserBalance, *model.UserBalance, error) {
	authorities, err := d.directory.GetHospitalAuthorities(ctx, hospitalID)
	if err != nil {
		return nil, nil, err
	}
	if len(authorities) == 0 {
		return nil, nil, apperrors.IntegrityViolation("Hospital has no authority account to credit", map[string]any{
			"hospital_id": hospitalID,
		})
	}

	hospitalBalance, err := d.balanceRepo.FindOrCreate(ctx, authorities[0].ID, hospitalID)
	if err != nil {
		return nil, nil, apperrors.Internal("Failed to resolve hospital balance account", err)
	}

	platformBalance, err := d.balanceRepo.FindOrCreate(ctx, model.PlatformAccountID, "")
	if err != nil {
		return nil, nil, apperrors.Internal("Failed to resolve platform balance account", err)
	}

	return hospitalBalance, platformBalance, nil
}

// applyCredit moves one side of a distribution: balance CAS plus the
// ledger append, committed together. Retries version misses with bounded
// backoff; a duplicate ledger entry means the side was already applied.
func (d *revenueDistributor) applyCredit(ctx context.Context, userID, hospitalID string, amount float64, txType, referenceTxID, notes string) error {
	var earningsDelta float64
	if amount > 0 {
		earningsDelta = amount
	}

	for attempt := 1; attempt <= d.cfg.AllocationAttempts; attempt++ {
		balance, err := d.balanceRepo.FindOrCreate(ctx, userID, hospitalID)
		if err != nil {
			return apperrors.Internal("Failed to load balance account", err)
		}

		err = d.txRepo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
			updated, err := d.balanceRepo.IncrementWithVersion(sessCtx, balance.ID, balance.Version, amount, earningsDelta, 0)
			if err != nil {
				return err
			}

			if !money.Equal(updated.CurrentBalance, money.Add(balance.CurrentBalance, amount)) {
				return apperrors.IntegrityViolation("Balance after credit does not match before + amount", map[string]any{
					"balance_id": balance.ID,
					"before":     balance.CurrentBalance,
					"after":      updated.CurrentBalance,
					"amount":     amount,
				})
			}

			return d.ledgerRepo.Insert(sessCtx, &model.BalanceTransaction{
				BalanceID:              balance.ID,
				Amount:                 amount,
				TransactionType:        txType,
				ReferenceTransactionID: referenceTxID,
				BalanceBefore:          balance.CurrentBalance,
				BalanceAfter:           updated.CurrentBalance,
				Status:                 model.TxCompleted,
				Notes:                  notes,
			})
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, paymentserrors.ErrDuplicateLedgerEntry) {
			// Another writer applied this side; the credit exists.
			return nil
		}
		if errors.Is(err, paymentserrors.ErrStaleBalance) {
			time.Sleep(d.cfg.AllocationBackoff * time.Duration(attempt))
			continue
		}
		if apperrors.IsAppError(err) {
			return err
		}
		return apperrors.Internal("Failed to apply balance credit", err)
	}

	return apperrors.ResourceContention("Balance account is under contention, retry the distribution", nil)
}

// distributionFailure attaches enough context for an operator or an
// idempotent retry to finish the missing half.
func distributionFailure(err error, transactionID string, hospitalCredited bool) error {
	appErr := apperrors.AsAppError(err)
	if appErr == nil {
		appErr = apperrors.Internal("Distribution failed", err)
	}
	return appErr.WithDetails(map[string]any{
		"transaction_id":    transactionID,
		"hospital_credited": hospitalCredited,
	})
}

func mapTransactionError(err error, id string) error {
	switch {
	case errors.Is(err, paymentserrors.ErrTransactionNotFound):
		return apperrors.NotFoundWithID("Transaction", id)
	case errors.Is(err, paymentserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid transaction ID: " + id)
	default:
		return apperrors.Internal("Failed to retrieve transaction", err)
	}
}
