package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// FinanceStore is the posting surface of the finance repository.
type FinanceStore interface {
	CreateTransactionTx(ctx context.Context, tx pgx.Tx, t *repository.LedgerTransaction) (bool, error)
	CreateInvoiceTx(ctx context.Context, tx pgx.Tx, inv *repository.TenantInvoice) (bool, error)
	ApplyStatementTx(ctx context.Context, tx pgx.Tx, st *repository.OwnerStatement) error
	ListTransactions(ctx context.Context, scope tenant.Scope, workOrderID string) ([]*repository.LedgerTransaction, error)
	GetStatement(ctx context.Context, scope tenant.Scope, ownerID, propertyID, period string) (*repository.OwnerStatement, error)
}

const invoiceDueDays = 30

// FinancePostingService posts closure records for a work order inside the
// closing transition's transaction. Implements FinancePoster.
type FinancePostingService struct {
	store FinanceStore
	log   *logger.Logger
	now   func() time.Time
}

// NewFinancePostingService creates a new FinancePostingService.
func NewFinancePostingService(store FinanceStore, log *logger.Logger) *FinancePostingService {
	return &FinancePostingService{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// PostClosure writes the expense ledger entry, the tenant invoice when the
// cost is chargeable, and the owner statement deltas. All writes share the
// caller's transaction and are idempotent per work order, so a replayed
// closing transition posts nothing twice.
func (s *FinancePostingService) PostClosure(ctx context.Context, tx pgx.Tx, wo *repository.WorkOrder) error {
	if wo.ZeroCost || wo.ActualCost == 0 {
		s.log.Info().Str("work_order_id", wo.ID).Msg("Zero-cost closure, nothing to post")
		return nil
	}

	now := s.now()
	period := now.Format("2006-01")

	txn := &repository.LedgerTransaction{
		OrganizationID: wo.OrganizationID,
		WorkOrderID:    wo.ID,
		PropertyID:     wo.PropertyID,
		OwnerID:        wo.OwnerID,
		Type:           repository.TxnExpense,
		Amount:         wo.ActualCost,
		Currency:       wo.Currency,
		Description:    fmt.Sprintf("Maintenance expense for work order %s", wo.ID),
	}
	created, err := s.store.CreateTransactionTx(ctx, tx, txn)
	if err != nil {
		return err
	}
	if !created {
		// Already posted by an earlier attempt of the same closure.
		return nil
	}

	statement := &repository.OwnerStatement{
		OrganizationID: wo.OrganizationID,
		OwnerID:        wo.OwnerID,
		PropertyID:     wo.PropertyID,
		Period:         period,
		TotalExpenses:  wo.ActualCost,
	}

	if wo.ChargeToTenant {
		if wo.TenantID == nil {
			return errors.New(errors.ErrCodeInvalidInput,
				"work order is chargeable to tenant but has no tenant")
		}
		invoice := &repository.TenantInvoice{
			OrganizationID: wo.OrganizationID,
			WorkOrderID:    wo.ID,
			TenantID:       *wo.TenantID,
			Amount:         wo.ActualCost,
			Currency:       wo.Currency,
			Status:         "open",
			IssuedAt:       now,
			DueAt:          now.Add(invoiceDueDays * 24 * time.Hour),
		}
		if _, err := s.store.CreateInvoiceTx(ctx, tx, invoice); err != nil {
			return err
		}
		statement.TotalCharges = wo.ActualCost
	}

	if err := s.store.ApplyStatementTx(ctx, tx, statement); err != nil {
		return err
	}

	s.log.Info().
		Str("work_order_id", wo.ID).
		Int64("amount", wo.ActualCost).
		Bool("charged_to_tenant", wo.ChargeToTenant).
		Msg("Closure posted to finance")
	return nil
}

// ListTransactions returns a work order's ledger entries.
func (s *FinancePostingService) ListTransactions(ctx context.Context, scope tenant.Scope, workOrderID string) ([]*repository.LedgerTransaction, error) {
	return s.store.ListTransactions(ctx, scope, workOrderID)
}

// GetOwnerStatement returns one monthly owner statement.
func (s *FinancePostingService) GetOwnerStatement(ctx context.Context, scope tenant.Scope, ownerID, propertyID, period string) (*repository.OwnerStatement, error) {
	return s.store.GetStatement(ctx, scope, ownerID, propertyID, period)
}
